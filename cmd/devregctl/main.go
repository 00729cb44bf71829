// Devregctl - Device Registry Control Tool
//
// A CLI for inspecting and exercising the distributed device registry:
// device and product records, session state, entity configuration, and the
// cross-node command dispatch plane.
//
//	devregctl device list
//	devregctl device show d-1001
//	devregctl device online d-1001 node-1 sess-1
//	devregctl config set d-1001 reportInterval 30
//	devregctl send invoke d-1001 setColor color=red
//	devregctl gateway node-1 d-1001
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/coordination"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/settings"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/version"
)

// App holds CLI state shared across all commands.
type App struct {
	// Option flags
	configPath string
	redisAddr  string
	redisDB    int
	logLevel   string
	jsonOutput bool
	askPass    bool

	// Initialized state (set in PersistentPreRunE)
	settings *settings.Settings
	store    *coordination.Client
	registry *device.Registry
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "devregctl",
	Short:             "Device Registry Control Tool",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Devregctl inspects and exercises the distributed device registry.

Commands are organized by resource (device, product, config, send, gateway).
All state lives in the shared Redis store, so the tool can run on any node.

  devregctl device list
  devregctl device online d-1001 node-1 sess-1
  devregctl config set d-1001 reportInterval 30
  devregctl send invoke d-1001 setColor color=red
  devregctl gateway node-1 d-1001`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if err := util.SetLogLevel(app.logLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", app.logLevel, err)
		}

		var err error
		if app.configPath != "" {
			app.settings, err = settings.LoadFrom(app.configPath)
		} else {
			app.settings, err = settings.Load()
		}
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		addr := app.settings.GetRedisAddr()
		if app.redisAddr != "" {
			addr = app.redisAddr
		}
		db := app.settings.Redis.DB
		if cmd.Flags().Changed("db") {
			db = app.redisDB
		}

		password := app.settings.Redis.Password
		if app.askPass {
			fmt.Fprint(os.Stderr, "Redis password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			password = string(raw)
		}

		app.store = coordination.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		if err := app.store.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("connecting to %s: %w", addr, err)
		}

		app.registry = device.NewRegistry(app.store, nil, device.Options{
			MaxAwait:          app.settings.MaxAwait(),
			ReplyTTLPadding:   app.settings.ReplyTTLPadding(),
			StateCheckTimeout: app.settings.StateCheckTimeout(),
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app.store != nil {
			app.store.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("devregctl " + version.String())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&app.configPath, "config", "c", "", "settings file (default ~/.devreg/config.yaml)")
	pf.StringVarP(&app.redisAddr, "redis", "r", "", "Redis address (overrides settings)")
	pf.IntVar(&app.redisDB, "db", 0, "Redis database (overrides settings)")
	pf.StringVar(&app.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.BoolVar(&app.jsonOutput, "json", false, "JSON output where supported")
	pf.BoolVar(&app.askPass, "ask-pass", false, "prompt for the Redis password")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(productCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(gatewayCmd)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/cli"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
)

var configProductScope bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Entity configuration (device scope by default, --product for product scope)",
}

// configStore resolves the target scope for an entity id.
func configStore(id string) *device.ConfigStore {
	if configProductScope {
		return app.registry.GetProduct(id).Config()
	}
	return app.registry.GetDevice(id).Config()
}

var configGetCmd = &cobra.Command{
	Use:   "get <id> <key>",
	Short: "Read one config value (device scope falls back to the product)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, found, err := configStore(args[0]).Get(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not set", args[1])
		}
		fmt.Println(cli.FormatValue(v))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <id> <key> <value>",
	Short: "Write one config value (value parsed as JSON, else stored as string)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configStore(args[0]).Put(cmd.Context(), args[1], parseValue(args[2]))
	},
}

var configDelCmd = &cobra.Command{
	Use:   "del <id> <key>",
	Short: "Remove one config key, printing its prior value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prior, found, err := configStore(args[0]).Remove(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if found {
			fmt.Println(cli.FormatValue(prior))
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List the merged config snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listConfig(cmd.Context(), args[0])
	},
}

func listConfig(ctx context.Context, id string) error {
	all, err := configStore(id).GetAll(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := cli.NewTable("KEY", "VALUE")
	for _, k := range keys {
		table.Row(k, cli.FormatValue(all[k]))
	}
	table.Flush()
	return nil
}

// parseValue interprets a CLI value argument: valid JSON is stored typed,
// anything else as a plain string.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func init() {
	configCmd.PersistentFlags().BoolVar(&configProductScope, "product", false, "operate on the product scope")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configDelCmd)
	configCmd.AddCommand(configListCmd)
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/cli"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Device record and session operations",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ids, err := scanIDs(ctx, "device:info:*")
		if err != nil {
			return err
		}

		table := cli.NewTable("ID", "PRODUCT", "STATE", "SERVER")
		for _, id := range ids {
			op := app.registry.GetDevice(id)
			info, err := op.GetInfo(ctx)
			if err != nil {
				continue
			}
			sess, err := op.GetSession(ctx)
			if err != nil {
				return err
			}
			table.Row(id, info.ProductID, cli.ColorState(string(sess.State)), sess.ServerID)
		}
		table.Flush()
		return nil
	},
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <deviceId>",
	Short: "Show a device record and its session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		op := app.registry.GetDevice(args[0])
		info, err := op.GetInfo(ctx)
		if err != nil {
			return err
		}
		sess, err := op.GetSession(ctx)
		if err != nil {
			return err
		}

		if app.jsonOutput {
			out, err := cli.FormatJSON(map[string]interface{}{
				"info": info,
				"session": map[string]interface{}{
					"state":     sess.State,
					"serverId":  sess.ServerID,
					"sessionId": sess.SessionID,
					"lastPing":  sess.LastPing,
				},
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}

		fmt.Printf("Device:   %s\n", cli.Bold(info.ID))
		fmt.Printf("Product:  %s\n", info.ProductID)
		if info.Protocol != "" {
			fmt.Printf("Protocol: %s (override)\n", info.Protocol)
		}
		fmt.Printf("State:    %s\n", cli.ColorState(string(sess.State)))
		if sess.State == device.StateOnline {
			fmt.Printf("Server:   %s\n", sess.ServerID)
			fmt.Printf("Session:  %s\n", sess.SessionID)
			fmt.Printf("LastPing: %s\n", sess.LastPing.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register <deviceId> <productId>",
	Short: "Register (or overwrite) a device record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := app.registry.Register(cmd.Context(), &device.DeviceInfo{
			ID:        args[0],
			ProductID: args[1],
			Type:      "device",
		})
		if err != nil {
			return err
		}
		fmt.Printf("registered %s (product %s)\n", args[0], args[1])
		return nil
	},
}

var deviceUnregisterCmd = &cobra.Command{
	Use:   "unregister <deviceId>",
	Short: "Delete a device record, session state, and config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.registry.Unregister(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("unregistered %s\n", args[0])
		return nil
	},
}

var deviceOnlineCmd = &cobra.Command{
	Use:   "online <deviceId> <serverId> <sessionId>",
	Short: "Mark a device online on a gateway",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.registry.GetDevice(args[0]).Online(cmd.Context(), args[1], args[2])
	},
}

var deviceOfflineCmd = &cobra.Command{
	Use:   "offline <deviceId>",
	Short: "Mark a device offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.registry.GetDevice(args[0]).Offline(cmd.Context())
	},
}

var deviceCheckCmd = &cobra.Command{
	Use:   "check <deviceId>",
	Short: "Probe the owning gateway and reconcile stale state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := app.registry.GetDevice(args[0]).CheckState(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(cli.ColorState(string(state)))
		return nil
	},
}

// scanIDs collects entity ids matching a key prefix pattern.
func scanIDs(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var ids []string
	var cursor uint64
	for {
		keys, next, err := app.store.Redis().Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, prefix))
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

func init() {
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceShowCmd)
	deviceCmd.AddCommand(deviceRegisterCmd)
	deviceCmd.AddCommand(deviceUnregisterCmd)
	deviceCmd.AddCommand(deviceOnlineCmd)
	deviceCmd.AddCommand(deviceOfflineCmd)
	deviceCmd.AddCommand(deviceCheckCmd)
}

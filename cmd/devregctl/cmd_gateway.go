package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/cli"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway <serverId> <deviceId> [deviceId ...]",
	Short: "Run a diagnostic echo gateway for the given devices",
	Long: `Run a diagnostic gateway that marks the given devices online on
<serverId> and answers every command with a success reply echoing the
request payload. Useful for smoke-testing senders against a live store.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		serverID := args[0]
		deviceIDs := args[1:]

		handler := device.NewMessageHandler(app.store, serverID, device.HandlerOptions{
			ReplyTTL: app.settings.MaxAwait() + app.settings.ReplyTTLPadding(),
		})
		defer handler.Close()

		for _, id := range deviceIDs {
			op := app.registry.GetDevice(id)
			if err := handler.HandleMessage(ctx, id, echoHandler(handler)); err != nil {
				return err
			}
			if err := op.Online(ctx, serverID, message.NewMessageID()); err != nil {
				return err
			}
			fmt.Printf("%s %s online on %s\n", cli.Green("✓"), id, serverID)
		}

		fmt.Println("gateway running, ctrl-c to stop")
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		for _, id := range deviceIDs {
			if err := app.registry.GetDevice(id).Offline(context.Background()); err != nil {
				util.WithDevice(id).Warnf("offline failed: %v", err)
			}
		}
		return nil
	},
}

// echoHandler answers every command with success, echoing the request
// payload back in the reply.
func echoHandler(h *device.MessageHandler) device.HandlerFunc {
	return func(ctx context.Context, msg message.DeviceMessage) {
		var reply message.ReplyMessage
		switch m := msg.(type) {
		case *message.FunctionInvoke:
			r := &message.FunctionInvokeReply{}
			r.SetSuccess("echo " + m.FunctionID)
			r.Output = m.Inputs
			reply = r
		case *message.ReadProperty:
			r := &message.ReadPropertyReply{}
			r.SetSuccess("")
			r.Properties = map[string]interface{}{}
			for _, p := range m.Properties {
				r.Properties[p] = "echo"
			}
			reply = r
		case *message.WriteProperty:
			r := &message.WritePropertyReply{}
			r.SetSuccess("")
			r.Properties = m.Properties
			reply = r
		default:
			return
		}
		reply.From(msg)
		if err := h.Reply(ctx, reply); err != nil {
			util.WithMessage(msg.MessageID()).Warnf("reply failed: %v", err)
		}
	}
}

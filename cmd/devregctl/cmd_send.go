package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/cli"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a command to a device and await its reply",
}

var sendInvokeCmd = &cobra.Command{
	Use:   "invoke <deviceId> <functionId> [name=value ...]",
	Short: "Invoke a device function",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		builder := app.registry.GetDevice(args[0]).Sender().InvokeFunction(args[1])
		for _, arg := range args[2:] {
			name, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("input %q is not name=value", arg)
			}
			builder.AddInput(name, parseValue(value))
		}
		if sendTimeout > 0 {
			builder.Timeout(sendTimeout)
		}

		reply, err := builder.Send(cmd.Context())
		if err != nil {
			return err
		}
		return printReply(&reply.Reply, reply.Output)
	},
}

var sendReadCmd = &cobra.Command{
	Use:   "read <deviceId> <property> [property ...]",
	Short: "Read device properties",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		builder := app.registry.GetDevice(args[0]).Sender().ReadProperty(args[1:]...)
		if sendTimeout > 0 {
			builder.Timeout(sendTimeout)
		}

		reply, err := builder.Send(cmd.Context())
		if err != nil {
			return err
		}
		return printReply(&reply.Reply, reply.Properties)
	},
}

var sendWriteCmd = &cobra.Command{
	Use:   "write <deviceId> <name=value> [name=value ...]",
	Short: "Write device properties",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		props := map[string]interface{}{}
		for _, arg := range args[1:] {
			name, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("property %q is not name=value", arg)
			}
			props[name] = parseValue(value)
		}

		builder := app.registry.GetDevice(args[0]).Sender().WriteProperty(props)
		if sendTimeout > 0 {
			builder.Timeout(sendTimeout)
		}

		reply, err := builder.Send(cmd.Context())
		if err != nil {
			return err
		}
		return printReply(&reply.Reply, reply.Properties)
	},
}

func printReply(r *message.Reply, payload interface{}) error {
	if app.jsonOutput {
		out, err := cli.FormatJSON(map[string]interface{}{
			"messageId": r.MessageID(),
			"success":   r.Success,
			"code":      r.Code,
			"message":   r.Message,
			"payload":   payload,
		})
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	if r.Success {
		fmt.Printf("%s %s\n", cli.Green("ok"), r.Message)
	} else {
		fmt.Printf("%s %s %s\n", cli.Red("error"), cli.Bold(string(r.Code)), r.Message)
	}
	if payload != nil {
		fmt.Println(cli.FormatValue(payload))
	}
	return nil
}

func init() {
	sendCmd.PersistentFlags().DurationVarP(&sendTimeout, "timeout", "t", 0, "reply wait override (e.g. 5s)")

	sendCmd.AddCommand(sendInvokeCmd)
	sendCmd.AddCommand(sendReadCmd)
	sendCmd.AddCommand(sendWriteCmd)
}

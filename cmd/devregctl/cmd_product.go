package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/cli"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Product record operations",
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ids, err := scanIDs(ctx, "product:info:*")
		if err != nil {
			return err
		}

		table := cli.NewTable("ID", "NAME", "PROTOCOL")
		for _, id := range ids {
			info, err := app.registry.GetProduct(id).GetInfo(ctx)
			if err != nil {
				continue
			}
			table.Row(info.ID, info.Name, info.Protocol)
		}
		table.Flush()
		return nil
	},
}

var productShowCmd = &cobra.Command{
	Use:   "show <productId>",
	Short: "Show a product record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := app.registry.GetProduct(args[0]).GetInfo(cmd.Context())
		if err != nil {
			return err
		}
		out, err := cli.FormatJSON(info)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var productProtocolFlag string

var productUpdateCmd = &cobra.Command{
	Use:   "update <productId> <name>",
	Short: "Create or overwrite a product record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := app.registry.GetProduct(args[0]).Update(cmd.Context(), &device.ProductInfo{
			ID:       args[0],
			Name:     args[1],
			Protocol: productProtocolFlag,
		})
		if err != nil {
			return err
		}
		fmt.Printf("updated product %s\n", args[0])
		return nil
	},
}

func init() {
	productUpdateCmd.Flags().StringVar(&productProtocolFlag, "protocol", "", "protocol id for the product")

	productCmd.AddCommand(productListCmd)
	productCmd.AddCommand(productShowCmd)
	productCmd.AddCommand(productUpdateCmd)
}

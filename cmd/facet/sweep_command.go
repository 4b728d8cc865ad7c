package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facet/internal/ipc"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim expired terminal jobs immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sweep()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d jobs\n", resp.Removed)
				return nil
			})
		},
	}
}

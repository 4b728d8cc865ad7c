package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facet/internal/ipc"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, line := range resp.Lines {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				offset := resp.Offset
				for {
					resp, err := client.LogTail(ipc.LogTailRequest{
						Offset:     offset,
						Follow:     true,
						WaitMillis: 1000,
					})
					if err != nil {
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(out, line)
					}
					offset = resp.Offset
					select {
					case <-cmd.Context().Done():
						return nil
					default:
					}
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new log lines")
	cmd.Flags().IntVarP(&limit, "lines", "n", 50, "Number of trailing lines to print")
	return cmd
}

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"facet/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Daemon:    %s (pid %d)\n", runningLabel(status.Running), status.PID)
				fmt.Fprintf(out, "Admission: %d queued, %d running\n", status.QueuedJobs, status.RunningJobs)
				fmt.Fprintf(out, "Job DB:    %s\n", status.JobDBPath)
				if len(status.JobCounts) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, buildCountRows(status.JobCounts), 1))
				}
				return nil
			})
		},
	}
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func buildCountRows(counts map[string]int) [][]string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{status, fmt.Sprintf("%d", counts[status])})
	}
	return rows
}

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"facet/internal/ipc"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "create <image>...",
		Short: "Register a reconstruction job from image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandImageArgs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobCreate(owner, paths)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created job %s with %d images\n", resp.Job.ID, len(resp.Job.InputRefs))
				fmt.Fprintf(out, "Run `facet reconstruct %s` to start processing\n", resp.Job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", defaultOwner(), "Owner recorded on the job")
	return cmd
}

// expandImageArgs resolves arguments to absolute file paths, walking one
// level into directories so `facet create ./shots/` works.
func expandImageArgs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, abs)
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", arg, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			paths = append(paths, filepath.Join(abs, entry.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files found")
	}
	return paths, nil
}

func defaultOwner() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "default"
}

func newReconstructCommand(ctx *commandContext) *cobra.Command {
	var quality string

	cmd := &cobra.Command{
		Use:   "reconstruct <job-id>",
		Short: "Queue a job for 3D reconstruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reconstruct(args[0], quality)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s queued at %s quality\n", resp.Job.ID, resp.Job.Quality)
				fmt.Fprintf(out, "Estimated processing time: %s to %s\n", resp.EstimateLower, resp.EstimateUpper)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&quality, "quality", "q", "medium", "Reconstruction quality (low, medium, high)")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List reconstruction jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(statuses)
				if err != nil {
					return err
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Owner", "Status", "Stage", "Progress", "Created"},
					buildJobRows(resp.Jobs),
					4,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func buildJobRows(jobs []ipc.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Owner,
			job.Status,
			job.Stage,
			fmt.Sprintf("%d%%", job.Progress),
			job.CreatedAt,
		})
	}
	return rows
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show details for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDescribe(args[0])
				if err != nil {
					return err
				}
				printJob(cmd, resp.Job)
				return nil
			})
		},
	}
}

func printJob(cmd *cobra.Command, job ipc.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", job.ID)
	fmt.Fprintf(out, "Owner:     %s\n", job.Owner)
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	if job.Quality != "" {
		fmt.Fprintf(out, "Quality:   %s\n", job.Quality)
	}
	if job.Stage != "" {
		fmt.Fprintf(out, "Stage:     %s (%d%%)\n", job.Stage, job.Progress)
	}
	fmt.Fprintf(out, "Images:    %d\n", len(job.InputRefs))
	if job.OutputRef != "" {
		fmt.Fprintf(out, "Model:     %s\n", job.OutputRef)
	}
	if job.LogRef != "" {
		fmt.Fprintf(out, "Log:       %s\n", job.LogRef)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt)
	if job.StartedAt != "" {
		fmt.Fprintf(out, "Started:   %s\n", job.StartedAt)
	}
	if job.CompletedAt != "" {
		fmt.Fprintf(out, "Completed: %s\n", job.CompletedAt)
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", resp.Job.ID, resp.Job.Status)
				return nil
			})
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var destination string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Copy the reconstructed model of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Artifact(args[0])
				if err != nil {
					return err
				}
				dest := strings.TrimSpace(destination)
				if dest == "" {
					dest = resp.Job.ID + ".obj"
				}
				if err := copyFile(resp.ModelPath, dest); err != nil {
					return fmt.Errorf("copy model: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", dest)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&destination, "output", "O", "", "Destination path for the model file")
	return cmd
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

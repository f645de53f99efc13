package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd/pkg/client"
)

func createJobsCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Inspect background jobs",
	}
	var server string
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				recs, err := cl.Jobs(ctx, server)
				if err != nil {
					return err
				}
				c.printJSON(recs)
				return nil
			})
		},
	}
	list.Flags().StringVar(&server, "server", "", "only jobs of this server")

	status := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the current record of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				p, err := cl.Job(ctx, args[0])
				if err != nil {
					return err
				}
				c.printJSON(p)
				return nil
			})
		},
	}

	watch := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				return c.watch(ctx, cl, args[0])
			})
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				if err := cl.CancelJob(ctx, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.out, "job %s cancelled\n", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(list, status, watch, cancel)
	return cmd
}

// watch prints one line per progress record and fails when the job did.
func (c command) watch(ctx context.Context, cl *client.Client, id string) error {
	last, err := cl.Watch(ctx, id, func(p client.Progress) {
		line := fmt.Sprintf("[%3d%%] %s", p.Percentage, p.Status)
		if p.Install != nil && p.Install.CurrentStep != "" {
			line += " " + p.Install.CurrentStep
		}
		if p.Message != "" {
			line += ": " + p.Message
		}
		_, _ = fmt.Fprintln(c.out, line)
	})
	if err != nil {
		return err
	}
	if last.Status == "failed" {
		return fmt.Errorf("job %s failed: %s", id, last.Error)
	}
	return nil
}

func createModpackCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modpack",
		Short: "Install modpacks and mods",
	}
	wf := &WatchFlags{}
	install := &cobra.Command{
		Use:   "install <server> <url>",
		Short: "Queue a modpack install from an archive URL",
		Long: `Queue a modpack install. The archive is downloaded, its overrides are
extracted into the server directory and every listed mod is fetched.

Examples:
  craftd modpack install survival https://example.com/pack.zip
  craftd modpack install survival https://example.com/pack.zip --watch`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				id, err := cl.InstallModpack(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.out, "job %s queued\n", id)
				if wf.Watch {
					return c.watch(ctx, cl, id)
				}
				return nil
			})
		},
	}
	install.Flags().BoolVar(&wf.Watch, "watch", false, "follow the job until it finishes")

	mod := &cobra.Command{
		Use:   "mod <server> <project-id> <file-id>",
		Short: "Queue a single mod install from the registry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid project id %q", args[1])
			}
			file, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[2])
			}
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				id, err := cl.InstallMod(ctx, args[0], project, file)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.out, "job %s queued\n", id)
				if wf.Watch {
					return c.watch(ctx, cl, id)
				}
				return nil
			})
		},
	}
	mod.Flags().BoolVar(&wf.Watch, "watch", false, "follow the job until it finishes")
	cmd.AddCommand(install, mod)
	return cmd
}

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd/pkg/client"
)

func createServersCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Short:   "Manage game servers through the daemon",
	}
	createFlags := &CreateFlags{}
	stopFlags := &StopFlags{}

	list := &cobra.Command{
		Use:   "list",
		Short: "List servers and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				servers, err := cl.Servers(ctx)
				if err != nil {
					return err
				}
				c.printTable(servers)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status <name>",
		Short: "Show one server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				st, err := cl.Server(ctx, args[0])
				if err != nil {
					return err
				}
				c.printJSON(st)
				return nil
			})
		},
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a server directory with default settings",
		Long: `Create a server. The port defaults to the lowest free one starting at
25565. The server jar must be placed in the new directory before start.

Examples:
  craftd servers create survival --accept-eula
  craftd servers create creative --port 25600 --motd "Build stuff"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				st, err := cl.CreateServer(ctx, client.CreateRequest{
					Name:       args[0],
					Port:       createFlags.Port,
					MOTD:       createFlags.MOTD,
					AcceptEULA: createFlags.AcceptEULA,
				})
				if err != nil {
					return err
				}
				c.printJSON(st)
				return nil
			})
		},
	}
	create.Flags().IntVar(&createFlags.Port, "port", 0, "game port (0 allocates one)")
	create.Flags().StringVar(&createFlags.MOTD, "motd", "", "message of the day (defaults to the name)")
	create.Flags().BoolVar(&createFlags.AcceptEULA, "accept-eula", false, "accept the game EULA")

	stop := &cobra.Command{
		Use:   "stop <name>",
		Short: "Ask a server to shut down and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				st, err := cl.Stop(ctx, args[0], stopFlags.Timeout)
				if err != nil {
					return err
				}
				c.printJSON(st)
				return nil
			})
		},
	}
	stop.Flags().DurationVar(&stopFlags.Timeout, "timeout", 0, "how long to wait (default from daemon)")

	cmd.AddCommand(list, status, create, stop,
		c.serverAction("start", "Start a server and verify it came up", (*client.Client).Start),
		c.serverAction("restart", "Stop (when running), wait, then start", (*client.Client).Restart),
		c.serverAction("kill", "Kill the server processes", (*client.Client).Kill),
	)
	return cmd
}

func (c command) serverAction(name, short string, fn func(*client.Client, context.Context, string) (client.ServerStatus, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				st, err := fn(cl, ctx, args[0])
				if err != nil {
					return err
				}
				c.printJSON(st)
				return nil
			})
		},
	}
}

func (c command) withClient(ctx context.Context, fn func(context.Context, *client.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	return fn(ctx, cl)
}

func (c command) printTable(servers []client.ServerStatus) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATE\tPORT\tPID\tEULA\tRESTART")
	for _, s := range servers {
		pid := "-"
		if s.Identity.JavaPID > 0 {
			pid = fmt.Sprint(s.Identity.JavaPID)
		} else if s.Identity.WrapperPID > 0 {
			pid = fmt.Sprint(s.Identity.WrapperPID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%t\n", s.Name, s.State, s.Port, pid, s.EULAAccepted, s.RestartRequired)
	}
	_ = w.Flush()
}

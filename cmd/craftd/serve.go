package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd"
)

func createServeCommand(g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the craftd daemon",
		Long: `Run the daemon: the HTTP API, the install queues, the resource sampler
and boot autostart of servers with on_reboot.start enabled.

Examples:
  craftd serve                         # defaults plus CRAFTD_* environment
  craftd serve /etc/craftd/config.toml
  craftd serve --daemonize --pidfile /run/craftd.pid --logfile /var/log/craftd.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), cmd, path, f)
		},
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, path string, f *ServeFlags) error {
	cfg, err := craftd.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Daemonize {
		return daemonize(cmd.OutOrStdout(), f.PidFile, f.LogFile)
	}
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(f.PidFile) }()
	}

	d, err := craftd.New(cfg, craftd.Options{})
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

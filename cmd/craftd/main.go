package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the command tree. Output goes to out.
func buildRoot(out io.Writer) *cobra.Command {
	g := &GlobalFlags{}
	root := createRootCommand(g)
	root.SetOut(out)
	cmd := command{flags: g, out: out}
	root.AddCommand(
		createServeCommand(g),
		createServersCommand(cmd),
		createJobsCommand(cmd),
		createModpackCommand(cmd),
		createTokenCommand(cmd),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "craftd",
		Short: "Game server fleet supervisor",
		Long: `craftd starts, stops and monitors game servers on this host and
installs modpacks in the background.

Examples:
  craftd serve --config /etc/craftd/config.toml
  craftd servers create survival --accept-eula
  craftd servers start survival
  craftd modpack install survival https://example.com/pack.zip --watch
  craftd servers list --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default from config server.listen)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 90*time.Second, "request timeout")
	pf.StringVar(&flags.Token, "token", os.Getenv("CRAFTD_TOKEN"), "bearer token (env CRAFTD_TOKEN)")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	return root
}

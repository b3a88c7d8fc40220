// pattern: Imperative Shell

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/schmug/karkinos/internal/cli"
)

var version = "dev"

func main() {
	// Stop parsing flags after the first non-flag arg (the subcommand),
	// so that --help after a subcommand is handled by the subcommand.
	flag.CommandLine.SetInterspersed(false)

	var g cli.Globals
	flag.StringVarP(&g.ConfigDir, "config-dir", "c", "", "config directory (default: ~/.config/karkinos)")
	flag.StringVarP(&g.RepoDir, "repo", "C", "", "run as if started in this directory")
	flag.StringVar(&g.LogLevel, "log-level", "", "override log_level from the config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cli.Env{Globals: g, Version: version, Context: ctx}

	// Override flag.Usage before Parse so --help uses the CLI app's help
	flag.Usage = func() {
		cli.BuildApp(env).PrintHelp(os.Stderr)
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()
	env.Globals = g

	if !cli.BuildApp(env).Execute(flag.Args()) {
		return
	}
	if err := cli.RunMonitor(ctx, g, 0); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}

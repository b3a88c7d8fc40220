// pattern: Imperative Shell

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Command represents a single CLI command with its metadata and handler.
type Command struct {
	Name    string
	Summary string
	Usage   string
	Run     func(args []string) error
}

// App is the top-level dispatcher. Commands return errors; App prints them
// and exits with ExitCode(err).
type App struct {
	commands map[string]*Command
	order    []string
	version  string

	// Stdout receives help output. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr receives errors and usage. Defaults to os.Stderr.
	Stderr io.Writer
	// ExitFunc is called with a non-zero status. Defaults to os.Exit.
	ExitFunc func(int)
}

// NewApp creates a new CLI application with the given version.
func NewApp(version string) *App {
	return &App{
		commands: make(map[string]*Command),
		version:  version,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		ExitFunc: os.Exit,
	}
}

// AddCommand registers a command. Help lists commands in the order added.
func (a *App) AddCommand(cmd *Command) {
	if _, ok := a.commands[cmd.Name]; !ok {
		a.order = append(a.order, cmd.Name)
	}
	a.commands[cmd.Name] = cmd
}

// Execute dispatches the CLI arguments to the appropriate command.
// Returns true if the monitor should be launched, false otherwise.
func (a *App) Execute(args []string) bool {
	if len(args) == 0 {
		return true
	}

	name := args[0]
	switch name {
	case "help", "-h", "--help":
		a.PrintHelp(a.Stdout)
		return false
	}

	cmd, ok := a.commands[name]
	if !ok {
		fmt.Fprintf(a.Stderr, "unknown command %q\n\n", name)
		a.PrintHelp(a.Stderr)
		a.ExitFunc(ExitInvalid)
		return false
	}

	for _, arg := range args[1:] {
		if arg == "--" {
			break
		}
		if arg == "--help" || arg == "-h" {
			fmt.Fprintf(a.Stdout, "%s\n", cmd.Usage)
			return false
		}
	}

	if err := cmd.Run(args[1:]); err != nil {
		fmt.Fprintf(a.Stderr, "error: %s\n", describe(err))
		var usage *UsageError
		if errors.As(err, &usage) && usage.Usage != "" {
			fmt.Fprintf(a.Stderr, "%s\n", usage.Usage)
		}
		a.ExitFunc(ExitCode(err))
	}
	return false
}

// PrintHelp prints the top-level help text.
func (a *App) PrintHelp(w io.Writer) {
	fmt.Fprintf(w, "karkinos %s: parallel workers in git worktrees\n\n", a.version)
	fmt.Fprintf(w, "Usage: karkinos [options] [command]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, name := range a.order {
		cmd := a.commands[name]
		fmt.Fprintf(w, "  %-13s %s\n", cmd.Name, cmd.Summary)
	}
	fmt.Fprintf(w, "  %-13s %s\n", "(none)", "Launch the interactive monitor")
	fmt.Fprintf(w, "\nUse \"karkinos <command> --help\" for command details.\n\n")
	fmt.Fprintf(w, "Options:\n")
}

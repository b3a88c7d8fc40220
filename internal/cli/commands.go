// pattern: Imperative Shell

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/tui"
	"github.com/schmug/karkinos/internal/worktree"
)

// Env is what every command shares: the global options, the output streams
// and the process context.
type Env struct {
	Globals Globals
	Version string
	Stdout  io.Writer
	Stderr  io.Writer
	// Context is cancelled on interrupt. Defaults to context.Background().
	Context  context.Context
	Delegate Delegate
}

func (e *Env) context() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

func (e *Env) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Env) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

// withRuntime opens the repository for fn. Warnings go to stderr unless
// quiet is set, as for the full-screen monitor.
func (e *Env) withRuntime(quiet bool, fn func(rt *Runtime) error) error {
	var console io.Writer
	if !quiet {
		console = e.stderr()
	}
	rt, err := Open(e.Globals, console)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(rt)
}

// withBackend is withRuntime plus the backend chosen by the Delegate.
func (e *Env) withBackend(fn func(ctx context.Context, rt *Runtime, b Backend) error) error {
	return e.withRuntime(false, func(rt *Runtime) error {
		d := e.Delegate
		if d.Stderr == nil {
			d.Stderr = e.stderr()
		}
		return fn(e.context(), rt, d.Backend(rt))
	})
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, usage string, args []string) error {
	if err := fs.Parse(args); err != nil {
		return &UsageError{Usage: usage, Err: err}
	}
	return nil
}

// formatFlags registers --json and --yaml on fs.
func formatFlags(fs *flag.FlagSet) func(usage string) (Format, error) {
	asJSON := fs.Bool("json", false, "print JSON")
	asYAML := fs.Bool("yaml", false, "print YAML")
	return func(usage string) (Format, error) {
		switch {
		case *asJSON && *asYAML:
			return FormatText, usageErrorf(usage, "--json and --yaml are mutually exclusive")
		case *asJSON:
			return FormatJSON, nil
		case *asYAML:
			return FormatYAML, nil
		default:
			return FormatText, nil
		}
	}
}

// BuildApp creates the CLI application with every command registered.
func BuildApp(env *Env) *App {
	app := NewApp(env.Version)
	app.Stdout = env.stdout()
	app.Stderr = env.stderr()

	app.AddCommand(&Command{
		Name:    "list",
		Summary: "List active workers with ahead/behind, cleanliness and merge status",
		Usage:   "Usage: karkinos list [--all] [--json|--yaml]",
		Run:     func(args []string) error { return runList(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "watch",
		Summary: "Monitor workers (full-screen, or --simple for plain text)",
		Usage:   "Usage: karkinos watch [--simple] [--interval 5s]",
		Run:     func(args []string) error { return runWatch(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "create",
		Summary: "Create a worker worktree, refusing files other workers changed",
		Usage:   "Usage: karkinos create <branch> | --kind <kind> --slug <slug> [--base <branch>] [--files a,b/**] [--json|--yaml]",
		Run:     func(args []string) error { return runCreate(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "check",
		Summary: "Report active workers that changed the given files or globs",
		Usage:   "Usage: karkinos check <file|glob>... [--json|--yaml]",
		Run:     func(args []string) error { return runCheck(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "remove",
		Summary: "Remove a worker's worktree and branch",
		Usage:   "Usage: karkinos remove <branch|path> [--force] [--keep-branch] [--dry-run] [--json|--yaml]",
		Run:     func(args []string) error { return runRemove(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "cleanup",
		Summary: "Remove every worker whose branch is merged",
		Usage:   "Usage: karkinos cleanup [--dry-run] [--force] [--json|--yaml]",
		Run:     func(args []string) error { return runCleanup(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "details",
		Summary: "Show a worker's commits and changed files",
		Usage:   "Usage: karkinos details <branch|path> [--json|--yaml]",
		Run:     func(args []string) error { return runDetails(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "diff",
		Summary: "Show a worker's diff against the reference branch",
		Usage:   "Usage: karkinos diff <branch|path> [file]",
		Run:     func(args []string) error { return runDiff(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "update",
		Summary: "Rebase or merge workers onto the reference branch",
		Usage:   "Usage: karkinos update [--apply] [--merge] [--no-fetch] [--json|--yaml]",
		Run:     func(args []string) error { return runUpdate(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "pr",
		Summary: "Push a worker branch and open a pull request",
		Usage:   "Usage: karkinos pr <branch> [--title T] [--body B] [--base B] [--no-auto-merge] | pr <branch> --status",
		Run:     func(args []string) error { return runPR(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "dispatch",
		Summary: "Create workers from a spec file and run the agent in each",
		Usage:   "Usage: karkinos dispatch <workers.yaml> [--json|--yaml]",
		Run:     func(args []string) error { return runDispatch(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "mcp",
		Summary: "Serve worker tools over MCP on stdio",
		Usage:   "Usage: karkinos mcp",
		Run:     func(args []string) error { return runMCP(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "serve",
		Summary: "Serve the HTTP API for this repository",
		Usage:   "Usage: karkinos serve [--bind 127.0.0.1] [--port 7337]",
		Run:     func(args []string) error { return runServe(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "cleanup-lock",
		Summary: "Remove the port file left by a crashed server",
		Usage:   "Usage: karkinos cleanup-lock",
		Run:     func(args []string) error { return runCleanupLock(env, args) },
	})
	app.AddCommand(&Command{
		Name:    "version",
		Summary: "Print version and exit",
		Usage:   "Usage: karkinos version",
		Run: func(args []string) error {
			fmt.Fprintln(env.stdout(), env.Version)
			return nil
		},
	})
	return app
}

func runList(env *Env, args []string) error {
	const usage = "Usage: karkinos list [--all] [--json|--yaml]"
	fs := newFlagSet("list")
	all := fs.Bool("all", false, "include the main worktree")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		entries, err := b.List(ctx, *all)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []engine.Entry{}
		}
		return render(env.stdout(), f, entries, func(w io.Writer) error {
			fmt.Fprint(w, tui.RenderTable(entries, 48))
			if len(entries) > 0 {
				fmt.Fprintln(w, tui.Summary(entries))
			}
			return nil
		})
	})
}

func runCreate(env *Env, args []string) error {
	const usage = "Usage: karkinos create <branch> | --kind <kind> --slug <slug> [--base <branch>] [--files a,b/**] [--json|--yaml]"
	fs := newFlagSet("create")
	kind := fs.String("kind", "", "branch kind, e.g. feat or fix")
	slug := fs.String("slug", "", "short branch description")
	base := fs.String("base", "", "start point (default: the reference branch)")
	files := fs.StringSlice("files", nil, "files or globs the worker will change")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	req := engine.CreateRequest{Kind: *kind, Slug: *slug, Base: *base, Files: *files}
	switch fs.NArg() {
	case 0:
		if req.Kind == "" || req.Slug == "" {
			return usageErrorf(usage, "a branch or --kind and --slug are required")
		}
	case 1:
		if req.Kind != "" || req.Slug != "" {
			return usageErrorf(usage, "give a branch or --kind and --slug, not both")
		}
		req.Branch = fs.Arg(0)
	default:
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(1))
	}

	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		res, err := b.Create(ctx, req)
		if err != nil {
			return err
		}
		return render(env.stdout(), f, res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Created worker %s at %s (from %s)\n", res.Branch, res.Path, res.Base)
			return err
		})
	})
}

func runCheck(env *Env, args []string) error {
	const usage = "Usage: karkinos check <file|glob>... [--json|--yaml]"
	fs := newFlagSet("check")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageErrorf(usage, "at least one file or glob is required")
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		res, err := b.Check(ctx, fs.Args())
		if err != nil {
			return err
		}
		err = render(env.stdout(), f, res, func(w io.Writer) error {
			if res.Clear {
				_, err := fmt.Fprintf(w, "Clear: no active worker changed these files (compared with %s).\n", res.Ref)
				return err
			}
			fmt.Fprintf(w, "%d conflicting file(s):\n", len(res.Conflicts))
			for _, r := range res.Conflicts {
				suffix := ""
				if r.Declared {
					suffix = " [declared]"
				}
				fmt.Fprintf(w, "  %s  %s (matches %s)%s\n", r.Path, r.Owner, r.Pattern, suffix)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !res.Clear {
			return &blockedError{msg: fmt.Sprintf("%d file(s) already changed or declared by other workers", len(res.Conflicts))}
		}
		return nil
	})
}

// resolveTarget turns a worktree path into its branch so the request can be
// sent to a server by branch. Branch names pass through.
func resolveTarget(ctx context.Context, rt *Runtime, target string) (string, error) {
	if !filepath.IsAbs(target) && !strings.HasPrefix(target, ".") {
		return target, nil
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	wt, err := rt.Engine.Find(ctx, abs)
	if err != nil {
		return "", err
	}
	if wt.Branch == "" {
		return wt.Path, nil
	}
	return wt.Branch, nil
}

func runRemove(env *Env, args []string) error {
	const usage = "Usage: karkinos remove <branch|path> [--force] [--keep-branch] [--dry-run] [--json|--yaml]"
	fs := newFlagSet("remove")
	var opts worktree.RemoveOptions
	fs.BoolVarP(&opts.Force, "force", "f", false, "discard uncommitted changes and unmerged commits")
	fs.BoolVar(&opts.KeepBranch, "keep-branch", false, "remove the worktree but keep an unmerged branch")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "report what would happen")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf(usage, "exactly one branch or path is required")
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		target, err := resolveTarget(ctx, rt, fs.Arg(0))
		if err != nil {
			return err
		}
		res, err := b.Remove(ctx, target, opts)
		if err != nil {
			return err
		}
		return render(env.stdout(), f, res, func(w io.Writer) error {
			writeRemoval(w, res)
			return nil
		})
	})
}

func writeRemoval(w io.Writer, res worktree.RemovalResult) {
	switch {
	case res.DryRun && res.WouldRemove:
		fmt.Fprintf(w, "Would remove %s (%s): %s\n", res.Path, res.Branch, res.Reason)
	case res.DryRun:
		fmt.Fprintf(w, "Would refuse to remove %s (%s): %s\n", res.Path, res.Branch, res.Reason)
	case res.BranchDeleted:
		fmt.Fprintf(w, "Removed %s and branch %s\n", res.Path, res.Branch)
	default:
		fmt.Fprintf(w, "Removed %s (branch %s kept)\n", res.Path, res.Branch)
	}
}

func runCleanup(env *Env, args []string) error {
	const usage = "Usage: karkinos cleanup [--dry-run] [--force] [--json|--yaml]"
	fs := newFlagSet("cleanup")
	var opts worktree.CleanupOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "show what would be removed")
	fs.BoolVarP(&opts.Force, "force", "f", false, "also remove merged workers with uncommitted changes")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		report, err := b.Cleanup(ctx, opts)
		if err != nil {
			return err
		}
		err = render(env.stdout(), f, report, func(w io.Writer) error {
			writeCleanup(w, report)
			return nil
		})
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d worker(s) could not be removed", len(report.Failed))
		}
		return nil
	})
}

func writeCleanup(w io.Writer, report worktree.CleanupReport) {
	verb := "Removed"
	if report.DryRun {
		verb = "Would remove"
	}
	for _, item := range report.Removed {
		fmt.Fprintf(w, "%s: %s (%s)\n", verb, item.Path, item.Branch)
	}
	for _, group := range []struct {
		label string
		items []worktree.CleanupItem
	}{
		{"Skipped (uncommitted changes)", report.SkippedDirty},
		{"Skipped (not merged)", report.SkippedUnmerged},
		{"Skipped (missing on disk)", report.SkippedOrphaned},
		{"Failed", report.Failed},
	} {
		for _, item := range group.items {
			fmt.Fprintf(w, "%s: %s (%s)", group.label, item.Path, item.Branch)
			if item.Reason != "" {
				fmt.Fprintf(w, ": %s", item.Reason)
			}
			fmt.Fprintln(w)
		}
	}

	switch {
	case len(report.Removed) == 0:
		fmt.Fprintln(w, "No merged workers to clean up.")
	case report.DryRun:
		fmt.Fprintf(w, "\nWould clean %d worker(s). Run without --dry-run to apply.\n", len(report.Removed))
	}
}

func runDetails(env *Env, args []string) error {
	const usage = "Usage: karkinos details <branch|path> [--json|--yaml]"
	fs := newFlagSet("details")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf(usage, "exactly one branch or path is required")
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		target, err := resolveTarget(ctx, rt, fs.Arg(0))
		if err != nil {
			return err
		}
		d, err := b.Details(ctx, target)
		if err != nil {
			return err
		}
		return render(env.stdout(), f, d, func(w io.Writer) error {
			writeDetails(w, d)
			return nil
		})
	})
}

func writeDetails(w io.Writer, d engine.Details) {
	fmt.Fprintf(w, "branch:  %s\n", d.Branch)
	fmt.Fprintf(w, "path:    %s\n", d.Path)
	fmt.Fprintf(w, "ref:     %s\n", d.Ref)
	state := tui.EntryState(d.Entry)
	if d.IsMerged {
		state += ", merged"
	}
	fmt.Fprintf(w, "status:  %s, %d ahead, %d behind\n", state, d.AheadCount, d.BehindCount)
	if d.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", d.Error)
	}

	fmt.Fprintf(w, "\nCommits (%d):\n", len(d.Commits))
	for _, c := range d.Commits {
		hash := c.Hash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		fmt.Fprintf(w, "  %s %s\n", hash, c.Subject)
	}
	fmt.Fprintf(w, "\nChanged files (%d):\n", len(d.ChangedFiles))
	for _, fc := range d.ChangedFiles {
		fmt.Fprintf(w, "  %s %s\n", fc.Status, fc.Path)
	}
	if d.DiffStat != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(d.DiffStat, "\n"))
	}
}

func runDiff(env *Env, args []string) error {
	const usage = "Usage: karkinos diff <branch|path> [file]"
	fs := newFlagSet("diff")
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return usageErrorf(usage, "a branch or path and an optional file are required")
	}

	return env.withRuntime(false, func(rt *Runtime) error {
		diff, err := rt.Engine.Diff(env.context(), fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
		_, err = io.WriteString(env.stdout(), diff)
		return err
	})
}

func runUpdate(env *Env, args []string) error {
	const usage = "Usage: karkinos update [--apply] [--merge] [--no-fetch] [--json|--yaml]"
	fs := newFlagSet("update")
	apply := fs.Bool("apply", false, "update the branches; without it only report what would change")
	merge := fs.Bool("merge", false, "merge the reference branch instead of rebasing")
	noFetch := fs.Bool("no-fetch", false, "do not fetch the remote first")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}
	f, err := format(usage)
	if err != nil {
		return err
	}

	opts := worktree.UpdateOptions{DryRun: !*apply, Merge: *merge, Fetch: !*noFetch}
	return env.withBackend(func(ctx context.Context, rt *Runtime, b Backend) error {
		report, err := b.Update(ctx, opts)
		if err != nil {
			return err
		}
		err = render(env.stdout(), f, report, func(w io.Writer) error {
			writeUpdate(w, report, *merge)
			return nil
		})
		if err != nil {
			return err
		}
		if n := len(report.Conflicts) + len(report.Failed); n > 0 {
			return fmt.Errorf("%d worker(s) could not be updated", n)
		}
		return nil
	})
}

func writeUpdate(w io.Writer, report worktree.UpdateReport, merge bool) {
	verb := "rebase"
	if merge {
		verb = "merge"
	}
	fmt.Fprintf(w, "Upstream: %s\n", report.Upstream)
	for _, group := range []struct {
		label string
		items []worktree.UpdateItem
	}{
		{"Updated", report.Updated},
		{"Would " + verb, report.WouldUpdate},
		{"Up to date", report.AlreadyUpToDate},
		{"Conflict, aborted", report.Conflicts},
		{"Failed", report.Failed},
	} {
		for _, item := range group.items {
			fmt.Fprintf(w, "  %s: %s", group.label, item.Branch)
			if item.Reason != "" {
				fmt.Fprintf(w, " (%s)", item.Reason)
			}
			fmt.Fprintln(w)
		}
	}
	if report.DryRun && len(report.WouldUpdate) > 0 {
		fmt.Fprintf(w, "\nRun with --apply to %s %d worker(s).\n", verb, len(report.WouldUpdate))
	}
}

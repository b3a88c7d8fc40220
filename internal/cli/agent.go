// pattern: Imperative Shell

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/schmug/karkinos/internal/agent"
	"github.com/schmug/karkinos/internal/hosting"
)

func runPR(env *Env, args []string) error {
	const usage = "Usage: karkinos pr <branch> [--title T] [--body B] [--base B] [--no-auto-merge] | pr <branch> --status"
	fs := newFlagSet("pr")
	title := fs.String("title", "", "pull request title (default: last commit subject)")
	body := fs.String("body", "", "pull request body")
	base := fs.String("base", "", "branch to merge into (default: the repository default)")
	noAutoMerge := fs.Bool("no-auto-merge", false, "do not enable auto-merge")
	status := fs.Bool("status", false, "show CI and review status instead of creating")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf(usage, "exactly one branch is required")
	}
	f, err := format(usage)
	if err != nil {
		return err
	}
	branch := fs.Arg(0)

	return env.withRuntime(false, func(rt *Runtime) error {
		client := rt.Hosting()
		ctx := env.context()

		if *status {
			st, err := client.Status(ctx, branch)
			if err != nil {
				return err
			}
			return render(env.stdout(), f, st, func(w io.Writer) error {
				state := st.State
				if state == "" {
					state = "no pull request"
				}
				_, err := fmt.Fprintf(w, "%s: %s, ci %s, review %s\n", st.Branch, state, st.CI, st.Review)
				return err
			})
		}

		pr, err := client.CreatePR(ctx, hosting.PRRequest{
			Branch:    branch,
			Base:      *base,
			Title:     *title,
			Body:      *body,
			AutoMerge: !*noAutoMerge,
		})
		if err != nil {
			return err
		}
		return render(env.stdout(), f, pr, func(w io.Writer) error {
			if pr.Existing {
				fmt.Fprintf(w, "Pull request already open: %s\n", pr.URL)
				return nil
			}
			fmt.Fprintf(w, "Opened %s\n", pr.URL)
			switch {
			case pr.AutoMerge:
				fmt.Fprintln(w, "Auto-merge enabled.")
			case pr.AutoMergeError != "":
				fmt.Fprintf(w, "Auto-merge not enabled: %s\n", pr.AutoMergeError)
			}
			return nil
		})
	})
}

func runDispatch(env *Env, args []string) error {
	const usage = "Usage: karkinos dispatch <workers.yaml> [--json|--yaml]"
	fs := newFlagSet("dispatch")
	format := formatFlags(fs)
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf(usage, "exactly one spec file is required")
	}
	f, err := format(usage)
	if err != nil {
		return err
	}
	specs, err := agent.LoadSpecs(fs.Arg(0))
	if err != nil {
		return err
	}

	return env.withRuntime(false, func(rt *Runtime) error {
		if len(rt.Config.Agent.Command) == 0 {
			return fmt.Errorf("agent.command is not configured in %s", ResolveDataDir(env.Globals.ConfigDir))
		}
		results, startErr := rt.Dispatcher().DispatchAll(env.context(), specs)
		err := render(env.stdout(), f, results, func(w io.Writer) error {
			return writeResults(w, results)
		})
		if err != nil {
			return err
		}
		if startErr != nil {
			return startErr
		}
		failed := 0
		for _, r := range results {
			if r.ExitCode != 0 {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d agent(s) exited non-zero", failed, len(results))
		}
		return nil
	})
}

func writeResults(w io.Writer, results []agent.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tBRANCH\tEXIT\tAHEAD\tDURATION\tPATH")
	for _, r := range results {
		exit := fmt.Sprint(r.ExitCode)
		if r.Error != "" {
			exit = "error"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.Name, r.Branch, exit, r.Ahead, r.Duration.Round(time.Second), r.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", r.Name, r.Error)
		}
		if r.Transcript != "" {
			fmt.Fprintf(w, "%s transcript: %s\n", r.Name, r.Transcript)
		}
	}
	return nil
}

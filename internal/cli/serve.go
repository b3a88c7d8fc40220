// pattern: Imperative Shell

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/schmug/karkinos/internal/instance"
	"github.com/schmug/karkinos/internal/mcp"
	"github.com/schmug/karkinos/internal/repo"
	"github.com/schmug/karkinos/internal/tui"
	"github.com/schmug/karkinos/internal/web"
)

const shutdownTimeout = 5 * time.Second

func runWatch(env *Env, args []string) error {
	const usage = "Usage: karkinos watch [--simple] [--interval 5s]"
	fs := newFlagSet("watch")
	simple := fs.BoolP("simple", "s", false, "plain text output, safe for shared terminals")
	interval := fs.Duration("interval", 0, "refresh interval (default monitor.interval)")
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}
	if *interval < 0 {
		return usageErrorf(usage, "--interval must be positive")
	}

	if !*simple {
		return RunMonitor(env.context(), env.Globals, *interval)
	}
	return env.withRuntime(false, func(rt *Runtime) error {
		every := *interval
		if every == 0 {
			every = rt.Config.Monitor.Interval
		}
		ctx := env.context()
		changes, stop := rt.Watch(ctx)
		defer stop()
		return tui.RunSimple(ctx, env.stdout(), rt.Engine.Snapshot, every, changes)
	})
}

// RunMonitor runs the full-screen monitor until the user quits or ctx is
// cancelled. interval zero means monitor.interval from the config.
func RunMonitor(ctx context.Context, g Globals, interval time.Duration) error {
	rt, err := Open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	if interval == 0 {
		interval = rt.Config.Monitor.Interval
	}

	changes, stop := rt.Watch(ctx)
	defer stop()

	model := tui.NewModel(rt.Engine, tui.Options{
		Title:    rt.Repo.Name,
		Root:     rt.Repo.Root,
		Interval: interval,
		Theme:    rt.Config.Monitor.Theme,
		Changes:  changes,
		Logs:     rt.Logs.Entries(),
	}, rt.Logs)

	rt.Logs.For("app").Info("monitor starting", "root", rt.Repo.Root, "interval", interval)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

func runMCP(env *Env, args []string) error {
	const usage = "Usage: karkinos mcp"
	fs := newFlagSet("mcp")
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}
	return env.withRuntime(false, func(rt *Runtime) error {
		srv := mcp.NewServer(rt.Engine, rt.Hosting(), env.Version, rt.Logs.For("mcp"))
		ctx, cancel := context.WithCancel(env.context())
		defer cancel()
		changes, stop := rt.Watch(ctx)
		defer stop()
		go srv.Follow(ctx, changes)
		return srv.Serve()
	})
}

func runServe(env *Env, args []string) error {
	const usage = "Usage: karkinos serve [--bind 127.0.0.1] [--port 7337]"
	fs := newFlagSet("serve")
	bind := fs.String("bind", "", "address to listen on (default web.bind)")
	port := fs.Int("port", -1, "port to listen on, 0 for any free port (default web.port)")
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}
	if *port > 65535 {
		return usageErrorf(usage, "--port %d out of range", *port)
	}

	return env.withRuntime(false, func(rt *Runtime) error {
		cfg := web.Config{Bind: rt.Config.Web.Bind, Port: rt.Config.Web.Port}
		if *bind != "" {
			cfg.Bind = *bind
		}
		if *port >= 0 {
			cfg.Port = *port
		}

		dir := rt.Repo.CommonDir
		fl, err := instance.Lock(dir)
		if err != nil {
			return err
		}
		defer instance.Cleanup(dir, fl)

		logger := rt.Logs.For("app")
		srv := web.New(cfg, rt.Engine, rt.Metrics, rt.Logs)
		ln, err := srv.Listen()
		if err != nil {
			return err
		}
		if err := instance.WritePort(dir, srv.Addr()); err != nil {
			_ = ln.Close()
			return fmt.Errorf("writing port file: %w", err)
		}

		ctx := env.context()
		changes, stop := rt.Watch(ctx)
		defer stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-changes:
					if !ok {
						return
					}
					srv.Refresh()
				}
			}
		}()

		errc := make(chan error, 1)
		go func() { errc <- srv.Serve(ln) }()
		fmt.Fprintf(env.stdout(), "karkinos serving %s at http://%s\n", rt.Repo.Root, srv.Addr())

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	})
}

func runCleanupLock(env *Env, args []string) error {
	const usage = "Usage: karkinos cleanup-lock"
	fs := newFlagSet("cleanup-lock")
	if err := parse(fs, usage, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf(usage, "unexpected argument %q", fs.Arg(0))
	}

	start := env.Globals.RepoDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		start = wd
	}
	info, err := repo.Discover(start)
	if err != nil {
		return err
	}
	removed, err := instance.RemoveStale(info.CommonDir)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintln(env.stdout(), "Removed stale port file.")
	} else {
		fmt.Fprintln(env.stdout(), "Nothing to clean up.")
	}
	return nil
}

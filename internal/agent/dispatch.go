// pattern: Imperative Shell

// Package agent launches an opaque agent process inside a freshly created
// worker. The process is awaited, its output recorded, never interpreted.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/logging"
)

// Workers is the part of the engine a Dispatcher needs.
type Workers interface {
	CreateWorker(ctx context.Context, req engine.CreateRequest) (engine.CreateResult, error)
	Details(ctx context.Context, target string) (engine.Details, error)
}

// Options configure how the agent process is run.
type Options struct {
	// Command is the agent argv; TaskToken marks where the task goes.
	Command []string
	// UsePTY runs the agent on a pseudo-terminal, falling back to pipes
	// where one cannot be allocated.
	UsePTY bool
	// TranscriptDir receives one <run id>.log per run when set.
	TranscriptDir string
}

// Result reports one dispatched run. ExitCode is -1 when the process
// could not be started or was cancelled.
type Result struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Branch     string        `json:"branch" yaml:"branch"`
	Path       string        `json:"path" yaml:"path"`
	ExitCode   int           `json:"exit_code" yaml:"exit_code"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Ahead      int           `json:"ahead" yaml:"ahead"`
	Transcript string        `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

type Dispatcher struct {
	workers Workers
	opts    Options
	logger  *logging.ScopedLogger
	newID   func() string
	now     func() time.Time
}

func NewDispatcher(workers Workers, opts Options, logger *logging.ScopedLogger) *Dispatcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dispatcher{
		workers: workers,
		opts:    opts,
		logger:  logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Dispatch creates the worker for spec through the conflict gate and runs
// the agent in it until it exits. A conflict or creation failure returns
// an error and runs nothing; a non-zero exit is reported in Result.
func (d *Dispatcher) Dispatch(ctx context.Context, spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	argv, err := Argv(d.opts.Command, spec.Task)
	if err != nil {
		return Result{}, err
	}

	created, err := d.workers.CreateWorker(ctx, spec.Request())
	if err != nil {
		return Result{}, err
	}

	res := Result{RunID: d.newID(), Name: spec.Name, Branch: created.Branch, Path: created.Path}
	log := d.logger.With("run_id", res.RunID, "branch", res.Branch)

	out, closeOut, err := d.output(&res, log)
	if err != nil {
		return res, err
	}
	defer closeOut()

	log.Info("agent started", "path", res.Path, "binary", argv[0])
	start := d.now()
	res.ExitCode, err = run(ctx, res.Path, argv, d.opts.UsePTY, out)
	res.Duration = d.now().Sub(start)
	if err != nil {
		res.Error = err.Error()
		log.Warn("agent did not finish", "error", err)
	} else {
		log.Info("agent exited", "exit_code", res.ExitCode, "duration", res.Duration)
	}

	if det, derr := d.workers.Details(context.WithoutCancel(ctx), res.Branch); derr == nil {
		res.Ahead = det.AheadCount
	} else {
		log.Warn("status after run unavailable", "error", derr)
	}
	return res, nil
}

// DispatchAll runs every spec concurrently. Specs that cannot start are
// reported with Error set; the first such error is also returned.
func (d *Dispatcher) DispatchAll(ctx context.Context, specs []Spec) ([]Result, error) {
	results := make([]Result, len(specs))
	var g errgroup.Group
	var mu sync.Mutex
	var first error
	for i, spec := range specs {
		g.Go(func() error {
			res, err := d.Dispatch(ctx, spec)
			if err != nil {
				res.Name = spec.Label()
				res.ExitCode = -1
				res.Error = err.Error()
				mu.Lock()
				if first == nil {
					first = fmt.Errorf("%s: %w", spec.Label(), err)
				}
				mu.Unlock()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, first
}

// output fans agent lines out to the logger and, when configured, to a
// transcript file named after the run.
func (d *Dispatcher) output(res *Result, log *logging.ScopedLogger) (func(stream, line string), func(), error) {
	var mu sync.Mutex
	var transcript *os.File
	if d.opts.TranscriptDir != "" {
		if err := os.MkdirAll(d.opts.TranscriptDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating transcript directory: %w", err)
		}
		res.Transcript = filepath.Join(d.opts.TranscriptDir, res.RunID+".log")
		f, err := os.Create(res.Transcript)
		if err != nil {
			return nil, nil, fmt.Errorf("creating transcript: %w", err)
		}
		transcript = f
	}
	write := func(stream, line string) {
		log.Debug(line, "stream", stream)
		if transcript == nil {
			return
		}
		mu.Lock()
		fmt.Fprintln(transcript, line)
		mu.Unlock()
	}
	closeFn := func() {
		if transcript != nil {
			if err := transcript.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				log.Warn("closing transcript", "error", err)
			}
		}
	}
	return write, closeFn, nil
}

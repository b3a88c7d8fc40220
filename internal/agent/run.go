// pattern: Imperative Shell

package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// run starts argv in dir and streams its output line by line to out until
// it exits. The exit code is -1 when the process did not run to completion.
func run(ctx context.Context, dir string, argv []string, usePTY bool, out func(stream, line string)) (int, error) {
	if usePTY {
		cmd := command(ctx, dir, argv)
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
		if err == nil {
			defer ptmx.Close()
			scan(ptmx, "pty", out)
			return wait(ctx, cmd)
		}
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return -1, err
		}
		out("karkinos", "pseudo-terminal unavailable, using pipes: "+err.Error())
	}

	cmd := command(ctx, dir, argv)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scan(stdout, "stdout", out)
	}()
	go func() {
		defer wg.Done()
		scan(stderr, "stderr", out)
	}()
	wg.Wait()
	return wait(ctx, cmd)
}

func command(ctx context.Context, dir string, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	return cmd
}

// scan reads r until EOF or a read error; a pty reports EIO once the child
// has exited, which ends the transcript like EOF.
func scan(r io.Reader, stream string, out func(stream, line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		out(stream, scanner.Text())
	}
}

func wait(ctx context.Context, cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

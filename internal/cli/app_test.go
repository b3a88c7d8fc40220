package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestApp() (*App, *bytes.Buffer, *bytes.Buffer, *int) {
	app := NewApp("1.0.0")
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := -1
	app.Stdout = stdout
	app.Stderr = stderr
	app.ExitFunc = func(c int) { code = c }
	return app, stdout, stderr, &code
}

func TestApp_PrintHelp_ListsCommandsInOrder(t *testing.T) {
	app, _, _, _ := newTestApp()
	app.AddCommand(&Command{Name: "list", Summary: "List active workers"})
	app.AddCommand(&Command{Name: "create", Summary: "Create a worker"})

	buf := &bytes.Buffer{}
	app.PrintHelp(buf)
	out := buf.String()

	if !strings.Contains(out, "Usage: karkinos [options] [command]") {
		t.Errorf("help missing usage line:\n%s", out)
	}
	list, create := strings.Index(out, "list"), strings.Index(out, "create")
	if list < 0 || create < 0 || list > create {
		t.Errorf("commands not listed in registration order:\n%s", out)
	}
	if !strings.Contains(out, "Launch the interactive monitor") {
		t.Errorf("help missing the no-command entry:\n%s", out)
	}
}

func TestApp_Execute_NoArgs_ReturnsTrueForMonitor(t *testing.T) {
	app, _, _, _ := newTestApp()
	if !app.Execute(nil) {
		t.Error("Execute(nil) = false, want true")
	}
}

func TestApp_Execute_Dispatches(t *testing.T) {
	app, _, _, code := newTestApp()
	var got []string
	app.AddCommand(&Command{
		Name: "check",
		Run: func(args []string) error {
			got = args
			return nil
		},
	})

	if app.Execute([]string{"check", "src/**", "docs"}) {
		t.Error("Execute with a command returned true")
	}
	if strings.Join(got, " ") != "src/** docs" {
		t.Errorf("args = %q", got)
	}
	if *code != -1 {
		t.Errorf("ExitFunc called with %d on success", *code)
	}
}

func TestApp_Execute_HelpFlagPrintsUsage(t *testing.T) {
	app, stdout, _, _ := newTestApp()
	called := false
	app.AddCommand(&Command{
		Name:  "remove",
		Usage: "Usage: karkinos remove <branch|path>",
		Run: func([]string) error {
			called = true
			return nil
		},
	})

	app.Execute([]string{"remove", "--help"})
	if called {
		t.Error("command ran despite --help")
	}
	if !strings.Contains(stdout.String(), "Usage: karkinos remove") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestApp_Execute_HelpAfterDoubleDashIsAnArgument(t *testing.T) {
	app, _, _, _ := newTestApp()
	var got []string
	app.AddCommand(&Command{Name: "check", Run: func(args []string) error {
		got = args
		return nil
	}})

	app.Execute([]string{"check", "--", "--help"})
	if len(got) != 2 || got[1] != "--help" {
		t.Errorf("args = %q", got)
	}
}

func TestApp_Execute_UnknownCommand(t *testing.T) {
	app, _, stderr, code := newTestApp()
	app.Execute([]string{"bogus"})

	if *code != ExitInvalid {
		t.Errorf("exit code = %d, want %d", *code, ExitInvalid)
	}
	if !strings.Contains(stderr.String(), `unknown command "bogus"`) {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestApp_Execute_ErrorSetsExitCode(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantUsage bool
	}{
		{"generic", errors.New("boom"), ExitFailure, false},
		{"usage", usageErrorf("Usage: karkinos x", "missing branch"), ExitInvalid, true},
		{"blocked", &blockedError{msg: "2 file(s) already changed"}, ExitBlocked, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _, stderr, code := newTestApp()
			app.AddCommand(&Command{Name: "x", Run: func([]string) error { return tt.err }})

			app.Execute([]string{"x"})
			if *code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", *code, tt.wantCode)
			}
			if !strings.HasPrefix(stderr.String(), "error: "+tt.err.Error()) {
				t.Errorf("stderr = %q", stderr.String())
			}
			if got := strings.Contains(stderr.String(), "Usage: karkinos x"); got != tt.wantUsage {
				t.Errorf("usage printed = %v, want %v", got, tt.wantUsage)
			}
		})
	}
}

package agent

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseSpecs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Spec
		wantErr string
	}{
		{
			name:  "single mapping",
			input: "branch: feat/login\ntask: add a login form\nfiles: [src/login.py]\n",
			want:  []Spec{{Branch: "feat/login", Task: "add a login form", Files: []string{"src/login.py"}}},
		},
		{
			name:  "list",
			input: "- kind: fix\n  slug: typo\n  task: fix the typo\n- branch: docs/readme\n  task: update README\n",
			want: []Spec{
				{Kind: "fix", Slug: "typo", Task: "fix the typo"},
				{Branch: "docs/readme", Task: "update README"},
			},
		},
		{
			name:  "workers key",
			input: "workers:\n  - name: api\n    branch: feat/api\n    base: develop\n    task: build the API\n    files: [\"api/**\"]\n",
			want:  []Spec{{Name: "api", Branch: "feat/api", Base: "develop", Task: "build the API", Files: []string{"api/**"}}},
		},
		{name: "empty", input: "", wantErr: "empty"},
		{name: "no workers", input: "workers: []\n", wantErr: "no workers"},
		{name: "missing task", input: "branch: feat/x\n", wantErr: "task is required"},
		{name: "missing name", input: "task: something\n", wantErr: "branch or kind and slug"},
		{name: "scalar", input: "just text\n", wantErr: "mapping or a list"},
		{name: "malformed", input: "branch: [unclosed\n", wantErr: "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpecs([]byte(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseSpecs() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpecs() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSpecs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.yaml")
	if err := os.WriteFile(path, []byte("branch: feat/x\ntask: do it\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	specs, err := LoadSpecs(path)
	if err != nil {
		t.Fatalf("LoadSpecs() error = %v", err)
	}
	if len(specs) != 1 || specs[0].Branch != "feat/x" {
		t.Errorf("LoadSpecs() = %+v", specs)
	}

	if _, err := LoadSpecs(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestArgv(t *testing.T) {
	task := "fix it; rm -rf / && echo $HOME"
	tests := []struct {
		name    string
		command []string
		want    []string
		wantErr bool
	}{
		{"token replaced", []string{"claude", "-p", "{task}"}, []string{"claude", "-p", task}, false},
		{"token inside flag", []string{"agent", "--prompt={task}"}, []string{"agent", "--prompt=" + task}, false},
		{"appended", []string{"agent", "--yes"}, []string{"agent", "--yes", task}, false},
		{"empty command", nil, nil, true},
		{"token as binary", []string{"{task}"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Argv(tt.command, task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Argv() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Argv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpecRequestAndLabel(t *testing.T) {
	s := Spec{Kind: "feat", Slug: "x", Base: "develop", Files: []string{"a"}, Task: "t"}
	req := s.Request()
	if req.Kind != "feat" || req.Slug != "x" || req.Base != "develop" || len(req.Files) != 1 {
		t.Errorf("Request() = %+v", req)
	}
	if s.Label() != "feat/x" {
		t.Errorf("Label() = %q", s.Label())
	}
	s.Name = "named"
	if s.Label() != "named" {
		t.Errorf("Label() = %q", s.Label())
	}
}

package gitcmd

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "main", false},
		{"kind and slug", "feat/login-form", false},
		{"nested", "user/123/fix_it", false},
		{"dots inside", "release-1.2", false},
		{"empty", "", true},
		{"leading dash", "-f", true},
		{"leading dash option", "--force", true},
		{"colon", "feat:x", true},
		{"double dot", "feat/../main", true},
		{"double dot bare", "a..b", true},
		{"double slash", "feat//x", true},
		{"leading slash", "/feat", true},
		{"trailing slash", "feat/", true},
		{"trailing dot", "feat.", true},
		{"at sign alone", "@", true},
		{"space", "feat x", true},
		{"shell metachar", "feat;rm", true},
		{"lock suffix", "feat.lock", true},
		{"hidden component", "feat/.x", true},
		{"dash component", "feat/-x", true},
		{"too long", strings.Repeat("a", maxBranchNameLen+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranchName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBranchName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				var invalid *InvalidNameError
				if !errors.As(err, &invalid) {
					t.Errorf("error type = %T, want *InvalidNameError", err)
				}
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"src/a.go", false},
		{"/abs/path", false},
		{"", true},
		{"-rf", true},
		{"a\x00b", true},
		{"a\nb", true},
	}
	for _, tt := range tests {
		if err := ValidatePath(tt.input); (err != nil) != tt.wantErr {
			t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestValidateRemote(t *testing.T) {
	if err := ValidateRemote("origin"); err != nil {
		t.Errorf("ValidateRemote(origin) = %v", err)
	}
	if err := ValidateRemote("up/stream"); err == nil {
		t.Error("ValidateRemote should reject '/'")
	}
}

func TestArgv_Build(t *testing.T) {
	args, err := Git("diff", "--name-only").EndOfOptions().Range("main", "...", "feat/x").Paths("src/a.go").Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{"diff", "--name-only", "--end-of-options", "main...feat/x", "--", "src/a.go"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestArgv_FirstErrorSticks(t *testing.T) {
	_, err := Git("log").Branch("-x").Branch("ok").Build()
	var invalid *InvalidNameError
	if !errors.As(err, &invalid) {
		t.Fatalf("Build() error = %v, want *InvalidNameError", err)
	}
	if invalid.Name != "-x" {
		t.Errorf("Name = %q, want %q", invalid.Name, "-x")
	}
}

func TestArgv_RangeRejectsBadOperator(t *testing.T) {
	if _, err := Git("log").Range("a", "....", "b").Build(); err == nil {
		t.Error("expected error for bad range operator")
	}
	if _, err := Git("log").Range("a", "..", "-b").Build(); err == nil {
		t.Error("expected error for flag-like right side")
	}
}

func TestArgv_PathsEmptyAddsNothing(t *testing.T) {
	args, err := Git("status").Paths().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(args) != 1 {
		t.Errorf("args = %v, want [status]", args)
	}
}

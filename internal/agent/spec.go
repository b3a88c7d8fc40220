// pattern: Functional Core

package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schmug/karkinos/internal/engine"
)

// TaskToken is replaced by the task text in the agent command.
const TaskToken = "{task}"

// Spec is one unit of work for an agent. The worker is named by Branch or
// by Kind and Slug; Files declares what the agent intends to touch and
// feeds the conflict gate.
type Spec struct {
	Name   string   `yaml:"name,omitempty" json:"name,omitempty"`
	Branch string   `yaml:"branch,omitempty" json:"branch,omitempty"`
	Kind   string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Slug   string   `yaml:"slug,omitempty" json:"slug,omitempty"`
	Base   string   `yaml:"base,omitempty" json:"base,omitempty"`
	Task   string   `yaml:"task" json:"task"`
	Files  []string `yaml:"files,omitempty" json:"files,omitempty"`
}

// Request converts the spec into a worker creation request.
func (s Spec) Request() engine.CreateRequest {
	return engine.CreateRequest{Branch: s.Branch, Kind: s.Kind, Slug: s.Slug, Base: s.Base, Files: s.Files}
}

// Label names the spec in logs and reports.
func (s Spec) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Branch != "":
		return s.Branch
	default:
		return s.Kind + "/" + s.Slug
	}
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Task) == "" {
		return fmt.Errorf("spec %s: task is required", s.Label())
	}
	if s.Branch == "" && (s.Kind == "" || s.Slug == "") {
		return fmt.Errorf("spec %s: branch or kind and slug are required", s.Label())
	}
	return nil
}

type specFile struct {
	Workers []Spec `yaml:"workers"`
}

// ParseSpecs reads either a single spec, a list of specs, or a mapping
// with a "workers" list.
func ParseSpecs(data []byte) ([]Spec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing worker specs: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("worker spec file is empty")
	}
	doc := root.Content[0]

	var specs []Spec
	switch {
	case doc.Kind == yaml.SequenceNode:
		if err := doc.Decode(&specs); err != nil {
			return nil, fmt.Errorf("decoding worker specs: %w", err)
		}
	case doc.Kind == yaml.MappingNode && hasKey(doc, "workers"):
		var f specFile
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("decoding worker specs: %w", err)
		}
		specs = f.Workers
	case doc.Kind == yaml.MappingNode:
		var s Spec
		if err := doc.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding worker spec: %w", err)
		}
		specs = []Spec{s}
	default:
		return nil, errors.New("worker spec file must be a mapping or a list")
	}

	if len(specs) == 0 {
		return nil, errors.New("worker spec file lists no workers")
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// LoadSpecs reads worker specs from a YAML file.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSpecs(data)
}

func hasKey(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return true
		}
	}
	return false
}

// Argv substitutes task into command. The task always stays within one
// argument; when no argument carries TaskToken it is appended.
func Argv(command []string, task string) ([]string, error) {
	if len(command) == 0 {
		return nil, errors.New("agent command is not configured")
	}
	if strings.Contains(command[0], TaskToken) {
		return nil, fmt.Errorf("agent command must not start with %s", TaskToken)
	}
	out := make([]string, len(command))
	substituted := false
	for i, arg := range command {
		if strings.Contains(arg, TaskToken) {
			arg = strings.ReplaceAll(arg, TaskToken, task)
			substituted = true
		}
		out[i] = arg
	}
	if !substituted {
		out = append(out, task)
	}
	return out, nil
}

// pattern: Imperative Shell

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format selects machine-readable output.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatYAML
)

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// PrintYAML writes v as a YAML document.
func PrintYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return encoder.Close()
}

// render writes v in format, calling text for FormatText.
func render(w io.Writer, format Format, v any, text func(io.Writer) error) error {
	switch format {
	case FormatJSON:
		return PrintJSON(w, v)
	case FormatYAML:
		return PrintYAML(w, v)
	default:
		return text(w)
	}
}

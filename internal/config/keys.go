// pattern: Functional Core

package config

import (
	"reflect"
	"strings"
)

// defaultValues flattens DefaultConfig into dotted koanf keys, e.g.
// "monitor.interval".
func defaultValues() map[string]any {
	out := map[string]any{}
	flatten(reflect.ValueOf(DefaultConfig()), "", out)
	return out
}

func knownKeys() map[string]bool {
	keys := map[string]bool{}
	for k := range defaultValues() {
		keys[k] = true
	}
	return keys
}

func flatten(v reflect.Value, prefix string, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() == t.PkgPath() {
			flatten(v.Field(i), key+".", out)
			continue
		}
		out[key] = v.Field(i).Interface()
	}
}

// splitList expands a single comma-separated entry, the shape an
// environment variable produces.
func splitList(in []string) []string {
	if len(in) != 1 || !strings.Contains(in[0], ",") {
		return in
	}
	var out []string
	for _, part := range strings.Split(in[0], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitFields expands a single whitespace-separated command string.
func splitFields(in []string) []string {
	if len(in) != 1 {
		return in
	}
	return strings.Fields(in[0])
}

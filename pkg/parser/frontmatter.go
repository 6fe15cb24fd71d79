package parser

import (
	"fmt"
	"strings"

	meta "github.com/yuin/goldmark-meta"
	gparser "github.com/yuin/goldmark/parser"
)

// FrontMatter holds the optional YAML header of a playbook.
type FrontMatter struct {
	Title     string            `json:"title,omitempty"`
	Model     string            `json:"model,omitempty"`
	Context   string            `json:"context,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Values    map[string]any    `json:"values,omitempty"`
}

// frontMatterEnd returns the index of the closing separator line of a front
// matter block starting at line 0, or -1 when the document has none.
func frontMatterEnd(lines []string) int {
	if len(lines) == 0 || !isDashLine(lines[0]) || len(strings.TrimSpace(lines[0])) < 3 {
		return -1
	}
	for i := 1; i < len(lines); i++ {
		if isDashLine(lines[i]) {
			return i
		}
	}
	return -1
}

func isDashLine(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	return strings.Trim(t, "-") == ""
}

// decodeFrontMatter reads the metadata collected by goldmark-meta during
// the document parse.
func decodeFrontMatter(pc gparser.Context) (FrontMatter, error) {
	raw, err := meta.TryGet(pc)
	if err != nil {
		return FrontMatter{}, err
	}
	fm := FrontMatter{}
	if len(raw) == 0 {
		return fm, nil
	}
	fm.Values = make(map[string]any, len(raw))
	for k, v := range raw {
		fm.Values[k] = normalizeYAML(v)
	}
	fm.Title = stringValue(fm.Values["title"])
	fm.Model = stringValue(fm.Values["model"])
	fm.Context = stringValue(fm.Values["context"])
	if vars, ok := fm.Values["variables"].(map[string]any); ok {
		fm.Variables = make(map[string]string, len(vars))
		for k, v := range vars {
			fm.Variables[k] = stringValue(v)
		}
	}
	return fm, nil
}

// normalizeYAML converts yaml.v2 style map[interface{}]interface{} values into
// JSON-friendly map[string]any recursively.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

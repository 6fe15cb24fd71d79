package skills

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// PromptSkill is a SKILL.md file: front matter describing the skill and a
// Markdown body sent to the model as the prompt.
type PromptSkill struct {
	name           string
	description    string
	directory      string
	body           string
	model          string
	system         string
	registerAsTool bool
	schema         *jsonschema.Schema
}

// PromptParameter is a declared flag of a prompt skill.
type PromptParameter struct {
	Name        string
	Description string
	Required    bool
}

// LoadPromptSkill reads and validates a SKILL.md file.
func LoadPromptSkill(path string) (*PromptSkill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()

	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter")
	}
	if metaData == nil {
		return nil, errors.New("missing frontmatter")
	}

	name, _ := metaData["name"].(string)
	description, _ := metaData["description"].(string)

	if name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if description == "" {
		return nil, errors.New("skill description is required in frontmatter")
	}

	s := &PromptSkill{
		name:           name,
		description:    description,
		directory:      filepath.Dir(path),
		body:           ExtractBodyContent(string(content)),
		registerAsTool: true,
	}
	s.model, _ = metaData["model"].(string)
	s.system, _ = metaData["system"].(string)
	if v, ok := metaData["register_as_tool"].(bool); ok {
		s.registerAsTool = v
	}
	params, err := promptParameters(metaData["parameters"])
	if err != nil {
		return nil, err
	}
	s.schema = promptSchema(params)
	return s, nil
}

func promptParameters(raw any) ([]PromptParameter, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("parameters must be a list")
	}
	var out []PromptParameter
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, PromptParameter{Name: v})
		case map[any]any:
			p := PromptParameter{}
			p.Name, _ = v["name"].(string)
			p.Description, _ = v["description"].(string)
			p.Required, _ = v["required"].(bool)
			if p.Name == "" {
				return nil, errors.New("parameter name is required")
			}
			out = append(out, p)
		default:
			return nil, errors.Errorf("unsupported parameter declaration %v", item)
		}
	}
	return out, nil
}

func promptSchema(params []PromptParameter) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	schema.Properties.Set("prompt", &jsonschema.Schema{
		Type:        "string",
		Description: "Additional instructions appended to the skill prompt",
	})
	for _, p := range params {
		schema.Properties.Set(p.Name, &jsonschema.Schema{Type: "string", Description: p.Description})
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	schema.Properties.Set(VariableParam, &jsonschema.Schema{
		Type:        "string",
		Description: "Variable that receives the reply",
	})
	if len(params) > 0 {
		schema.AdditionalProperties = jsonschema.FalseSchema
	}
	return schema
}

// ExtractBodyContent removes YAML frontmatter and returns the body
func ExtractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}

func (s *PromptSkill) Name() string                   { return s.name }
func (s *PromptSkill) Description() string            { return s.description }
func (s *PromptSkill) Parameters() *jsonschema.Schema { return s.schema }
func (s *PromptSkill) RegisterAsTool() bool           { return s.registerAsTool }

// Directory is the folder holding SKILL.md.
func (s *PromptSkill) Directory() string { return s.directory }

// Body is the prompt template.
func (s *PromptSkill) Body() string { return s.body }

// Render fills {{name}} placeholders with flag values and appends the
// --prompt flag, if any.
func (s *PromptSkill) Render(params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("{{%s}}", k), params[k])
	}
	out := strings.TrimSpace(strings.NewReplacer(pairs...).Replace(s.body))
	if extra := strings.TrimSpace(params["prompt"]); extra != "" {
		out += "\n\n" + extra
	}
	return out
}

func (s *PromptSkill) Execute(ctx context.Context, api API, params Params) (Result, error) {
	if _, err := Validate(s.schema, params); err != nil {
		return Result{}, err
	}
	return Ask(ctx, api, s.model, s.system, s.Render(params))
}

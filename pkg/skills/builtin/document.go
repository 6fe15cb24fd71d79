package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// DocumentSkill loads a Markdown document, without its front matter, into
// the current context.
type DocumentSkill struct{}

type DocumentInput struct {
	Path     string `json:"path" jsonschema:"description=Markdown document path, relative to the document directory"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the document body"`
}

// Document is a loaded Markdown document.
type Document struct {
	Path     string
	Title    string
	Metadata map[string]any
	Body     string
}

func (s *DocumentSkill) Name() string { return "document" }

func (s *DocumentSkill) Description() string {
	return "Load a Markdown document into the current context. YAML front matter is stripped; its title, if any, labels the message."
}

func (s *DocumentSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[DocumentInput]()
}

func (s *DocumentSkill) RegisterAsTool() bool { return true }

// LoadDocument reads path and splits front matter from the body.
func LoadDocument(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read document %s", path)
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}
	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter")
	}

	doc := &Document{
		Path:     path,
		Metadata: metaData,
		Body:     strings.TrimSpace(skills.ExtractBodyContent(string(content))),
	}
	if title, ok := metaData["title"].(string); ok {
		doc.Title = title
	}
	if len(doc.Body) > MaxOutputBytes {
		doc.Body = doc.Body[:MaxOutputBytes] + fmt.Sprintf("\n\n[TRUNCATED - document exceeded %d bytes]", MaxOutputBytes)
	}
	return doc, nil
}

func (s *DocumentSkill) Execute(_ context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in DocumentInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	doc, err := LoadDocument(resolvePath(api, in.Path))
	if err != nil {
		return skills.Result{}, err
	}

	label := in.Path
	if doc.Title != "" {
		label = fmt.Sprintf("%s (%s)", doc.Title, in.Path)
	}
	return skills.Result{
		Value: doc.Body,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fmt.Sprintf("[document] %s\n\n%s", label, doc.Body)),
		},
	}, nil
}

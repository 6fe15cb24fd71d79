package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

// FileSkill reads a file into the current context, or writes one.
type FileSkill struct{}

type FileInput struct {
	Path     string `json:"path" jsonschema:"description=File path, relative to the document directory"`
	Write    string `json:"write,omitempty" jsonschema:"description=Content to write instead of reading"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the file content"`
}

func (s *FileSkill) Name() string { return "file" }

func (s *FileSkill) Description() string {
	return `Read a file and add its content to the current context, or write --write content to it.`
}

func (s *FileSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[FileInput]()
}

func (s *FileSkill) RegisterAsTool() bool { return true }

// resolvePath interprets path relative to the working directory.
func resolvePath(api skills.API, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(api.WorkDir(), path)
}

func (s *FileSkill) Execute(_ context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in FileInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	path := resolvePath(api, in.Path)

	if _, ok := params["write"]; ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return skills.Result{}, errors.Wrap(err, "failed to create parent directory")
		}
		if err := os.WriteFile(path, []byte(in.Write), 0o644); err != nil {
			return skills.Result{}, errors.Wrapf(err, "failed to write %s", in.Path)
		}
		return skills.Result{
			Value: path,
			Messages: []contexts.Message{
				contexts.NewMessage(contexts.RoleAgent, fmt.Sprintf("[file] wrote %d bytes to %s", len(in.Write), in.Path)),
			},
		}, nil
	}

	content, err := readText(path)
	if err != nil {
		return skills.Result{}, err
	}
	return skills.Result{
		Value: content,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fileMessage(in.Path, content)),
		},
	}, nil
}

// readText reads a UTF-8 file, truncating it at MaxOutputBytes.
func readText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", path)
	}
	if info.IsDir() {
		return "", errors.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	if !utf8.Valid(data) {
		return "", errors.Errorf("%s is not a text file", path)
	}
	content := string(data)
	if len(content) > MaxOutputBytes {
		content = content[:MaxOutputBytes] + fmt.Sprintf("\n\n[TRUNCATED - file exceeded %d bytes]", MaxOutputBytes)
	}
	return content, nil
}

func fileMessage(name, content string) string {
	fence := "```"
	for strings.Contains(content, fence) {
		fence += "`"
	}
	lang := strings.TrimPrefix(filepath.Ext(name), ".")
	return fmt.Sprintf("[file] %s\n%s%s\n%s\n%s", name, fence, lang, strings.TrimRight(content, "\n"), fence)
}

package builtin

import (
	"context"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

const maxCandidates = 1000

// FilePickerSkill lets the user choose a file and adds it to the current context.
type FilePickerSkill struct{}

type FilePickerInput struct {
	Pattern  string `json:"pattern,omitempty" jsonschema:"description=Glob pattern relative to the document directory (supports **),default=**/*"`
	Prompt   string `json:"prompt,omitempty" jsonschema:"description=Prompt shown while picking"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the chosen path"`
}

func (s *FilePickerSkill) Name() string { return "file-picker" }

func (s *FilePickerSkill) Description() string {
	return "Let the user pick a file matching --pattern and add its content to the current context."
}

func (s *FilePickerSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[FilePickerInput]()
}

func (s *FilePickerSkill) RegisterAsTool() bool { return false }

// Candidates lists regular files under dir matching pattern, sorted.
func Candidates(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**/*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.Errorf("invalid glob pattern %q", pattern)
	}
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob %q", pattern)
	}
	var files []string
	for _, m := range matches {
		info, err := fs.Stat(fsys, m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
		if len(files) >= maxCandidates {
			break
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *FilePickerSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in FilePickerInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	candidates, err := Candidates(api.WorkDir(), in.Pattern)
	if err != nil {
		return skills.Result{}, err
	}
	if len(candidates) == 0 {
		return skills.Result{}, errors.Errorf("no files match %q", in.Pattern)
	}

	prompt := in.Prompt
	if prompt == "" {
		prompt = "Select a file"
	}
	choice, err := api.PickFile(ctx, prompt, candidates)
	if err != nil {
		return skills.Result{}, err
	}

	content, err := readText(resolvePath(api, choice))
	if err != nil {
		return skills.Result{}, err
	}
	return skills.Result{
		Value: choice,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fileMessage(choice, content)),
		},
	}, nil
}

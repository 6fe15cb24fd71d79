package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/iter"
)

const skillFileName = "SKILL.md"

// Discovery finds project-local skills in skill directories. Earlier
// directories take precedence over later ones.
type Discovery struct {
	skillDirs   []string
	allowed     []glob.Glob
	execTimeout time.Duration
	maxOutput   int
}

// Option is a function that configures a Discovery
type Option func(*Discovery) error

// WithSkillDirs sets custom skill directories
func WithSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = dirs
		return nil
	}
}

// WithDefaultDirs uses the repo-local and user-global skill directories.
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.skillDirs = []string{
			"./.playbook/skills",                          // Repo-local (highest precedence)
			filepath.Join(homeDir, ".playbook", "skills"), // User-global
		}
		return nil
	}
}

// WithAllowlist restricts local skills to names matching one of the glob patterns.
func WithAllowlist(patterns ...string) Option {
	return func(d *Discovery) error {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "invalid skill allowlist pattern %q", p)
			}
			d.allowed = append(d.allowed, g)
		}
		return nil
	}
}

// WithExecutableTimeout bounds the run of executable skills.
func WithExecutableTimeout(timeout time.Duration) Option {
	return func(d *Discovery) error {
		if timeout > 0 {
			d.execTimeout = timeout
		}
		return nil
	}
}

// NewDiscovery creates a new skill discovery instance
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{
		execTimeout: 30 * time.Second,
		maxOutput:   100 * 1024,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.skillDirs == nil {
		if err := WithDefaultDirs()(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Dirs returns the directories scanned, in precedence order.
func (d *Discovery) Dirs() []string {
	return append([]string(nil), d.skillDirs...)
}

func (d *Discovery) isAllowed(name string) bool {
	if len(d.allowed) == 0 {
		return true
	}
	for _, g := range d.allowed {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Discover loads every local skill. Skills that fail to load are skipped and
// reported together in the returned error; the entries found are still valid.
func (d *Discovery) Discover(ctx context.Context) ([]Entry, error) {
	var result *multierror.Error
	seen := make(map[string]string)
	var entries []Entry

	for _, dir := range d.skillDirs {
		found, err := d.discoverDir(ctx, dir)
		if err != nil {
			result = multierror.Append(result, err)
		}
		for _, e := range found {
			name := e.Skill.Name()
			if !d.isAllowed(name) {
				logger.G(ctx).WithField("name", name).Debug("skipping skill, not in allowlist")
				continue
			}
			if prev, exists := seen[name]; exists {
				logger.G(ctx).WithField("name", name).WithField("kept", prev).WithField("skipped", e.Source).Debug("skipping skill, higher precedence version exists")
				continue
			}
			seen[name] = e.Source
			entries = append(entries, e)
		}
	}

	logger.G(ctx).WithField("count", len(entries)).Debug("discovered local skills")
	return entries, result.ErrorOrNil()
}

func (d *Discovery) discoverDir(ctx context.Context, dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read skill directory %s", dir)
	}

	var result *multierror.Error
	var prompts, scripts []Entry
	var executables []string

	for _, entry := range dirEntries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		switch {
		case info.IsDir():
			skillPath := filepath.Join(path, skillFileName)
			if _, err := os.Stat(skillPath); err != nil {
				continue
			}
			skill, err := LoadPromptSkill(skillPath)
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "%s", skillPath))
				continue
			}
			prompts = append(prompts, Entry{Skill: skill, Source: skillPath, Kind: "prompt"})
		case strings.HasSuffix(entry.Name(), ".js"):
			skill, err := LoadJavaScriptSkill(path)
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "%s", path))
				continue
			}
			scripts = append(scripts, Entry{Skill: skill, Source: path, Kind: "javascript"})
		case info.Mode().IsRegular() && info.Mode()&0o111 != 0:
			executables = append(executables, path)
		}
	}

	type loaded struct {
		skill *ExecutableSkill
		err   error
	}
	results := iter.Map(executables, func(path *string) loaded {
		skill, err := LoadExecutableSkill(ctx, *path, d.execTimeout, d.maxOutput)
		return loaded{skill: skill, err: err}
	})

	var execs []Entry
	for i, r := range results {
		if r.err != nil {
			result = multierror.Append(result, errors.Wrapf(r.err, "%s", executables[i]))
			continue
		}
		execs = append(execs, Entry{Skill: r.skill, Source: executables[i], Kind: "executable"})
	}

	all := append(append(prompts, scripts...), execs...)
	return all, result.ErrorOrNil()
}

package workspace

import (
	"time"

	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is everything a session needs to open.
type Config struct {
	LLM              llm.Config             `mapstructure:",squash" json:"llm" yaml:"llm"`
	Skills           SkillsConfig           `mapstructure:"skills" json:"skills" yaml:"skills"`
	Contexts         ContextsConfig         `mapstructure:"contexts" json:"contexts" yaml:"contexts"`
	Execute          ExecuteConfig          `mapstructure:"execute" json:"execute" yaml:"execute"`
	ExecutableSkills ExecutableSkillsConfig `mapstructure:"executable_skills" json:"executable_skills" yaml:"executable_skills"`
	Link             LinkConfig             `mapstructure:"link" json:"link" yaml:"link"`
}

// SkillsConfig controls local skill discovery.
type SkillsConfig struct {
	// Dirs overrides ./.playbook/skills and ~/.playbook/skills when set.
	Dirs    []string `mapstructure:"dirs" json:"dirs" yaml:"dirs"`
	Allowed []string `mapstructure:"allowed" json:"allowed" yaml:"allowed"`
	Watch   bool     `mapstructure:"watch" json:"watch" yaml:"watch"`
}

// ContextsConfig controls context persistence and budgets.
type ContextsConfig struct {
	// Store is sqlite, json or none.
	Store  string `mapstructure:"store" json:"store" yaml:"store"`
	Path   string `mapstructure:"path" json:"path" yaml:"path"`
	Budget int    `mapstructure:"budget" json:"budget" yaml:"budget"`
	// Sizer is bytes, heuristic or tiktoken.
	Sizer string `mapstructure:"sizer" json:"sizer" yaml:"sizer"`
}

// ExecuteConfig bounds @execute. Timeout is in seconds.
type ExecuteConfig struct {
	Timeout int `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// ExecutableSkillsConfig bounds executable local skills. Timeout is in seconds.
type ExecutableSkillsConfig struct {
	Timeout int `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// LinkConfig restricts @link fetches to the hosts listed in AllowedDomainsFile.
type LinkConfig struct {
	AllowedDomainsFile string `mapstructure:"allowed_domains_file" json:"allowed_domains_file" yaml:"allowed_domains_file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LLM:              llm.DefaultConfig(),
		Contexts:         ContextsConfig{Store: "sqlite", Sizer: "heuristic"},
		Execute:          ExecuteConfig{Timeout: 120},
		ExecutableSkills: ExecutableSkillsConfig{Timeout: 30},
		Link:             LinkConfig{AllowedDomainsFile: "~/.playbook/allowed_domains.txt"},
	}
}

// ConfigFromViper loads the session configuration from viper.
func ConfigFromViper() (Config, error) {
	config := DefaultConfig()
	llmConfig, err := llm.ConfigFromViper()
	if err != nil {
		return config, errors.Wrap(err, "failed to read model configuration")
	}
	config.LLM = llmConfig

	for key, target := range map[string]any{
		"skills":            &config.Skills,
		"contexts":          &config.Contexts,
		"execute":           &config.Execute,
		"executable_skills": &config.ExecutableSkills,
		"link":              &config.Link,
	} {
		if !viper.IsSet(key) {
			continue
		}
		if err := viper.UnmarshalKey(key, target); err != nil {
			return config, errors.Wrapf(err, "failed to read %s configuration", key)
		}
	}
	return config, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

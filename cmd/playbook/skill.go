package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect available skills",
	Long: `List and describe the skills annotations can invoke: the built-in skills and
the local skills discovered in ./.playbook/skills and ~/.playbook/skills.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered skills",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := listSkillsCmd(cmd.Context()); err != nil {
			presenter.Error(err, "failed to list skills")
			os.Exit(1)
		}
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill's description and parameters",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := showSkillCmd(cmd.Context(), args[0]); err != nil {
			presenter.Error(err, "failed to show skill")
			os.Exit(1)
		}
	},
}

func init() {
	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
}

func openRegistry(ctx context.Context) (*skills.Registry, func(), error) {
	session, err := openSession(ctx, func(c *workspace.Config) {
		c.Contexts.Store = "none"
		c.Skills.Watch = false
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open session")
	}
	return session.Registry(), func() { _ = session.Close() }, nil
}

// skillRows renders registry entries as table rows.
func skillRows(entries []skills.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		tool := ""
		if e.Skill.RegisterAsTool() {
			tool = "yes"
		}
		rows = append(rows, []string{
			e.Skill.Name(),
			e.Kind,
			string(e.Provenance),
			tool,
			firstLine(e.Skill.Description()),
		})
	}
	return rows
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func listSkillsCmd(ctx context.Context) error {
	registry, closeFn, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	presenter.Table([]string{"NAME", "KIND", "SOURCE", "TOOL", "DESCRIPTION"}, skillRows(registry.List()))
	return nil
}

func showSkillCmd(ctx context.Context, name string) error {
	registry, closeFn, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	entry, ok := registry.Lookup(name)
	if !ok {
		return errors.Errorf("skill %q not found", name)
	}

	presenter.Section("@" + entry.Skill.Name())
	presenter.Info(strings.TrimSpace(entry.Skill.Description()))
	presenter.Info("")
	presenter.Info(fmt.Sprintf("Kind:       %s", entry.Kind))
	presenter.Info(fmt.Sprintf("Provenance: %s", entry.Provenance))
	if entry.Source != "" {
		presenter.Info(fmt.Sprintf("Source:     %s", entry.Source))
	}
	presenter.Info(fmt.Sprintf("Tool:       %t", entry.Skill.RegisterAsTool()))

	if schema := entry.Skill.Parameters(); schema != nil {
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode parameters")
		}
		presenter.Info("")
		presenter.Section("Parameters")
		presenter.Info(string(data))
	}
	return nil
}

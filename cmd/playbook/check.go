package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "Report parse errors and unknown skills",
	Long: `Parse playbook documents without running them. Parse errors and annotations
that name no registered skill are reported as file:line:column diagnostics, and
the command exits non-zero when any are found.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCheck(cmd.Context(), args); err != nil {
			presenter.Error(err, "check failed")
			os.Exit(1)
		}
	},
}

// checkDocument returns the parse errors of text plus one diagnostic per
// annotation that resolves to no skill in registry.
func checkDocument(text string, registry *skills.Registry) []parser.ParseError {
	res := parser.Parse(text)
	diags := append([]parser.ParseError(nil), res.Errors...)
	for _, b := range res.Executable() {
		if _, ok := registry.Lookup(b.Name); ok {
			continue
		}
		diags = append(diags, parser.ParseError{
			Message:   fmt.Sprintf("unknown skill @%s", b.Name),
			StartLine: b.NameRange.Line,
			StartChar: b.NameRange.StartChar,
			EndLine:   b.NameRange.Line,
			EndChar:   b.NameRange.EndChar,
		})
	}
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].StartLine < diags[j].StartLine })
	return diags
}

func runCheck(ctx context.Context, paths []string) error {
	session, err := openSession(ctx, func(c *workspace.Config) {
		c.Contexts.Store = "none"
		c.Skills.Watch = false
	})
	if err != nil {
		return errors.Wrap(err, "failed to open session")
	}
	defer session.Close()

	failed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", path)
		}
		diags := checkDocument(string(data), session.Registry())
		if len(diags) > 0 {
			failed++
			presenter.Diagnostics(path, diags)
			continue
		}
		presenter.Success(fmt.Sprintf("%s: ok", path))
	}
	if failed > 0 {
		return errors.Errorf("%d of %d document(s) have problems", failed, len(paths))
	}
	return nil
}

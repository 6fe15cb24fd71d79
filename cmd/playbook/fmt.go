package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aymanbagabas/go-udiff"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// FmtConfig holds configuration for the fmt command
type FmtConfig struct {
	Diff  bool
	Write bool
}

// NewFmtConfig creates a new FmtConfig with default values
func NewFmtConfig() *FmtConfig {
	return &FmtConfig{}
}

var fmtCmd = &cobra.Command{
	Use:   "fmt <file>",
	Short: "Rewrite a playbook document in canonical form",
	Long: `Format a playbook document: annotations start at column zero, flag values are
quoted, and runs of blank lines collapse to one. Documents with parse errors are
left untouched.

By default the formatted document is printed. Use --diff to print a unified
diff instead, or --write to update the file in place.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getFmtConfigFromFlags(cmd)
		if err := runFmt(args[0], config, os.Stdout); err != nil {
			presenter.Error(err, "fmt failed")
			os.Exit(1)
		}
	},
}

func init() {
	defaults := NewFmtConfig()
	fmtCmd.Flags().BoolP("diff", "d", defaults.Diff, "Print a unified diff instead of the formatted document")
	fmtCmd.Flags().BoolP("write", "w", defaults.Write, "Write the result back to the file")
}

func getFmtConfigFromFlags(cmd *cobra.Command) *FmtConfig {
	config := NewFmtConfig()
	if diff, err := cmd.Flags().GetBool("diff"); err == nil {
		config.Diff = diff
	}
	if write, err := cmd.Flags().GetBool("write"); err == nil {
		config.Write = write
	}
	return config
}

// formatDocument returns the canonical form of text, refusing documents
// that do not parse cleanly.
func formatDocument(path, text string) (string, error) {
	res := parser.Parse(text)
	if res.HasBlockingErrors() {
		presenter.Diagnostics(path, res.Errors)
		return "", errors.Errorf("%s has %d parse error(s)", path, len(res.Errors))
	}
	return parser.Format(res), nil
}

func runFmt(path string, config *FmtConfig, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	original := string(data)
	formatted, err := formatDocument(path, original)
	if err != nil {
		return err
	}

	if config.Diff {
		if diff := udiff.Unified(path, path, original, formatted); diff != "" {
			fmt.Fprint(out, diff)
		}
	}
	if config.Write {
		if formatted == original {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return errors.Wrapf(err, "failed to stat %s", path)
		}
		if err := os.WriteFile(path, []byte(formatted), info.Mode().Perm()); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
		presenter.Success(fmt.Sprintf("Formatted %s", path))
		return nil
	}
	if !config.Diff {
		fmt.Fprint(out, formatted)
	}
	return nil
}

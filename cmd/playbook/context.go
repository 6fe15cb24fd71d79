package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ContextExportConfig holds configuration for the context export command
type ContextExportConfig struct {
	Format string
	Output string
}

// NewContextExportConfig creates a new ContextExportConfig with default values
func NewContextExportConfig() *ContextExportConfig {
	return &ContextExportConfig{Format: "json"}
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage stored contexts",
	Long:  `List, show, delete, export and import contexts saved with @context --store.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contexts",
	Run: func(cmd *cobra.Command, _ []string) {
		exitOnError(withStore(cmd.Context(), listContexts), "failed to list contexts")
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the messages of a stored context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(withStore(cmd.Context(), func(ctx context.Context, store contexts.Store) error {
			return showContext(ctx, store, args[0], os.Stdout)
		}), "failed to show context")
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(withStore(cmd.Context(), func(ctx context.Context, store contexts.Store) error {
			if err := store.Delete(ctx, args[0]); err != nil {
				return err
			}
			presenter.Success(fmt.Sprintf("Deleted context %s", args[0]))
			return nil
		}), "failed to delete context")
	},
}

var contextExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Export a stored context as JSON or YAML",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getContextExportConfigFromFlags(cmd)
		exitOnError(withStore(cmd.Context(), func(ctx context.Context, store contexts.Store) error {
			return exportContext(ctx, store, args[0], config, os.Stdout)
		}), "failed to export context")
	},
}

var contextImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a context from a JSON or YAML file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(withStore(cmd.Context(), func(ctx context.Context, store contexts.Store) error {
			return importContext(ctx, store, args[0])
		}), "failed to import context")
	},
}

func init() {
	defaults := NewContextExportConfig()
	contextExportCmd.Flags().StringP("format", "f", defaults.Format, "Output format (json or yaml)")
	contextExportCmd.Flags().StringP("output", "o", defaults.Output, "Write to a file instead of stdout")

	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextDeleteCmd)
	contextCmd.AddCommand(contextExportCmd)
	contextCmd.AddCommand(contextImportCmd)
}

func getContextExportConfigFromFlags(cmd *cobra.Command) *ContextExportConfig {
	config := NewContextExportConfig()
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}
	return config
}

func exitOnError(err error, msg string) {
	if err != nil {
		presenter.Error(err, msg)
		os.Exit(1)
	}
}

// withStore opens the configured context store for the duration of f.
func withStore(ctx context.Context, f func(context.Context, contexts.Store) error) error {
	config, err := workspace.ConfigFromViper()
	if err != nil {
		return err
	}
	if config.Contexts.Store == "none" {
		return errors.New("context persistence is disabled (contexts.store is none)")
	}
	store, err := contexts.OpenStore(ctx, config.Contexts.Store, config.Contexts.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open context store")
	}
	defer store.Close()
	return f(ctx, store)
}

func listContexts(ctx context.Context, store contexts.Store) error {
	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		presenter.Info("No stored contexts")
		return nil
	}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		budget := "-"
		if s.TokenBudget > 0 {
			budget = strconv.Itoa(s.TokenBudget)
		}
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.MessageCount),
			budget,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	presenter.Table([]string{"NAME", "MESSAGES", "BUDGET", "UPDATED"}, rows)
	return nil
}

func showContext(ctx context.Context, store contexts.Store, name string, out io.Writer) error {
	c, err := store.Load(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s (%d messages)\n", c.Name, len(c.Messages))
	for _, m := range c.Messages {
		fmt.Fprintf(out, "\n[%s] %s\n%s\n", m.Role, m.Timestamp.Local().Format("2006-01-02 15:04:05"), m.Content)
	}
	return nil
}

func exportContext(ctx context.Context, store contexts.Store, name string, config *ContextExportConfig, out io.Writer) error {
	format, err := contexts.ParseFormat(config.Format)
	if err != nil {
		return err
	}
	c, err := store.Load(ctx, name)
	if err != nil {
		return err
	}
	data, err := contexts.Marshal(c, format)
	if err != nil {
		return err
	}
	if config.Output == "" {
		_, err := fmt.Fprintln(out, string(data))
		return err
	}
	if err := os.WriteFile(config.Output, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", config.Output)
	}
	presenter.Success(fmt.Sprintf("Exported context %s to %s", name, config.Output))
	return nil
}

func importContext(ctx context.Context, store contexts.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	c, err := contexts.Unmarshal(data)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, c); err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Imported context %s (%d messages)", c.Name, len(c.Messages)))
	return nil
}

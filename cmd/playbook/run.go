package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jingkaihe/playbook/pkg/engine"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RunConfig holds configuration for the run command
type RunConfig struct {
	Vars          []string
	ClearContexts bool
	NoInput       bool
}

// NewRunConfig creates a new RunConfig with default values
func NewRunConfig() *RunConfig {
	return &RunConfig{}
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a playbook document",
	Long: `Run a playbook document from the first block to the last. Input requests from
@input, @param and @file-picker are answered on the terminal. Ctrl+C stops the run.

Examples:
  playbook run release.md
  playbook run release.md --var version=1.4.0 --var channel=beta
  playbook run review.md --clear-contexts`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getRunConfigFromFlags(cmd)
		if err := runPlaybook(cmd.Context(), args[0], config, os.Stdin, os.Stdout); err != nil {
			presenter.Error(err, "run failed")
			os.Exit(1)
		}
	},
}

func init() {
	defaults := NewRunConfig()
	runCmd.Flags().StringArray("var", defaults.Vars, "Run input as name=value (repeatable)")
	runCmd.Flags().Bool("clear-contexts", defaults.ClearContexts, "Drop every context before the run starts")
	runCmd.Flags().Bool("no-input", defaults.NoInput, "Fail instead of prompting when a skill asks for input")
}

func getRunConfigFromFlags(cmd *cobra.Command) *RunConfig {
	config := NewRunConfig()
	if vars, err := cmd.Flags().GetStringArray("var"); err == nil {
		config.Vars = vars
	}
	if clearContexts, err := cmd.Flags().GetBool("clear-contexts"); err == nil {
		config.ClearContexts = clearContexts
	}
	if noInput, err := cmd.Flags().GetBool("no-input"); err == nil {
		config.NoInput = noInput
	}
	return config
}

// parseVars turns name=value pairs into run inputs. Later pairs win.
func parseVars(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("invalid --var %q, expected name=value", pair)
		}
		inputs[name] = value
	}
	return inputs, nil
}

// openSession opens a workspace session from the viper configuration.
func openSession(ctx context.Context, mutate func(*workspace.Config), opts ...workspace.Option) (*workspace.Session, error) {
	config, err := workspace.ConfigFromViper()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&config)
	}
	return workspace.Open(ctx, config, opts...)
}

func runPlaybook(ctx context.Context, path string, config *RunConfig, in io.Reader, out io.Writer) error {
	inputs, err := parseVars(config.Vars)
	if err != nil {
		return err
	}

	var opts []workspace.Option
	if !config.NoInput {
		opts = append(opts, workspace.WithInteractor(newTerminal(in, out)))
	}
	session, err := openSession(ctx, nil, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to open session")
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close session")
		}
	}()

	e, err := session.Engine(path)
	if err != nil {
		return err
	}
	if doc := e.Document(); doc.HasBlockingErrors() {
		presenter.Diagnostics(path, doc.Errors)
		return errors.Errorf("%s has %d parse error(s)", path, len(doc.Errors))
	}

	ctx = logger.WithFields(ctx, logrus.Fields{"document": path})
	events, unsubscribe := e.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			if line := describeEvent(ev, e.Variables()); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()

	if err := e.Play(ctx, engine.PlayOptions{Inputs: inputs, ClearContexts: config.ClearContexts}); err != nil {
		unsubscribe()
		<-printed
		return err
	}

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-sigCtx.Done()
		if ctx.Err() == nil {
			if err := e.Stop(); err != nil && !errors.Is(err, engine.ErrInvalidTransition) {
				logger.G(ctx).WithError(err).Warn("failed to stop run")
			}
		}
	}()

	st, err := e.Wait(ctx)
	unsubscribe()
	<-printed
	if err != nil {
		return err
	}
	return reportStatus(st)
}

// describeEvent renders one progress line, or "" for events not shown.
func describeEvent(ev engine.Event, vars *variables.Store) string {
	switch ev.Type {
	case engine.EventBlockStarted:
		return fmt.Sprintf("▶ line %d @%s", ev.Line+1, ev.Skill)
	case engine.EventBlockFinished:
		if ev.Variable == "" {
			return ""
		}
		value, _ := vars.Get(ev.Variable)
		return fmt.Sprintf("  %s = %s", ev.Variable, preview(variables.Stringify(value), 120))
	case engine.EventContextTruncated:
		if ev.Truncation == nil {
			return ""
		}
		return fmt.Sprintf("⚠ context %s truncated: %d message(s) removed", ev.Truncation.Context, ev.Truncation.Removed)
	}
	return ""
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

// reportStatus prints the outcome of a settled run and returns its error.
func reportStatus(st engine.Status) error {
	switch st.State {
	case engine.StateCompleted:
		presenter.Success(fmt.Sprintf("Completed %d block(s)", st.BlockCount))
		return nil
	case engine.StateStopped:
		presenter.Warning(fmt.Sprintf("Stopped before block %d of %d", st.Cursor+1, st.BlockCount))
		return nil
	case engine.StateError:
		if st.Error != nil {
			return st.Error
		}
		return errors.Errorf("run failed at block %d", st.FailedBlock)
	default:
		return errors.Errorf("run ended in state %s", st.State)
	}
}

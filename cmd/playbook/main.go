package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("PLAYBOOK")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.playbook")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
}

var rootCmd = &cobra.Command{
	Use:   "playbook",
	Short: "Run Markdown playbooks that mix prose, annotations and code",
	Long: `playbook executes Markdown documents annotated with @skill lines. Each annotation
invokes a skill that can talk to a model, run code, read files or manage named
conversation contexts. Documents run top to bottom and can be paused, resumed
and stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if configFile := viper.GetString("config"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return errors.Wrapf(err, "failed to read config file %s", configFile)
			}
		}

		return logger.Configure(viper.GetString("log_level"), viper.GetString("log_format"))
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.playbook/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt or json)")
	rootCmd.PersistentFlags().String("model", "", "Default model (overrides config)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.AddCommand(withTracing(runCmd))
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(skillCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx := context.Background()

	shutdown, err := initTracing(ctx)
	if err != nil {
		presenter.Error(err, "failed to initialize tracing")
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "failed to shut down tracing: %v\n", err)
			}
		}()
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jingkaihe/playbook/pkg/control"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host  string
	Port  int
	Watch bool
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host:  "localhost",
		Port:  8080,
		Watch: true,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API for editor and UI integrations",
	Long: `Start a local HTTP server that lets an editor or web UI drive playbook runs.
Clients can play, pause, resume and stop documents, follow run progress as a
server-sent event stream, request diagnostics for unsaved text and answer input
requests raised by running skills.

The server will be available at http://localhost:8080 by default.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config)
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the control server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the control server to")
	serveCmd.Flags().Bool("watch", defaults.Watch, "Reload local skills when skill directories change")
}

// getServeConfigFromFlags extracts serve configuration from config and command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if viper.IsSet("serve.host") {
		config.Host = viper.GetString("serve.host")
	}
	if viper.IsSet("serve.port") {
		config.Port = viper.GetInt("serve.port")
	}

	if cmd.Flags().Changed("host") {
		config.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		config.Port, _ = cmd.Flags().GetInt("port")
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}

	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(config *ServeConfig) error {
	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return fmt.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	return nil
}

// runServeCommand starts the control server
func runServeCommand(ctx context.Context, config *ServeConfig) {
	if err := validateServeConfig(config); err != nil {
		presenter.Error(err, "invalid server configuration")
		os.Exit(1)
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"host": config.Host,
		"port": config.Port,
	}).Info("Starting control server")

	prompts := control.NewPrompts()
	session, err := openSession(ctx, func(c *workspace.Config) {
		c.Skills.Watch = c.Skills.Watch || config.Watch
	}, workspace.WithInteractor(prompts))
	if err != nil {
		presenter.Error(err, "failed to open session")
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.G(ctx).WithError(err).Error("failed to close session")
		}
	}()

	server, err := control.NewServer(&control.ServerConfig{
		Host: config.Host,
		Port: config.Port,
	}, session, prompts)
	if err != nil {
		presenter.Error(err, "failed to create control server")
		os.Exit(1)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			logger.G(ctx).WithError(closeErr).Error("failed to close control server")
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Info("Press Ctrl+C to stop the server")

	if err := server.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("control server error")
		presenter.Error(err, "control server failed")
		os.Exit(1)
	}

	presenter.Info("Control server stopped")
}

// Package main is the entry point for the envbridge binary.
// It serves the environment line protocol on stdin/stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/polisai/envbridge/pkg/bridge"
	"github.com/polisai/envbridge/pkg/engine"
	"github.com/polisai/envbridge/pkg/engine/mock"
	"github.com/polisai/envbridge/pkg/engine/process"
	"github.com/polisai/envbridge/pkg/logging"
	"github.com/polisai/envbridge/pkg/session"
)

const (
	defaultLogLevel = "info"
)

// envFiles are tried in order; the first one that loads wins.
var envFiles = []string{".env", "../.env", "../../.env"}

// CLIConfig holds the parsed CLI configuration
type CLIConfig struct {
	Engine          string
	Config          string
	LogLevel        string
	LogJSON         bool
	DataRoot        string
	Split           string
	MetricsAddr     string
	TracingEndpoint string
	Command         []string
}

func main() {
	loadEnvFiles(envFiles)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for envbridge
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "envbridge",
		Short: "Line-delimited JSON bridge to a text-game training environment",
		Long: `A bridge that lets a controller drive a household text-game environment
over stdin/stdout, one JSON request and one JSON response per line.

The process engine spawns an engine worker (given after --) and talks to it over
pipes. The mock engine serves a short scripted episode and needs no dataset.

Example:
  envbridge --engine mock
  envbridge --data-root /data/alfworld -- python3 worker.py`,
		Version:       bridge.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBridge,
	}

	rootCmd.Flags().StringP("engine", "e", "", "Engine backend (mock, process)")
	rootCmd.Flags().StringP("config", "c", "", "Path to bridge configuration file (YAML)")
	rootCmd.Flags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Write JSON log records to stderr")
	rootCmd.Flags().String("data-root", "", "Dataset root used when init names none (default $"+engine.DataRootEnv+")")
	rootCmd.Flags().String("split", "", "Dataset split used when init names none")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.Flags().String("tracing-endpoint", "", "Export OTLP traces to this gRPC endpoint")

	return rootCmd
}

// loadEnvFiles loads the first .env file found
func loadEnvFiles(paths []string) string {
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}
	return ""
}

// parseCLIConfig parses command line arguments and returns a CLIConfig
func parseCLIConfig(cmd *cobra.Command, args []string) (*CLIConfig, error) {
	flags := cmd.Flags()
	cfg := &CLIConfig{Command: args}

	var err error
	strFlags := []struct {
		name string
		dst  *string
	}{
		{"engine", &cfg.Engine},
		{"config", &cfg.Config},
		{"log-level", &cfg.LogLevel},
		{"data-root", &cfg.DataRoot},
		{"split", &cfg.Split},
		{"metrics-addr", &cfg.MetricsAddr},
		{"tracing-endpoint", &cfg.TracingEndpoint},
	}
	for _, f := range strFlags {
		if *f.dst, err = flags.GetString(f.name); err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
	}
	if cfg.LogJSON, err = flags.GetBool("log-json"); err != nil {
		return nil, fmt.Errorf("failed to get log-json flag: %w", err)
	}

	return cfg, nil
}

// expandEnvVars expands environment variables in command arguments
// Supports both $VAR and ${VAR} syntax
func expandEnvVars(args []string) []string {
	expanded := make([]string, len(args))
	for i, arg := range args {
		expanded[i] = os.ExpandEnv(arg)
	}
	return expanded
}

// loadConfigFile loads bridge configuration from a YAML file
func loadConfigFile(path string) (*bridge.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := bridge.DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// buildBridgeConfig builds the final bridge configuration from CLI args and config file
func buildBridgeConfig(cli *CLIConfig) (*bridge.Config, error) {
	var config *bridge.Config

	if cli.Config != "" {
		var err error
		config, err = loadConfigFile(cli.Config)
		if err != nil {
			return nil, err
		}
	} else {
		config = bridge.DefaultConfig()
	}

	// CLI flags override config file values
	if len(cli.Command) > 0 {
		config.Command = expandEnvVars(cli.Command)
	}
	if cli.Engine != "" {
		config.Engine = cli.Engine
	}
	// The flag default does not override a level set in the config file.
	if cli.LogLevel != "" && (cli.Config == "" || cli.LogLevel != defaultLogLevel) {
		config.LogLevel = cli.LogLevel
	}
	if cli.LogJSON {
		config.LogJSON = true
	}
	if cli.DataRoot != "" {
		config.DataRoot = os.ExpandEnv(cli.DataRoot)
	}
	if cli.Split != "" {
		config.Split = cli.Split
	}
	if cli.MetricsAddr != "" {
		if config.Metrics == nil {
			config.Metrics = bridge.DefaultConfig().Metrics
		}
		config.Metrics.Enabled = true
		config.Metrics.ListenAddr = cli.MetricsAddr
	}
	if cli.TracingEndpoint != "" {
		if config.Metrics == nil {
			config.Metrics = bridge.DefaultConfig().Metrics
		}
		if config.Metrics.Tracing == nil {
			config.Metrics.Tracing = &bridge.TracingConfig{ServiceName: "envbridge"}
		}
		config.Metrics.Tracing.Enabled = true
		config.Metrics.Tracing.Endpoint = cli.TracingEndpoint
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// newBackend selects the engine backend for config
func newBackend(config *bridge.Config, logger *slog.Logger, metrics *bridge.Metrics, tracing *bridge.TracingManager) engine.Backend {
	if config.Engine == bridge.EngineMock {
		return mock.NewBackend()
	}
	opts := process.Options{
		Command:     config.Command,
		WorkDir:     config.WorkDir,
		Env:         config.Env,
		StopTimeout: config.ShutdownTimeout,
		Logger:      logger,
		Injector:    tracing,
	}
	if metrics != nil {
		opts.Status = metrics
	}
	return process.NewBackend(opts)
}

// runBridge is the main entry point for the bridge command
func runBridge(cmd *cobra.Command, args []string) error {
	cliConfig, err := parseCLIConfig(cmd, args)
	if err != nil {
		return err
	}

	config, err := buildBridgeConfig(cliConfig)
	if err != nil {
		return err
	}

	logger := logging.SetupLogger(logging.Config{
		Level:  config.LogLevel,
		Pretty: !config.LogJSON,
	})

	return serve(cmd.Context(), config, logger, cmd.InOrStdin(), cmd.OutOrStdout())
}

// serve wires the components for config and runs the loop until it ends or
// the process is signalled.
func serve(parent context.Context, config *bridge.Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	tracing, err := bridge.NewTracingManager(config.Tracing())
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(config.ShutdownTimeout); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()
	// A controller that runs under a trace hands it down through TRACEPARENT.
	ctx = tracing.ExtractProcessEnv(ctx, os.Environ())

	var metrics *bridge.Metrics
	if config.Metrics != nil && config.Metrics.Enabled {
		metrics = bridge.NewMetrics()
		srv, err := bridge.NewMetricsServer(config.Metrics.ListenAddr, config.Metrics.Path, metrics, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	backend := newBackend(config, logger, metrics, tracing)
	ctrl := session.NewController(backend,
		session.WithLogger(logger),
		session.WithDataRoot(config.DataRoot),
		session.WithSplit(config.Split),
	)

	loop := bridge.NewLoop(ctrl, in, out,
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
		bridge.WithTracing(tracing),
	)

	logger.Info("Starting envbridge",
		"version", bridge.Version,
		"engine", config.Engine,
		"command", config.Command,
		"split", config.Split,
		"log_level", config.LogLevel,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	go func() {
		errCh <- loop.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if bridge.IsBrokenPipe(err) {
			logger.Info("Controller closed the response stream", "error", err)
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Bridge error", "error", err)
			return err
		}
	case sig := <-sigChan:
		// The loop may be blocked reading stdin. Cancelling ctx kills any
		// worker started under it; give it a moment to exit.
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
		select {
		case <-errCh:
		case <-time.After(config.ShutdownTimeout):
		}
	}

	logger.Info("Bridge stopped")
	return nil
}

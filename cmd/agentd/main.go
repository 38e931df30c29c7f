// Command agentd runs the agent platform: the strategy registry, the agent
// runtime and its management API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"

	"github.com/openalpha/stockex/agent/runtime"
	"github.com/openalpha/stockex/agent/server"
	"github.com/openalpha/stockex/agent/store"
	"github.com/openalpha/stockex/agent/strategy"
	"github.com/openalpha/stockex/agent/strategy/dsl"
	"github.com/openalpha/stockex/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host     string
		port     int
		dataDir  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "agentd",
		Short: "Trading agent platform daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Load()
			cfg, err := config.LoadAgent()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen host")
	cmd.Flags().IntVar(&port, "port", 8081, "listen port")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data/agents", "database directory")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	return cmd
}

func run(cfg *config.Agent) error {
	filter, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := log.NewLogger(os.Stderr, log.FilterOption(filter))

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := strategy.NewRegistry()
	dsl.InstallInto(registry)

	manager := runtime.NewManager(st, registry, logger)
	if err := manager.Resume(); err != nil {
		return fmt.Errorf("resume agents: %w", err)
	}
	defer manager.Close()

	srv := server.NewServer(&server.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, manager, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("agent platform started", "host", cfg.Host, "port", cfg.Port, "data_dir", cfg.DataDir)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

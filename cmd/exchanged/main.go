// Command exchanged runs the stock exchange: persistent store, matching
// engine, REST API and websocket feed.
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

	"github.com/openalpha/stockex/api"
	"github.com/openalpha/stockex/api/websocket"
	"github.com/openalpha/stockex/config"
	"github.com/openalpha/stockex/exchange"
	"github.com/openalpha/stockex/exchange/auth"
	"github.com/openalpha/stockex/exchange/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host       string
		port       int
		dataDir    string
		adminToken string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "exchanged",
		Short: "Stock exchange daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Load()
			cfg, err := config.LoadExchange()
			if err != nil {
				return err
			}
			// Flags override the environment.
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("admin-token") {
				cfg.AdminToken = adminToken
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data/exchange", "database directory")
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "admin API token (empty disables admin endpoints)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	return cmd
}

func run(cfg *config.Exchange) error {
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

	hub := websocket.NewHub(websocket.DefaultHubConfig())
	svc := exchange.NewService(st, logger, websocket.NewFeed(hub))
	if err := svc.Rebuild(); err != nil {
		return fmt.Errorf("rebuild order books: %w", err)
	}

	if cfg.AdminToken == "" {
		logger.Warn("no admin token configured; admin endpoints are disabled")
	}
	authn := auth.NewAuthenticator(st, cfg.AdminToken)

	srv := api.NewServer(&api.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		AdminToken:   cfg.AdminToken,
	}, svc, authn, hub, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("exchange started", "host", cfg.Host, "port", cfg.Port, "data_dir", cfg.DataDir)

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

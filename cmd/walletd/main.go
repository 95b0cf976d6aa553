package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"WalletPlugins/internal/api"
	"WalletPlugins/internal/app"
	"WalletPlugins/internal/config"
	"WalletPlugins/pkg/logger"
)

// main is the entry point of the walletd authorization service.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("walletd: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "walletd",
		Short:         "Policy-plugin authorization service for smart-contract wallets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the JSON config (default $"+config.EnvPath+" or configs/walletd.json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Provision the plugin manifest and serve the REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	var (
		subject string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "operator-token",
		Short: "Issue a signed operator token for the resume endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Server.OperatorSecret == "" {
				return errors.New("server.operator_secret is not configured")
			}
			raw, err := api.IssueOperatorToken([]byte(cfg.Server.OperatorSecret), subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "token subject recorded in the audit log")
	token.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	root.AddCommand(serve, token)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvPath)
	}
	if path == "" {
		path = filepath.Join("configs", "walletd.json")
	}
	return config.Load(path)
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(app.LoggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.L().Warn("close resources", slog.Any("error", err))
		}
	}()

	report, err := a.Provision(ctx)
	if err != nil {
		return err
	}
	logger.L().Info("plugins provisioned",
		slog.Int("deployments", len(report.Deployments)),
		slog.Int("accounts_created", len(report.Created)),
		slog.Int("installed", len(report.Installed)))

	server := api.NewServer(cfg.Server.Address, api.Options{
		Router:          a.Router,
		Registry:        a.Registry,
		Accounts:        a.Accounts,
		Metrics:         a.Metrics,
		Logger:          logger.Named("api"),
		Audit:           logger.Audit(),
		OperatorSecret:  cfg.Server.OperatorSecret,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
	})
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"WalletPlugins/internal/app"
	"WalletPlugins/internal/config"
	"WalletPlugins/pkg/logger"
)

// main deploys the Relay, Whitelist and RecoveryWithDelay plugins described
// by the manifest and installs them on the manifest's accounts.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("deployplugins: %v", err)
	}
}

func newCommand() *cobra.Command {
	var (
		configPath string
		manifest   string
		artifacts  string
		salt       string
		rpcURL     string
	)
	cmd := &cobra.Command{
		Use:           "deployplugins",
		Short:         "Deploy wallet policy plugins at deterministic addresses",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if configPath == "" {
				configPath = os.Getenv(config.EnvPath)
			}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if manifest != "" {
				cfg.Deployment.Manifest = manifest
			}
			if artifacts != "" {
				cfg.Deployment.ArtifactsDir = artifacts
			}
			if salt != "" {
				cfg.Deployment.Salt = salt
			}
			if rpcURL != "" {
				cfg.Web3.RPCURL = rpcURL
			}
			if cfg.Deployment.Manifest == "" {
				return errors.New("a plugin manifest is required (--manifest or deployment.manifest)")
			}
			return deploy(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the walletd JSON config")
	cmd.Flags().StringVar(&manifest, "manifest", "", "plugin manifest (YAML)")
	cmd.Flags().StringVar(&artifacts, "artifacts", "", "directory holding compiled contract artifacts")
	cmd.Flags().StringVar(&salt, "salt", "", "32-byte deployment salt as hex")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint; overrides the config")
	return cmd
}

func deploy(ctx context.Context, cfg *config.Config) error {
	cfg.Logging.Format = "text"
	if err := logger.Init(app.LoggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()
	l := logger.Named("plugins")

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Ledger != nil {
		l.Info("deploying plugins with the account", slog.String("deployer", a.Ledger.Deployer().Hex()))
	} else {
		l.Warn("no ledger configured; computing addresses and recording deployments only")
	}

	report, err := a.Provision(ctx)
	for _, res := range report.Deployments {
		l.Info(string(res.Instance.Kind),
			slog.String("address", res.Instance.Address.Hex()),
			slog.Bool("reused", res.Reused))
	}
	for _, entry := range report.Installed {
		l.Info("installed",
			slog.String("account", entry.Account.Hex()),
			slog.String("kind", string(entry.Kind)),
			slog.String("address", entry.Address.Hex()))
	}
	return err
}

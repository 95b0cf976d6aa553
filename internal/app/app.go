// Package app assembles walletd and the deployment CLI from configuration.
package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	goredis "github.com/redis/go-redis/v9"

	"WalletPlugins/internal/account"
	"WalletPlugins/internal/config"
	"WalletPlugins/internal/deploy"
	"WalletPlugins/internal/events"
	"WalletPlugins/internal/observability/alerting"
	"WalletPlugins/internal/observability/metrics"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/router"
	"WalletPlugins/internal/storage/mysql"
	"WalletPlugins/internal/storage/redis"
	"WalletPlugins/internal/web3"
	"WalletPlugins/internal/web3/provider"
	"WalletPlugins/pkg/logger"
)

// App holds every long-lived component.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Accounts    account.Store
	Entries     plugin.EntryStore
	Records     deploy.RecordStore
	Registry    *plugin.Registry
	Coordinator *deploy.Coordinator
	Router      *router.Router
	Publisher   events.Publisher
	Chains      *provider.Registry
	Ledger      web3.Ledger
	Manifest    *plugin.Manifest

	closers []func() error
}

// New wires the components described by cfg. The logger must already be
// initialised.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger.Named("app"),
		Metrics: metrics.New(),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if err := a.openStorage(ctx); err != nil {
		return err
	}

	guard := plugin.NewGuard(plugin.InstallPolicy{AllowPermissiveRelay: true})
	if cfg.Deployment.Manifest != "" {
		m, err := plugin.LoadManifest(cfg.Deployment.Manifest)
		if err != nil {
			return err
		}
		a.Manifest = &m
		guard = plugin.NewGuard(m.Policy)
		for raw, section := range m.Accounts {
			if section.Policy != nil {
				guard.Override(common.HexToAddress(raw), *section.Policy)
			}
		}
	}

	if err := a.openLedger(ctx); err != nil {
		return err
	}

	coordinator, err := a.buildCoordinator()
	if err != nil {
		return err
	}
	a.Coordinator = coordinator

	a.Registry = plugin.NewRegistry(
		plugin.WithGuard(guard),
		plugin.WithEntryStore(a.Entries),
		plugin.WithLogger(logger.Named("registry")),
	)
	if a.Entries != nil {
		if err := a.Coordinator.RestoreRegistry(ctx, a.Registry, a.Entries); err != nil {
			return err
		}
	}

	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		return err
	}
	a.Publisher = publisher
	a.closers = append(a.closers, publisher.Close)

	chainID := big.NewInt(cfg.Web3.ChainID)
	if a.Ledger != nil {
		id, err := a.Ledger.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("query chain id: %w", err)
		}
		chainID = id
	}

	a.Router = router.New(a.Registry, a.Accounts,
		router.WithChainID(chainID),
		router.WithPublisher(publisher),
		router.WithMetrics(a.Metrics),
		router.WithAlerts(newAlerts(cfg.Alerting)),
		router.WithLogger(logger.Named("router")),
		router.WithAuditLogger(logger.Audit()),
		router.WithHaltOnConfigurationError(cfg.HaltOnConfigurationError()),
	)
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Driver {
	case "memory":
		a.Accounts = account.NewMemoryStore()
		a.Records = deploy.NewMemoryRecordStore()
	case "redis":
		store, err := redis.NewAccountStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		registryStore := redis.NewRegistryStore(store.Client(), "")
		a.Accounts = store
		a.Entries = registryStore
		a.Records = registryStore
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime.Std(),
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.Accounts = mysql.NewAccountStore(db)
		a.Entries = mysql.NewEntryStore(db)
		a.Records = mysql.NewDeploymentStore(db)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return nil
}

func (a *App) openLedger(ctx context.Context) error {
	cfg := a.Config.Web3
	if strings.TrimSpace(cfg.RPCURL) == "" && strings.TrimSpace(cfg.ChainConfig) == "" {
		a.Logger.Info("no ledger configured; deployments are predicted and recorded only")
		return nil
	}
	key, err := DeployerKey(cfg.DeployerKeyEnv)
	if err != nil {
		return err
	}
	chains, err := provider.NewRegistry(ctx, cfg, key)
	if err != nil {
		return err
	}
	a.Chains = chains
	a.closers = append(a.closers, func() error { chains.Close(); return nil })
	ledger, err := chains.Default()
	if err != nil {
		return err
	}
	a.Ledger = ledger
	return nil
}

func (a *App) buildCoordinator() (*deploy.Coordinator, error) {
	cfg := a.Config.Deployment
	salt, err := deploy.ParseSalt(cfg.Salt)
	if err != nil {
		return nil, err
	}
	factory := deploy.DefaultFactory
	if cfg.Factory != "" {
		if !common.IsHexAddress(cfg.Factory) {
			return nil, fmt.Errorf("deployment factory %q is not an address", cfg.Factory)
		}
		factory = common.HexToAddress(cfg.Factory)
	}
	if a.Chains != nil {
		if override, ok := a.Chains.Factory(a.Chains.DefaultChain()); ok {
			factory = override
		}
	}
	var artifacts deploy.ArtifactSource = deploy.StaticSource{}
	if cfg.ArtifactsDir != "" {
		artifacts = deploy.NewDirSource(cfg.ArtifactsDir)
	}
	opts := []deploy.Option{
		deploy.WithFactory(factory),
		deploy.WithSalt(salt),
		deploy.WithLogger(logger.Named("plugins")),
	}
	if a.Ledger != nil {
		opts = append(opts, deploy.WithLedger(a.Ledger))
	}
	return deploy.NewCoordinator(artifacts, a.Records, deploy.NewLoader(logger.Named("plugins")), opts...), nil
}

// Provision applies the plugin manifest, if one is configured.
func (a *App) Provision(ctx context.Context) (deploy.Report, error) {
	if a.Manifest == nil {
		return deploy.Report{}, nil
	}
	report, err := a.Coordinator.Provision(ctx, *a.Manifest, a.Registry, a.Accounts)
	for _, res := range report.Deployments {
		a.Metrics.ObserveDeployment(string(res.Instance.Kind), res.Reused)
	}
	return report, err
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// DeployerKey reads a hex private key from the named environment variable.
// An unset variable yields a nil key, which only allows read-only ledgers.
func DeployerKey(env string) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse deployer key from %s: %w", env, err)
	}
	return key, nil
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "none":
		return events.Nop{}, nil
	case "memory":
		return events.NewMemory(), nil
	case "rabbitmq":
		publisher, err := events.NewRabbitMQ(events.RabbitMQConfig{URL: cfg.RabbitMQ.URL, Exchange: cfg.RabbitMQ.Exchange})
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case "watermill":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher, err := events.NewRedisStream(client, cfg.Topic)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &closingPublisher{Publisher: publisher, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

type closingPublisher struct {
	events.Publisher
	client *goredis.Client
}

func (p *closingPublisher) Close() error {
	return errors.Join(p.Publisher.Close(), p.client.Close())
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhook(cfg.WebhookURL, cfg.Timeout.Std()))
	}
	return alerting.NewFanout(notifiers...)
}

// LoggerConfig maps the logging section onto pkg/logger.
func LoggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Audit: logger.AuditConfig{
			Enabled:    cfg.AuditFile != "",
			Path:       cfg.AuditFile,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
	}
}

package deploy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/wallet"
	"WalletPlugins/internal/web3"
)

// Result is the outcome of one Deploy call.
type Result struct {
	Instance plugin.Instance
	Record   Record
	// Reused is set when the address already held the plugin.
	Reused bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLedger deploys to a real ledger. Without one the coordinator only
// predicts and records addresses.
func WithLedger(ledger web3.Ledger) Option {
	return func(c *Coordinator) { c.ledger = ledger }
}

// WithFactory overrides DefaultFactory.
func WithFactory(factory common.Address) Option {
	return func(c *Coordinator) { c.factory = factory }
}

// WithSalt overrides the zero salt.
func WithSalt(salt [32]byte) Option {
	return func(c *Coordinator) { c.salt = salt }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator deploys plugin instances at deterministic addresses and hands
// them to the registry.
type Coordinator struct {
	artifacts ArtifactSource
	records   RecordStore
	loader    plugin.Loader
	ledger    web3.Ledger
	factory   common.Address
	salt      [32]byte
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewCoordinator wires a coordinator. records defaults to an in-memory store.
func NewCoordinator(artifacts ArtifactSource, records RecordStore, loader plugin.Loader, opts ...Option) *Coordinator {
	if records == nil {
		records = NewMemoryRecordStore()
	}
	c := &Coordinator{
		artifacts: artifacts,
		records:   records,
		loader:    loader,
		factory:   DefaultFactory,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict returns the address cfg would be deployed at.
func (c *Coordinator) Predict(cfg plugin.Config) (common.Address, error) {
	addr, _, _, err := c.prepare(cfg)
	return addr, err
}

func (c *Coordinator) prepare(cfg plugin.Config) (common.Address, Artifact, []byte, error) {
	if cfg == nil {
		return common.Address{}, Artifact{}, nil, xerrors.New(xerrors.CodeInvalidInput, "plugin config is nil")
	}
	artifact, err := c.artifacts.Artifact(cfg.Kind().ContractName())
	if err != nil {
		return common.Address{}, Artifact{}, nil, xerrors.Wrap(xerrors.CodeDeploymentFailure, err, "load artifact")
	}
	args, err := cfg.ConstructorArgs()
	if err != nil {
		return common.Address{}, Artifact{}, nil, xerrors.Wrap(xerrors.CodeDeploymentFailure, err, "encode constructor args")
	}
	return ComputeAddress(c.factory, c.salt, artifact.Code(), args), artifact, args, nil
}

// Deploy makes sure cfg is deployed exactly once at its deterministic
// address and returns an instance ready for installation. Deploying the same
// (kind, config, bytecode) again yields the same address and sends nothing.
func (c *Coordinator) Deploy(ctx context.Context, cfg plugin.Config) (Result, error) {
	addr, artifact, args, err := c.prepare(cfg)
	if err != nil {
		return Result{}, err
	}
	impl, err := c.loader.Load(cfg)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, found, err := c.records.GetRecord(ctx, addr)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load deployment record")
	}
	reused := found
	if !found {
		record = Record{
			Name:         artifact.ContractName,
			Kind:         cfg.Kind(),
			Address:      addr,
			BytecodeHash: artifact.CodeHash(),
			Args:         args,
			DeployedAt:   c.now().UTC(),
		}
		if record.Name == "" {
			record.Name = cfg.Kind().ContractName()
		}
	}

	if c.ledger != nil {
		code, err := c.ledger.CodeAt(ctx, addr)
		if err != nil {
			return Result{}, xerrors.Wrap(xerrors.CodeDeploymentFailure, err, "check existing code")
		}
		if len(code) > 0 {
			reused = true
		} else {
			res, err := c.ledger.DeployDeterministic(ctx, c.factory, c.salt, InitCode(artifact.Code(), args))
			if err != nil {
				return Result{}, xerrors.Wrap(xerrors.CodeDeploymentFailure, err, "deploy "+record.Name)
			}
			if res.ContractAddress != addr {
				return Result{}, xerrors.Newf(xerrors.CodeDeploymentFailure, "%s landed at %s, expected %s", record.Name, res.ContractAddress.Hex(), addr.Hex())
			}
			reused = false
			found = false
			if res.Transaction != nil {
				record.TxHash = res.Transaction.Hash()
			}
			record.DeployedAt = c.now().UTC()
		}
		if id, err := c.ledger.ChainID(ctx); err == nil {
			record.ChainID = id.String()
		}
	}

	if !found {
		if err := c.records.SaveRecord(ctx, record); err != nil {
			return Result{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "save deployment record")
		}
	}

	msg := "deployed"
	if reused {
		msg = "reusing"
	}
	c.logger.Info(msg,
		slog.String("tag", "plugins"),
		slog.String("contract", record.Name),
		slog.String("address", addr.Hex()),
		slog.String("tx", record.TxHash.Hex()),
		slog.Bool("offline", c.ledger == nil))

	return Result{
		Instance: plugin.Instance{Kind: cfg.Kind(), Address: addr, Plugin: impl},
		Record:   record,
		Reused:   reused,
	}, nil
}

// Install deploys cfg and installs it for account.
func (c *Coordinator) Install(ctx context.Context, registry *plugin.Registry, acc common.Address, cfg plugin.Config) (plugin.Entry, bool, error) {
	res, err := c.Deploy(ctx, cfg)
	if err != nil {
		return plugin.Entry{}, false, err
	}
	return registry.Install(ctx, acc, res.Instance)
}

// Report summarizes a Provision run.
type Report struct {
	Deployments []Result
	Created     []common.Address
	Installed   []plugin.Entry
}

// Provision deploys the manifest's plugins, creates its accounts and
// installs the requested plugins on each of them.
func (c *Coordinator) Provision(ctx context.Context, m plugin.Manifest, registry *plugin.Registry, store account.Store) (Report, error) {
	var report Report
	instances := make(map[plugin.Kind]plugin.Instance)
	configs := Configs(m)
	for _, kind := range plugin.Kinds {
		cfg, ok := configs[kind]
		if !ok {
			continue
		}
		res, err := c.Deploy(ctx, cfg)
		if err != nil {
			return report, err
		}
		instances[kind] = res.Instance
		report.Deployments = append(report.Deployments, res)
	}

	addrs := make([]string, 0, len(m.Accounts))
	for addr := range m.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, raw := range addrs {
		section := m.Accounts[raw]
		addr := common.HexToAddress(raw)
		acc := wallet.NewAccount(addr, plugin.Addresses(section.Owners)...)
		for _, dest := range plugin.Addresses(section.Whitelist) {
			acc.Whitelist[dest] = struct{}{}
		}
		created, err := store.Create(ctx, acc)
		if err != nil {
			return report, err
		}
		if created {
			report.Created = append(report.Created, addr)
		}
		for _, kind := range section.Plugins {
			inst, ok := instances[kind]
			if !ok {
				return report, xerrors.Newf(xerrors.CodeConfigurationError, "account %s requests %s but it was not deployed", addr.Hex(), kind)
			}
			entry, changed, err := registry.Install(ctx, addr, inst)
			if err != nil {
				return report, err
			}
			if changed {
				report.Installed = append(report.Installed, entry)
			}
		}
	}
	return report, nil
}

// RestoreRegistry rebuilds registry entries from persistent storage. Entries
// whose deployment record is missing, or whose kind cannot be built, are
// restored without an implementation so the router reports them as
// configuration errors instead of silently skipping them.
func (c *Coordinator) RestoreRegistry(ctx context.Context, registry *plugin.Registry, entries plugin.EntryStore) error {
	list, err := entries.ListEntries(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "list registry entries")
	}
	for i := range list {
		entry := &list[i]
		record, found, err := c.records.GetRecord(ctx, entry.Address)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "load deployment record")
		}
		if !found || record.Kind != entry.Kind {
			c.logger.Warn("registry entry has no matching deployment",
				slog.String("account", entry.Account.Hex()),
				slog.String("kind", string(entry.Kind)),
				slog.String("address", entry.Address.Hex()))
			continue
		}
		cfg, err := DecodeConfig(record.Kind, record.Args)
		if err == nil {
			entry.Plugin, err = c.loader.Load(cfg)
		}
		if err != nil {
			c.logger.Warn("cannot rebuild plugin",
				slog.String("kind", string(entry.Kind)),
				slog.String("address", entry.Address.Hex()),
				slog.String("error", err.Error()))
		}
	}
	registry.Restore(list)
	return nil
}

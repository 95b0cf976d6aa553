package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"WalletPlugins/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
	// Key signs deployment transactions. It may be nil for read-only use.
	Key *ecdsa.PrivateKey
	// ReceiptPoll is the interval between receipt lookups.
	ReceiptPoll time.Duration
	// GasMargin is added to the estimated gas, in percent.
	GasMargin uint64
}

// backend mirrors the subset of ethclient.Client the ledger needs.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	Close()
}

// Client implements web3.Ledger for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   backend
	key       *ecdsa.PrivateKey
	poll      time.Duration
	gasMargin uint64

	mu      sync.Mutex
	chainID *big.Int
}

var _ web3.Ledger = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("ethereum rpc url is not configured")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}

	c := newClient(cfg, ethclient.NewClient(rpcClient))
	c.rpcClient = rpcClient
	return c, nil
}

func newClient(cfg Config, b backend) *Client {
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = time.Second
	}
	margin := cfg.GasMargin
	if margin == 0 {
		margin = 20
	}
	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		backend:   b,
		key:       cfg.Key,
		poll:      poll,
		gasMargin: margin,
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
	c.rpcClient = nil
}

// Deployer returns the address of the signing key.
func (c *Client) Deployer() common.Address {
	if c == nil || c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// ChainID returns the chain id, cached after the first lookup.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	if c.backend == nil {
		return nil, errors.New("ethereum client is closed")
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	c.chainID = new(big.Int).Set(id)
	return id, nil
}

// CodeAt implements web3.Ledger.
func (c *Client) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	if c.backend == nil {
		return nil, errors.New("ethereum client is closed")
	}
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch code at %s: %w", address.Hex(), err)
	}
	return code, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("fetch block number: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// DeployDeterministic implements web3.Ledger. The factory is expected to
// behave like the deterministic deployment proxy: calldata is the 32-byte
// salt followed by the init code and the contract lands at
// CREATE2(factory, salt, keccak256(initCode)).
func (c *Client) DeployDeterministic(ctx context.Context, factory common.Address, salt [32]byte, initCode []byte) (web3.DeploymentResult, error) {
	if c.key == nil {
		return web3.DeploymentResult{}, errors.New("no deployer key configured")
	}
	if len(initCode) == 0 {
		return web3.DeploymentResult{}, errors.New("init code cannot be empty")
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("build transactor: %w", err)
	}

	data := make([]byte, 0, len(salt)+len(initCode))
	data = append(data, salt[:]...)
	data = append(data, initCode...)

	nonce, err := c.backend.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("fetch deployer nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: auth.From, To: &factory, Data: data})
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("estimate deployment gas: %w", err)
	}
	gas += gas * c.gasMargin / 100

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &factory,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := auth.Signer(auth.From, tx)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("sign deployment: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("send deployment: %w", err)
	}

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return web3.DeploymentResult{}, fmt.Errorf("deployment %s reverted", signed.Hash().Hex())
	}

	address := crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
	code, err := c.CodeAt(ctx, address)
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	if len(code) == 0 {
		return web3.DeploymentResult{}, fmt.Errorf("no code at %s after deployment %s", address.Hex(), signed.Hash().Hex())
	}
	return web3.DeploymentResult{ContractAddress: address, Transaction: signed, Receipt: receipt}, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	Name        string
	ChainID     string
	BlockNumber string
	Notes       string
}

// DeploymentResult captures the outcome of a deterministic deployment.
type DeploymentResult struct {
	ContractAddress common.Address
	Transaction     *types.Transaction
	Receipt         *types.Receipt
}

// Ledger is the subset of an execution ledger needed to deploy plugins.
type Ledger interface {
	ChainID(ctx context.Context) (*big.Int, error)
	// CodeAt returns the runtime code at address; empty means nothing is
	// deployed there.
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
	// DeployDeterministic sends salt||initCode to the factory and waits until
	// the contract exists at its CREATE2 address.
	DeployDeterministic(ctx context.Context, factory common.Address, salt [32]byte, initCode []byte) (DeploymentResult, error)
	// Deployer is the account paying for deployments.
	Deployer() common.Address
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}

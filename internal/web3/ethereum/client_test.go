package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeBackend struct {
	mu        sync.Mutex
	chainID   *big.Int
	code      map[common.Address][]byte
	sent      []*coretypes.Transaction
	misses    int
	revert    bool
	deployAt  common.Address
	chainErr  error
	closed    bool
	estimated gethcore.CallMsg
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[account], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 3, nil }

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	f.estimated = msg
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if !f.revert {
		f.code[f.deployAt] = []byte{0x60, 0x00}
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, gethcore.NotFound
	}
	status := coretypes.ReceiptStatusSuccessful
	if f.revert {
		status = coretypes.ReceiptStatusFailed
	}
	return &coretypes.Receipt{TxHash: hash, Status: status}, nil
}

func (f *fakeBackend) Close() { f.closed = true }

var (
	factory  = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")
	initCode = common.FromHex("0x6080604052348015600f57600080fd5b50")
)

func newTestClient(t *testing.T, revert bool) (*Client, *fakeBackend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fb := &fakeBackend{
		chainID:  big.NewInt(1337),
		code:     map[common.Address][]byte{},
		misses:   2,
		revert:   revert,
		deployAt: crypto.CreateAddress2(factory, [32]byte{}, crypto.Keccak256(initCode)),
	}
	return newClient(Config{Name: "test", Key: key, ReceiptPoll: time.Millisecond}, fb), fb
}

func TestDeployDeterministic(t *testing.T) {
	t.Parallel()
	client, fb := newTestClient(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.DeployDeterministic(ctx, factory, [32]byte{}, initCode)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.ContractAddress != fb.deployAt {
		t.Fatalf("expected %s, got %s", fb.deployAt.Hex(), result.ContractAddress.Hex())
	}
	if len(fb.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(fb.sent))
	}
	tx := fb.sent[0]
	if *tx.To() != factory {
		t.Fatalf("transaction sent to %s", tx.To().Hex())
	}
	if len(tx.Data()) != 32+len(initCode) {
		t.Fatalf("unexpected calldata length %d", len(tx.Data()))
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("expected gas with margin, got %d", tx.Gas())
	}
	if fb.estimated.From != client.Deployer() {
		t.Fatalf("estimate used sender %s", fb.estimated.From.Hex())
	}
}

func TestDeployDeterministicReverted(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, true)
	if _, err := client.DeployDeterministic(context.Background(), factory, [32]byte{}, initCode); err == nil {
		t.Fatal("expected reverted deployment to fail")
	}
}

func TestDeployRequiresKey(t *testing.T) {
	t.Parallel()
	client := newClient(Config{}, &fakeBackend{chainID: big.NewInt(1)})
	if _, err := client.DeployDeterministic(context.Background(), factory, [32]byte{}, initCode); err == nil {
		t.Fatal("expected missing key error")
	}
	if client.Deployer() != (common.Address{}) {
		t.Fatal("expected zero deployer")
	}
}

func TestChainIDIsCached(t *testing.T) {
	t.Parallel()
	fb := &fakeBackend{chainID: big.NewInt(5)}
	client := newClient(Config{}, fb)
	id, err := client.ChainID(context.Background())
	if err != nil || id.Int64() != 5 {
		t.Fatalf("chain id: %v %v", id, err)
	}
	fb.chainErr = errors.New("offline")
	if _, err := client.ChainID(context.Background()); err != nil {
		t.Fatalf("expected cached chain id, got %v", err)
	}

	snap, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ChainID != "0x5" || snap.BlockNumber != "0x2a" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	client.Close()
	if !fb.closed {
		t.Fatal("expected backend to be closed")
	}
}

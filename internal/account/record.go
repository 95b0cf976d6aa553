package account

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/wallet"
)

// Record is the serialized form shared by the Redis and MySQL stores.
type Record struct {
	Address   common.Address          `json:"address"`
	Owners    []common.Address        `json:"owners"`
	Nonce     uint64                  `json:"nonce"`
	Whitelist []common.Address        `json:"whitelist,omitempty"`
	Recovery  *wallet.RecoveryRequest `json:"recovery,omitempty"`
	Halted    bool                    `json:"halted,omitempty"`
}

// ToRecord flattens acc.
func ToRecord(acc *wallet.Account) Record {
	return Record{
		Address:   acc.Address,
		Owners:    acc.Owners,
		Nonce:     acc.Nonce,
		Whitelist: acc.WhitelistEntries(),
		Recovery:  acc.Recovery,
		Halted:    acc.Halted,
	}
}

// Account rebuilds the in-memory account.
func (r Record) Account() *wallet.Account {
	acc := wallet.NewAccount(r.Address, r.Owners...)
	acc.Nonce = r.Nonce
	acc.Halted = r.Halted
	for _, dest := range r.Whitelist {
		acc.Whitelist[dest] = struct{}{}
	}
	if r.Recovery != nil {
		rec := *r.Recovery
		acc.Recovery = &rec
	}
	return acc
}

// Encode serializes acc as JSON.
func Encode(acc *wallet.Account) ([]byte, error) {
	raw, err := json.Marshal(ToRecord(acc))
	if err != nil {
		return nil, fmt.Errorf("encode account %s: %w", acc.Address.Hex(), err)
	}
	return raw, nil
}

// Decode parses a record produced by Encode.
func Decode(raw []byte) (*wallet.Account, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return rec.Account(), nil
}

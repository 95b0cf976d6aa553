package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
)

// ActionType identifies what an account action does.
type ActionType string

const (
	ActionCall             ActionType = "call"
	ActionWhitelistAdd     ActionType = "whitelist.add"
	ActionWhitelistRemove  ActionType = "whitelist.remove"
	ActionRecoveryInitiate ActionType = "recovery.initiate"
	ActionRecoveryExecute  ActionType = "recovery.execute"
	ActionRecoveryCancel   ActionType = "recovery.cancel"
)

const (
	signatureLength = 65
	selectorLength  = 4
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCall, ActionWhitelistAdd, ActionWhitelistRemove,
		ActionRecoveryInitiate, ActionRecoveryExecute, ActionRecoveryCancel:
		return true
	}
	return false
}

// IsRecovery reports whether t belongs to the change-owner family.
func (t ActionType) IsRecovery() bool {
	return t == ActionRecoveryInitiate || t == ActionRecoveryExecute || t == ActionRecoveryCancel
}

// IsWhitelistMutation reports whether t edits the whitelist.
func (t ActionType) IsWhitelistMutation() bool {
	return t == ActionWhitelistAdd || t == ActionWhitelistRemove
}

// Selector is a 4-byte method discriminant.
type Selector [selectorLength]byte

// SelectorFromBytes copies the first four bytes of b.
func SelectorFromBytes(b []byte) (Selector, bool) {
	var s Selector
	if len(b) < selectorLength {
		return s, false
	}
	copy(s[:], b[:selectorLength])
	return s, true
}

// Hex returns the 0x-prefixed selector.
func (s Selector) Hex() string {
	return "0x" + common.Bytes2Hex(s[:])
}

// Request is a proposed account action.
//
// Target carries the call destination for ActionCall, the destination being
// added or removed for whitelist actions and the proposed owner for
// ActionRecoveryInitiate.
type Request struct {
	Account   common.Address
	Action    ActionType
	Target    common.Address
	Value     *big.Int
	Payload   []byte
	Method    Selector
	Sender    common.Address
	Origin    *common.Address
	Signature []byte
	Nonce     uint64
}

// Relayed reports whether the request is a meta-transaction submitted by a
// third party.
func (r *Request) Relayed() bool {
	return r != nil && r.Origin != nil
}

// Validate checks the structural shape of the request.
func (r *Request) Validate() error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "request is nil")
	}
	if r.Account == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidInput, "account address is empty")
	}
	if r.Action == "" {
		r.Action = ActionCall
	}
	if !r.Action.Valid() {
		return xerrors.Newf(xerrors.CodeInvalidInput, "unknown action type %q", r.Action)
	}
	if r.Value != nil && r.Value.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "value cannot be negative")
	}
	needsTarget := r.Action == ActionCall || r.Action.IsWhitelistMutation() || r.Action == ActionRecoveryInitiate
	if needsTarget && r.Target == (common.Address{}) {
		return xerrors.Newf(xerrors.CodeInvalidInput, "%s requires a target", r.Action)
	}
	if len(r.Signature) > 0 && len(r.Signature) != signatureLength {
		return xerrors.Newf(xerrors.CodeInvalidInput, "signature must be %d bytes, got %d", signatureLength, len(r.Signature))
	}
	if r.Relayed() {
		if len(r.Signature) == 0 {
			return xerrors.New(xerrors.CodeInvalidInput, "relayed request requires a signature bundle")
		}
	} else if r.Sender == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidInput, "direct request requires a sender")
	}
	if len(r.Payload) > 0 && len(r.Payload) < selectorLength {
		return xerrors.New(xerrors.CodeInvalidInput, "payload shorter than a method selector")
	}
	return nil
}

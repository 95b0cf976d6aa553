package api

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/wallet"
)

// ActionRequest is the JSON body of an action submission. Binary fields are
// 0x-prefixed hex; Value is decimal or 0x hex.
type ActionRequest struct {
	Action    string `json:"action"`
	Target    string `json:"target"`
	Value     string `json:"value,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Method    string `json:"method,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Signature string `json:"signature,omitempty"`
	Nonce     uint64 `json:"nonce"`
}

// VerdictResponse mirrors wallet.Verdict.
type VerdictResponse struct {
	Admitted bool   `json:"admitted"`
	Route    string `json:"route"`
	Caller   string `json:"caller,omitempty"`
	Nonce    uint64 `json:"nonce"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// CreateAccountRequest provisions an account.
type CreateAccountRequest struct {
	Address string   `json:"address"`
	Owners  []string `json:"owners"`
}

// AccountResponse is the public view of an account record.
type AccountResponse struct {
	Address   string            `json:"address"`
	Owners    []string          `json:"owners"`
	Nonce     uint64            `json:"nonce"`
	Whitelist []string          `json:"whitelist"`
	Recovery  *RecoveryResponse `json:"recovery,omitempty"`
	Halted    bool              `json:"halted"`
}

// RecoveryResponse describes a pending recovery.
type RecoveryResponse struct {
	Recoverer   string    `json:"recoverer"`
	NewOwner    string    `json:"new_owner"`
	InitiatedAt time.Time `json:"initiated_at"`
	UnlockAt    time.Time `json:"unlock_at"`
}

// PluginResponse is one registry entry.
type PluginResponse struct {
	Kind        string    `json:"kind"`
	Address     string    `json:"address"`
	Enabled     bool      `json:"enabled"`
	State       string    `json:"state"`
	Permissive  bool      `json:"permissive,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
	Description string    `json:"description,omitempty"`
}

// ErrorBody is the envelope of every non-verdict failure.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a code and a message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidInput, "%s %q is not an address", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

func parseHex(field, raw string) ([]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, field+" is not 0x-prefixed hex")
	}
	return b, nil
}

// ToRequest converts the body into a router request for account.
func (a ActionRequest) ToRequest(acct common.Address) (*wallet.Request, error) {
	req := &wallet.Request{
		Account: acct,
		Action:  wallet.ActionType(strings.ToLower(strings.TrimSpace(a.Action))),
		Nonce:   a.Nonce,
	}
	var err error
	if req.Target, err = parseOptionalAddress("target", a.Target); err != nil {
		return nil, err
	}
	if req.Sender, err = parseOptionalAddress("sender", a.Sender); err != nil {
		return nil, err
	}
	if a.Origin != "" {
		origin, err := parseAddress("origin", a.Origin)
		if err != nil {
			return nil, err
		}
		req.Origin = &origin
	}
	if a.Value != "" {
		value, ok := new(big.Int).SetString(a.Value, 0)
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeInvalidInput, "value %q is not an integer", a.Value)
		}
		req.Value = value
	}
	if req.Payload, err = parseHex("payload", a.Payload); err != nil {
		return nil, err
	}
	if req.Signature, err = parseHex("signature", a.Signature); err != nil {
		return nil, err
	}
	method, err := parseHex("method", a.Method)
	if err != nil {
		return nil, err
	}
	switch {
	case len(method) == 4:
		req.Method, _ = wallet.SelectorFromBytes(method)
	case len(method) == 0:
		if sel, ok := wallet.SelectorFromBytes(req.Payload); ok {
			req.Method = sel
		}
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidInput, "method must be 4 bytes, got %d", len(method))
	}
	return req, nil
}

func verdictResponse(v wallet.Verdict) VerdictResponse {
	out := VerdictResponse{
		Admitted: v.Admitted,
		Route:    string(v.Route),
		Nonce:    v.Nonce,
		Reason:   string(v.Reason),
		Detail:   v.Detail,
	}
	if v.Caller != (common.Address{}) {
		out.Caller = v.Caller.Hex()
	}
	return out
}

func accountResponse(acc *wallet.Account) AccountResponse {
	rec := account.ToRecord(acc)
	out := AccountResponse{
		Address:   rec.Address.Hex(),
		Owners:    hexAll(rec.Owners),
		Nonce:     rec.Nonce,
		Whitelist: hexAll(rec.Whitelist),
		Halted:    rec.Halted,
	}
	if rec.Recovery != nil {
		out.Recovery = &RecoveryResponse{
			Recoverer:   rec.Recovery.Recoverer.Hex(),
			NewOwner:    rec.Recovery.NewOwner.Hex(),
			InitiatedAt: rec.Recovery.InitiatedAt,
			UnlockAt:    rec.Recovery.UnlockAt,
		}
	}
	return out
}

func pluginResponse(e plugin.Entry) PluginResponse {
	out := PluginResponse{
		Kind:        string(e.Kind),
		Address:     e.Address.Hex(),
		Enabled:     e.Enabled,
		State:       string(e.State()),
		Permissive:  e.Permissive,
		InstalledAt: e.InstalledAt,
	}
	if e.Plugin != nil {
		out.Description = e.Plugin.Info().Description
	}
	return out
}

func hexAll(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}

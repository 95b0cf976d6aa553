package wallet

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
)

// Route tells whether an action arrived directly or through a relayer.
type Route string

const (
	RouteDirect  Route = "direct"
	RouteRelayed Route = "relayed"
)

// Verdict is the router's answer for one request.
type Verdict struct {
	Admitted bool           `json:"admitted"`
	Route    Route          `json:"route"`
	Caller   common.Address `json:"caller"`
	// Nonce is the account nonce after evaluation.
	Nonce  uint64       `json:"nonce"`
	Reason xerrors.Code `json:"reason,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// Admit builds an admitting verdict.
func Admit(route Route, caller common.Address, nonce uint64) Verdict {
	return Verdict{Admitted: true, Route: route, Caller: caller, Nonce: nonce}
}

// Reject builds a rejecting verdict from err.
func Reject(route Route, nonce uint64, err error) Verdict {
	v := Verdict{Route: route, Nonce: nonce, Reason: xerrors.CodeOf(err)}
	if e, ok := xerrors.From(err); ok {
		v.Detail = e.Message()
	} else if err != nil {
		v.Detail = err.Error()
	}
	return v
}

package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "WalletPlugins/internal/errors"
)

var digestArguments = mustArguments(
	"address", // account
	"uint256", // chain id
	"string",  // action
	"address", // target
	"uint256", // value
	"bytes32", // keccak256(payload)
	"bytes4",  // method
	"uint256", // nonce
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", name, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Digest returns the hash an owner signs to authorise req on chainID. The
// digest binds the nonce, so a signature can never be replayed once the
// account has advanced.
func Digest(req *Request, chainID *big.Int) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidInput, "request is nil")
	}
	if chainID == nil {
		chainID = new(big.Int)
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	action := req.Action
	if action == "" {
		action = ActionCall
	}
	encoded, err := digestArguments.Pack(
		req.Account,
		chainID,
		string(action),
		req.Target,
		value,
		[32]byte(crypto.Keccak256Hash(req.Payload)),
		[4]byte(req.Method),
		new(big.Int).SetUint64(req.Nonce),
	)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, "encode request digest")
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Sign produces the 65-byte signature bundle for req.
func Sign(req *Request, chainID *big.Int, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Digest(req, chainID)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), key)
	if err != nil {
		return nil, fmt.Errorf("sign request digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced req.Signature.
func RecoverSigner(req *Request, chainID *big.Int) (common.Address, error) {
	if req == nil || len(req.Signature) != signatureLength {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidInput, "signature bundle missing or malformed")
	}
	digest, err := Digest(req, chainID)
	if err != nil {
		return common.Address{}, err
	}
	sig := common.CopyBytes(req.Signature)
	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	case 0, 1:
	default:
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidInput, "invalid signature recovery id %d", v)
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest.Bytes()), sig)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, "recover signer")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

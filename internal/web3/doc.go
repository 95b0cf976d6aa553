// Package web3 abstracts the execution ledger the deployment coordinator
// calls into: chain identity, code lookups and deterministic CREATE2
// deployments through a factory contract.
package web3

// Package anchor commits artifact hashes to an Ethereum Attestation
// Service deployment on Base L2 and keeps a local registry of every
// anchor it has made.
package anchor

import (
	"context"
	"errors"
	"math/big"
)

// ErrUnconfigured is returned by on-chain operations when no ledger is
// wired up (EVM_PRIVATE_KEY unset).
var ErrUnconfigured = errors.New(
	"anchor: blockchain anchoring not configured; set EVM_PRIVATE_KEY to enable it")

var ErrValidation = errors.New("anchor: validation failed")

// EASSchema is the attestation schema registered once per network.
const EASSchema = "bytes32 artifactHash, string artifactType, string artifactId, string issuerDid"

// Canonical EAS predeploy addresses on Base.
const (
	EASContractAddress    = "0x4200000000000000000000000000000000000021"
	SchemaRegistryAddress = "0x4200000000000000000000000000000000000020"
)

// Network describes one supported Base deployment.
type Network struct {
	RPCURL   string
	ChainID  int64
	Explorer string
}

var Networks = map[string]Network{
	"sepolia": {RPCURL: "https://sepolia.base.org", ChainID: 84532, Explorer: "https://sepolia.basescan.org"},
	"mainnet": {RPCURL: "https://mainnet.base.org", ChainID: 8453, Explorer: "https://basescan.org"},
}

// Receipt is the mined result of a ledger write.
type Receipt struct {
	TxHash         string
	AttestationUID string
	BlockNumber    uint64
	GasUsed        uint64
}

// Attestation is the on-chain view of a previously made attestation.
type Attestation struct {
	Valid    bool
	Time     uint64
	Attester string
}

// Quote carries current fee and balance figures for cost estimation.
type Quote struct {
	GasPriceWei *big.Int
	TipCapWei   *big.Int
	BalanceWei  *big.Int
}

// Ledger is the on-chain surface the service needs. The EVM
// implementation talks to Base; tests substitute a fake.
type Ledger interface {
	// RegisterSchema registers schema and returns its 0x-prefixed UID.
	RegisterSchema(ctx context.Context, schema string) (string, error)
	// Attest submits encoded attestation data under schemaUID.
	Attest(ctx context.Context, schemaUID string, data []byte) (*Receipt, error)
	// Attestation fetches the on-chain record for a 0x-prefixed UID.
	Attestation(ctx context.Context, uid string) (*Attestation, error)
	// Quote returns fee and balance figures for the attester wallet.
	Quote(ctx context.Context) (*Quote, error)
	// Attester is the wallet address writes are sent from.
	Attester() string
}

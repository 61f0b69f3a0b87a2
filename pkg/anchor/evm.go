package anchor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	registerTimeout = 60 * time.Second
	attestTimeout   = 120 * time.Second

	registerGasLimit = 200_000
	attestGasLimit   = 300_000
)

// Minimal ABI fragments for the two EAS contracts; only the functions the
// service calls are included.
const easABIJSON = `[
  {"type":"function","name":"attest","stateMutability":"payable",
   "inputs":[{"name":"request","type":"tuple","components":[
     {"name":"schema","type":"bytes32"},
     {"name":"data","type":"tuple","components":[
       {"name":"recipient","type":"address"},
       {"name":"expirationTime","type":"uint64"},
       {"name":"revocable","type":"bool"},
       {"name":"refUID","type":"bytes32"},
       {"name":"data","type":"bytes"},
       {"name":"value","type":"uint256"}]}]}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getAttestation","stateMutability":"view",
   "inputs":[{"name":"uid","type":"bytes32"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"uid","type":"bytes32"},
     {"name":"schema","type":"bytes32"},
     {"name":"time","type":"uint64"},
     {"name":"expirationTime","type":"uint64"},
     {"name":"revocationTime","type":"uint64"},
     {"name":"refUID","type":"bytes32"},
     {"name":"recipient","type":"address"},
     {"name":"attester","type":"address"},
     {"name":"revocable","type":"bool"},
     {"name":"data","type":"bytes"}]}]},
  {"type":"function","name":"isAttestationValid","stateMutability":"view",
   "inputs":[{"name":"uid","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const schemaRegistryABIJSON = `[
  {"type":"function","name":"register","stateMutability":"nonpayable",
   "inputs":[
     {"name":"schema","type":"string"},
     {"name":"resolver","type":"address"},
     {"name":"revocable","type":"bool"}],
   "outputs":[{"name":"","type":"bytes32"}]}
]`

type attestationRequestData struct {
	Recipient      common.Address
	ExpirationTime uint64
	Revocable      bool
	RefUID         [32]byte
	Data           []byte
	Value          *big.Int
}

type attestationRequest struct {
	Schema [32]byte
	Data   attestationRequestData
}

type easAttestation struct {
	Uid            [32]byte
	Schema         [32]byte
	Time           uint64
	ExpirationTime uint64
	RevocationTime uint64
	RefUID         [32]byte
	Recipient      common.Address
	Attester       common.Address
	Revocable      bool
	Data           []byte
}

// EVMLedger talks to a Base deployment of EAS via JSON-RPC.
type EVMLedger struct {
	client   *ethclient.Client
	signer   *bind.TransactOpts
	from     common.Address
	chainID  *big.Int
	eas      *bind.BoundContract
	registry *bind.BoundContract
}

// DialEVM connects to rpcURL and verifies the chain id matches the
// selected network.
func DialEVM(ctx context.Context, rpcURL, privateKeyHex string, chainID int64) (*EVMLedger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("anchor: bad EVM private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("anchor: dial %s: %w", rpcURL, err)
	}

	gotChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("anchor: chain id query: %w", err)
	}
	if gotChainID.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("anchor: rpc %s is chain %d, expected %d", rpcURL, gotChainID, chainID)
	}

	signer, err := bind.NewKeyedTransactorWithChainID(key, gotChainID)
	if err != nil {
		client.Close()
		return nil, err
	}

	easABI, err := abi.JSON(strings.NewReader(easABIJSON))
	if err != nil {
		client.Close()
		return nil, err
	}
	registryABI, err := abi.JSON(strings.NewReader(schemaRegistryABIJSON))
	if err != nil {
		client.Close()
		return nil, err
	}

	return &EVMLedger{
		client:   client,
		signer:   signer,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  gotChainID,
		eas:      bind.NewBoundContract(common.HexToAddress(EASContractAddress), easABI, client, client, client),
		registry: bind.NewBoundContract(common.HexToAddress(SchemaRegistryAddress), registryABI, client, client, client),
	}, nil
}

func (l *EVMLedger) Close() { l.client.Close() }

func (l *EVMLedger) Attester() string { return l.from.Hex() }

func (l *EVMLedger) RegisterSchema(ctx context.Context, schema string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	opts, err := l.txOpts(ctx, registerGasLimit)
	if err != nil {
		return "", err
	}
	tx, err := l.registry.Transact(opts, "register", schema, common.Address{}, true)
	if err != nil {
		return "", fmt.Errorf("anchor: schema registration: %w", err)
	}
	receipt, err := l.waitMined(ctx, tx)
	if err != nil {
		return "", err
	}

	if uid := uidFromLogs(receipt); uid != "" {
		return uid, nil
	}
	// Registered event missing a topic: fall back to the deterministic
	// schema hash.
	return crypto.Keccak256Hash([]byte(schema)).Hex(), nil
}

func (l *EVMLedger) Attest(ctx context.Context, schemaUID string, data []byte) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, attestTimeout)
	defer cancel()

	opts, err := l.txOpts(ctx, attestGasLimit)
	if err != nil {
		return nil, err
	}
	request := attestationRequest{
		Schema: common.HexToHash(schemaUID),
		Data: attestationRequestData{
			Recipient: l.from, // self-attestation
			Revocable: true,
			Data:      data,
			Value:     big.NewInt(0),
		},
	}
	tx, err := l.eas.Transact(opts, "attest", request)
	if err != nil {
		return nil, fmt.Errorf("anchor: attest: %w", err)
	}
	receipt, err := l.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}

	uid := uidFromLogs(receipt)
	if uid == "" {
		uid = "unknown"
	}
	return &Receipt{
		TxHash:         tx.Hash().Hex(),
		AttestationUID: uid,
		BlockNumber:    receipt.BlockNumber.Uint64(),
		GasUsed:        receipt.GasUsed,
	}, nil
}

func (l *EVMLedger) Attestation(ctx context.Context, uid string) (*Attestation, error) {
	uidHash := common.HexToHash(uid)
	callOpts := &bind.CallOpts{Context: ctx}

	var validOut []interface{}
	if err := l.eas.Call(callOpts, &validOut, "isAttestationValid", uidHash); err != nil {
		return nil, fmt.Errorf("anchor: isAttestationValid: %w", err)
	}
	valid, _ := validOut[0].(bool)

	var attOut []interface{}
	if err := l.eas.Call(callOpts, &attOut, "getAttestation", uidHash); err != nil {
		return nil, fmt.Errorf("anchor: getAttestation: %w", err)
	}
	att := *abi.ConvertType(attOut[0], new(easAttestation)).(*easAttestation)

	return &Attestation{
		Valid:    valid,
		Time:     att.Time,
		Attester: att.Attester.Hex(),
	}, nil
}

func (l *EVMLedger) Quote(ctx context.Context) (*Quote, error) {
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: gas price: %w", err)
	}
	tipCap, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: tip cap: %w", err)
	}
	balance, err := l.client.BalanceAt(ctx, l.from, nil)
	if err != nil {
		return nil, fmt.Errorf("anchor: balance: %w", err)
	}
	return &Quote{GasPriceWei: gasPrice, TipCapWei: tipCap, BalanceWei: balance}, nil
}

func (l *EVMLedger) txOpts(ctx context.Context, gasLimit uint64) (*bind.TransactOpts, error) {
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: gas price: %w", err)
	}
	tipCap, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: tip cap: %w", err)
	}

	opts := *l.signer
	opts.Context = ctx
	opts.GasLimit = gasLimit
	opts.GasFeeCap = new(big.Int).Mul(gasPrice, big.NewInt(2))
	opts.GasTipCap = tipCap
	return &opts, nil
}

func (l *EVMLedger) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return nil, fmt.Errorf("anchor: waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("anchor: transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// uidFromLogs pulls the UID emitted as the first indexed topic of the
// Registered / Attested events.
func uidFromLogs(receipt *types.Receipt) string {
	if len(receipt.Logs) == 0 {
		return ""
	}
	log := receipt.Logs[0]
	if len(log.Topics) > 1 {
		return log.Topics[1].Hex()
	}
	if len(log.Data) >= 32 {
		return common.BytesToHash(log.Data[:32]).Hex()
	}
	return ""
}

var (
	abiBytes32 = mustABIType("bytes32")
	abiString  = mustABIType("string")

	schemaArguments = abi.Arguments{
		{Name: "artifactHash", Type: abiBytes32},
		{Name: "artifactType", Type: abiString},
		{Name: "artifactId", Type: abiString},
		{Name: "issuerDid", Type: abiString},
	}
)

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// encodeAttestationData ABI-encodes the schema fields for one anchor.
func encodeAttestationData(artifactHash [32]byte, artifactType, artifactID, issuerDID string) ([]byte, error) {
	return schemaArguments.Pack(artifactHash, artifactType, artifactID, issuerDID)
}

package anchor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/pkg/canonical"
	"github.com/VibeTensor/attestix/pkg/merkle"
	"github.com/VibeTensor/attestix/pkg/provenance"
	"github.com/VibeTensor/attestix/pkg/store"
)

// ValidArtifactTypes enumerates what may be anchored.
var ValidArtifactTypes = map[string]bool{
	"identity":    true,
	"credential":  true,
	"declaration": true,
	"audit_batch": true,
}

const estimatedGas = 250_000

// Record is one completed anchor, persisted in the local registry.
type Record struct {
	AnchorID       string         `json:"anchor_id"`
	ArtifactType   string         `json:"artifact_type"`
	ArtifactID     string         `json:"artifact_id"`
	ArtifactHash   string         `json:"artifact_hash"`
	Network        string         `json:"network"`
	ChainID        int64          `json:"chain_id"`
	TxHash         string         `json:"tx_hash"`
	AttestationUID string         `json:"attestation_uid"`
	SchemaUID      string         `json:"schema_uid"`
	Attester       string         `json:"attester"`
	BlockNumber    uint64         `json:"block_number"`
	GasUsed        uint64         `json:"gas_used"`
	ExplorerURL    string         `json:"explorer_url"`
	AnchoredAt     string         `json:"anchored_at"`
	IssuerDID      string         `json:"issuer_did"`
	BatchMetadata  *BatchMetadata `json:"batch_metadata,omitempty"`
}

// BatchMetadata describes the audit-log slice behind an audit_batch anchor.
type BatchMetadata struct {
	AgentID    string `json:"agent_id"`
	EntryCount int    `json:"entry_count"`
	MerkleRoot string `json:"merkle_root"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type anchorsFile struct {
	Anchors []Record `json:"anchors"`
}

// Service anchors artifact hashes. A nil ledger leaves the service in
// local-only mode: anchoring fails with ErrUnconfigured but verification
// still reports local records.
type Service struct {
	ledger    Ledger
	network   string
	netCfg    Network
	issuerDID string
	col       *store.Collection
	cfgPath   string
	prov      *provenance.Service

	mu        sync.Mutex
	schemaUID string
}

func NewService(ledger Ledger, network, issuerDID string, col *store.Collection, cfgPath string, prov *provenance.Service) (*Service, error) {
	netCfg, ok := Networks[network]
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q, use sepolia or mainnet", ErrValidation, network)
	}
	s := &Service{
		ledger:    ledger,
		network:   network,
		netCfg:    netCfg,
		issuerDID: issuerDID,
		col:       col,
		cfgPath:   cfgPath,
		prov:      prov,
	}
	s.schemaUID = s.loadSchemaUID()
	return s, nil
}

// Configured reports whether on-chain writes are possible.
func (s *Service) Configured() bool { return s.ledger != nil }

// WalletAddress is the attester wallet, or empty in local-only mode.
func (s *Service) WalletAddress() string {
	if s.ledger == nil {
		return ""
	}
	return s.ledger.Attester()
}

// HashArtifact computes the canonical SHA-256 hash anchored for an
// artifact, identical to the hash used for signing.
func HashArtifact(artifact interface{}) (string, error) {
	return canonical.Hash(artifact)
}

// AnchorArtifact submits an artifact hash to the ledger and records the
// anchor locally.
func (s *Service) AnchorArtifact(ctx context.Context, artifactHash, artifactType, artifactID string) (*Record, error) {
	return s.anchor(ctx, artifactHash, artifactType, artifactID, nil)
}

func (s *Service) anchor(ctx context.Context, artifactHash, artifactType, artifactID string, meta *BatchMetadata) (*Record, error) {
	if s.ledger == nil {
		return nil, ErrUnconfigured
	}
	if !ValidArtifactTypes[artifactType] {
		return nil, fmt.Errorf("%w: invalid artifact_type %q", ErrValidation, artifactType)
	}
	hashBytes, err := hex.DecodeString(artifactHash)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("%w: artifact_hash must be 64 hex characters", ErrValidation)
	}

	schemaUID, err := s.ensureSchema(ctx)
	if err != nil {
		return nil, err
	}

	var hash32 [32]byte
	copy(hash32[:], hashBytes)
	data, err := encodeAttestationData(hash32, artifactType, artifactID, s.issuerDID)
	if err != nil {
		return nil, fmt.Errorf("anchor: encoding attestation data: %w", err)
	}

	receipt, err := s.ledger.Attest(ctx, schemaUID, data)
	if err != nil {
		return nil, err
	}

	record := Record{
		AnchorID:       "anchor:" + hexID(12),
		ArtifactType:   artifactType,
		ArtifactID:     artifactID,
		ArtifactHash:   artifactHash,
		Network:        s.network,
		ChainID:        s.netCfg.ChainID,
		TxHash:         receipt.TxHash,
		AttestationUID: receipt.AttestationUID,
		SchemaUID:      schemaUID,
		Attester:       s.ledger.Attester(),
		BlockNumber:    receipt.BlockNumber,
		GasUsed:        receipt.GasUsed,
		ExplorerURL:    s.netCfg.Explorer + "/tx/" + receipt.TxHash,
		AnchoredAt:     nowRFC3339(),
		IssuerDID:      s.issuerDID,
		BatchMetadata:  meta,
	}

	var file anchorsFile
	err = s.col.Update(ctx, &file, func() error {
		file.Anchors = append(file.Anchors, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) ensureSchema(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schemaUID != "" {
		return s.schemaUID, nil
	}
	uid, err := s.ledger.RegisterSchema(ctx, EASSchema)
	if err != nil {
		return "", err
	}
	s.schemaUID = uid
	s.saveSchemaUID(uid)
	return uid, nil
}

// Verify verdicts.
const (
	VerdictValid     = "valid"
	VerdictInvalid   = "invalid"
	VerdictLocalOnly = "local_only"
	VerdictNotFound  = "not_found"
)

// VerifiedAnchor pairs a local record with its on-chain state.
type VerifiedAnchor struct {
	Record
	OnChainValid    *bool  `json:"on_chain_valid,omitempty"`
	OnChainTime     uint64 `json:"on_chain_time,omitempty"`
	OnChainAttester string `json:"on_chain_attester,omitempty"`
	Note            string `json:"note,omitempty"`
}

// VerifyResult is the outcome of checking an artifact hash.
type VerifyResult struct {
	Verified     string           `json:"verified"`
	ArtifactHash string           `json:"artifact_hash"`
	AnchorCount  int              `json:"anchor_count"`
	Anchors      []VerifiedAnchor `json:"anchors,omitempty"`
	Note         string           `json:"note,omitempty"`
}

// VerifyAnchor checks the local registry for artifactHash and, when a
// ledger is configured, confirms each attestation on-chain.
func (s *Service) VerifyAnchor(ctx context.Context, artifactHash string) (*VerifyResult, error) {
	var file anchorsFile
	if err := s.col.Load(ctx, &file); err != nil {
		return nil, err
	}
	var matches []Record
	for _, a := range file.Anchors {
		if a.ArtifactHash == artifactHash {
			matches = append(matches, a)
		}
	}

	result := &VerifyResult{ArtifactHash: artifactHash, AnchorCount: len(matches)}
	if len(matches) == 0 {
		result.Verified = VerdictNotFound
		result.Note = "no local anchor record found for this hash"
		return result, nil
	}

	if s.ledger == nil {
		result.Verified = VerdictLocalOnly
		result.Note = "cannot verify on-chain (blockchain not configured); local record found"
		for _, m := range matches {
			result.Anchors = append(result.Anchors, VerifiedAnchor{Record: m})
		}
		return result, nil
	}

	allValid := true
	for _, m := range matches {
		va := VerifiedAnchor{Record: m}
		if len(m.AttestationUID) == 66 {
			att, err := s.ledger.Attestation(ctx, m.AttestationUID)
			if err != nil {
				return nil, err
			}
			va.OnChainValid = &att.Valid
			va.OnChainTime = att.Time
			va.OnChainAttester = att.Attester
			if !att.Valid {
				allValid = false
			}
		} else {
			va.Note = "attestation UID unknown, cannot check on-chain"
			allValid = false
		}
		result.Anchors = append(result.Anchors, va)
	}

	if allValid {
		result.Verified = VerdictValid
	} else {
		result.Verified = VerdictInvalid
	}
	return result, nil
}

// AnchorAuditBatch computes the Merkle root over an agent's audit log
// entries (optionally date-bounded) and anchors it as one audit_batch.
func (s *Service) AnchorAuditBatch(ctx context.Context, agentID, startDate, endDate string) (*Record, error) {
	if s.ledger == nil {
		return nil, ErrUnconfigured
	}

	entries, err := s.prov.AuditEntries(ctx, agentID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no audit log entries for %s in the specified range", ErrValidation, agentID)
	}

	leaves := make([]interface{}, len(entries))
	for i, e := range entries {
		leaves[i] = e
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, err
	}

	start := startDate
	if start == "" {
		start, _ = entries[0]["timestamp"].(string)
	}
	end := endDate
	if end == "" {
		end, _ = entries[len(entries)-1]["timestamp"].(string)
	}
	meta := &BatchMetadata{
		AgentID:    agentID,
		EntryCount: tree.LeafCount(),
		MerkleRoot: tree.RootHex(),
		StartDate:  start,
		EndDate:    end,
	}
	return s.anchor(ctx, tree.RootHex(), "audit_batch", "batch:"+hexID(12), meta)
}

// Status summarizes every anchor associated with an agent.
type Status struct {
	AgentID      string         `json:"agent_id"`
	TotalAnchors int            `json:"total_anchors"`
	ByType       map[string]int `json:"by_type"`
	Anchors      []Record       `json:"anchors"`
	Network      string         `json:"network"`
	Wallet       string         `json:"wallet,omitempty"`
}

// AnchorStatus lists anchors whose artifact id mentions the agent, plus
// audit batches anchored for it.
func (s *Service) AnchorStatus(ctx context.Context, agentID string) (*Status, error) {
	var file anchorsFile
	if err := s.col.Load(ctx, &file); err != nil {
		return nil, err
	}

	st := &Status{AgentID: agentID, ByType: map[string]int{}, Network: s.network, Wallet: s.WalletAddress()}
	for _, a := range file.Anchors {
		match := agentID != "" && strings.Contains(a.ArtifactID, agentID)
		if !match && a.BatchMetadata != nil && a.BatchMetadata.AgentID == agentID {
			match = true
		}
		if match {
			st.Anchors = append(st.Anchors, a)
			st.ByType[a.ArtifactType]++
		}
	}
	st.TotalAnchors = len(st.Anchors)
	return st, nil
}

// CostEstimate prices one anchoring transaction at current fees.
type CostEstimate struct {
	Network            string `json:"network"`
	ChainID            int64  `json:"chain_id"`
	Wallet             string `json:"wallet"`
	BalanceETH         string `json:"balance_eth"`
	EstimatedGas       int    `json:"estimated_gas"`
	GasPriceGwei       string `json:"gas_price_gwei"`
	MaxPriorityFeeGwei string `json:"max_priority_fee_gwei"`
	EstimatedCostETH   string `json:"estimated_cost_eth"`
	CanAfford          bool   `json:"can_afford"`
	ArtifactType       string `json:"artifact_type"`
	Explorer           string `json:"explorer"`
}

func (s *Service) EstimateCost(ctx context.Context, artifactType string) (*CostEstimate, error) {
	if s.ledger == nil {
		return nil, ErrUnconfigured
	}
	if artifactType == "" {
		artifactType = "identity"
	}

	quote, err := s.ledger.Quote(ctx)
	if err != nil {
		return nil, err
	}
	costWei := new(big.Int).Mul(big.NewInt(estimatedGas), quote.GasPriceWei)

	return &CostEstimate{
		Network:            s.network,
		ChainID:            s.netCfg.ChainID,
		Wallet:             s.ledger.Attester(),
		BalanceETH:         weiToUnit(quote.BalanceWei, 18),
		EstimatedGas:       estimatedGas,
		GasPriceGwei:       weiToUnit(quote.GasPriceWei, 9),
		MaxPriorityFeeGwei: weiToUnit(quote.TipCapWei, 9),
		EstimatedCostETH:   weiToUnit(costWei, 18),
		CanAfford:          quote.BalanceWei.Cmp(costWei) >= 0,
		ArtifactType:       artifactType,
		Explorer:           s.netCfg.Explorer,
	}, nil
}

// Schema UID cache, one entry per network.

func (s *Service) loadSchemaUID() string {
	data, err := os.ReadFile(s.cfgPath)
	if err != nil {
		return ""
	}
	var cfg map[string]string
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return cfg["schema_uid_"+s.network]
}

func (s *Service) saveSchemaUID(uid string) {
	cfg := map[string]string{}
	if data, err := os.ReadFile(s.cfgPath); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}
	cfg["schema_uid_"+s.network] = uid
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.cfgPath, data, 0o600)
}

func weiToUnit(wei *big.Int, decimals int) string {
	f := new(big.Float).SetInt(wei)
	div := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return new(big.Float).Quo(f, div).Text('f', -1)
}

func nowRFC3339() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

func hexID(n int) string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:n]
}

package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/pkg/keys"
	"github.com/VibeTensor/attestix/pkg/provenance"
	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/store"
)

// fakeLedger records calls and mints deterministic receipts.
type fakeLedger struct {
	registered  []string
	attested    [][]byte
	validByUID  map[string]bool
	attestError error
}

func (f *fakeLedger) RegisterSchema(_ context.Context, schema string) (string, error) {
	f.registered = append(f.registered, schema)
	sum := sha256.Sum256([]byte(schema))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

func (f *fakeLedger) Attest(_ context.Context, _ string, data []byte) (*Receipt, error) {
	if f.attestError != nil {
		return nil, f.attestError
	}
	f.attested = append(f.attested, data)
	sum := sha256.Sum256(data)
	return &Receipt{
		TxHash:         "0x" + hex.EncodeToString(sum[:]),
		AttestationUID: "0x" + hex.EncodeToString(sum[:]),
		BlockNumber:    uint64(1000 + len(f.attested)),
		GasUsed:        123456,
	}, nil
}

func (f *fakeLedger) Attestation(_ context.Context, uid string) (*Attestation, error) {
	return &Attestation{Valid: f.validByUID[uid], Time: 1700000000, Attester: f.Attester()}, nil
}

func (f *fakeLedger) Quote(context.Context) (*Quote, error) {
	return &Quote{
		GasPriceWei: bigInt(2_000_000_000),  // 2 gwei
		TipCapWei:   bigInt(1_000_000_000),  // 1 gwei
		BalanceWei:  bigInt(10_000_000_000), // far below the estimate
	}, nil
}

func (f *fakeLedger) Attester() string { return "0x1111111111111111111111111111111111111111" }

type fixture struct {
	svc    *Service
	ledger *fakeLedger
	prov   *provenance.Service
}

func newFixture(t *testing.T, ledger Ledger) *fixture {
	t.Helper()
	dir := t.TempDir()
	key, err := keys.LoadOrCreateServerKey(filepath.Join(dir, ".signing_key.json"))
	require.NoError(t, err)
	kernel := signed.NewKernel(key)
	prov := provenance.NewService(kernel, store.NewCollection(filepath.Join(dir, "provenance.json")))

	svc, err := NewService(ledger, "sepolia", key.DID,
		store.NewCollection(filepath.Join(dir, "anchors.json")),
		filepath.Join(dir, "blockchain_config.json"), prov)
	require.NoError(t, err)

	fl, _ := ledger.(*fakeLedger)
	return &fixture{svc: svc, ledger: fl, prov: prov}
}

func artifactHash(t *testing.T, v interface{}) string {
	t.Helper()
	h, err := HashArtifact(v)
	require.NoError(t, err)
	return h
}

func TestAnchorArtifact(t *testing.T) {
	fx := newFixture(t, &fakeLedger{})
	ctx := context.Background()

	hash := artifactHash(t, map[string]interface{}{"agent_id": "attestix:abc123def456"})
	rec, err := fx.svc.AnchorArtifact(ctx, hash, "identity", "attestix:abc123def456")
	require.NoError(t, err)

	assert.Regexp(t, `^anchor:[0-9a-f]{12}$`, rec.AnchorID)
	assert.Equal(t, "identity", rec.ArtifactType)
	assert.Equal(t, hash, rec.ArtifactHash)
	assert.Equal(t, int64(84532), rec.ChainID)
	assert.Equal(t, "sepolia", rec.Network)
	assert.Equal(t, uint64(123456), rec.GasUsed)
	assert.Contains(t, rec.ExplorerURL, "https://sepolia.basescan.org/tx/0x")
	assert.NotEmpty(t, rec.SchemaUID)

	// Schema registered exactly once across anchors.
	_, err = fx.svc.AnchorArtifact(ctx, hash, "credential", "urn:uuid:whatever")
	require.NoError(t, err)
	assert.Len(t, fx.ledger.registered, 1)
}

func TestAnchorValidation(t *testing.T) {
	fx := newFixture(t, &fakeLedger{})
	ctx := context.Background()

	hash := artifactHash(t, map[string]interface{}{"a": 1})
	_, err := fx.svc.AnchorArtifact(ctx, hash, "bogus", "x")
	require.ErrorIs(t, err, ErrValidation)

	_, err = fx.svc.AnchorArtifact(ctx, "zz", "identity", "x")
	require.ErrorIs(t, err, ErrValidation)
}

func TestUnconfiguredMode(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	assert.False(t, fx.svc.Configured())
	assert.Empty(t, fx.svc.WalletAddress())

	hash := artifactHash(t, map[string]interface{}{"a": 1})
	_, err := fx.svc.AnchorArtifact(ctx, hash, "identity", "x")
	require.ErrorIs(t, err, ErrUnconfigured)
	_, err = fx.svc.AnchorAuditBatch(ctx, "attestix:abc123def456", "", "")
	require.ErrorIs(t, err, ErrUnconfigured)
	_, err = fx.svc.EstimateCost(ctx, "identity")
	require.ErrorIs(t, err, ErrUnconfigured)

	res, err := fx.svc.VerifyAnchor(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, VerdictNotFound, res.Verified)
}

func TestVerifyLocalOnly(t *testing.T) {
	configured := newFixture(t, &fakeLedger{})
	ctx := context.Background()

	hash := artifactHash(t, map[string]interface{}{"a": 1})
	_, err := configured.svc.AnchorArtifact(ctx, hash, "identity", "attestix:abc123def456")
	require.NoError(t, err)

	// Re-open the same registry without a ledger.
	local, err := NewService(nil, "sepolia", "did:key:zTest",
		store.NewCollection(configured.svc.col.Path()),
		configured.svc.cfgPath, configured.prov)
	require.NoError(t, err)

	res, err := local.VerifyAnchor(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, VerdictLocalOnly, res.Verified)
	assert.Equal(t, 1, res.AnchorCount)
}

func TestVerifyOnChain(t *testing.T) {
	ledger := &fakeLedger{validByUID: map[string]bool{}}
	fx := newFixture(t, ledger)
	ctx := context.Background()

	hash := artifactHash(t, map[string]interface{}{"a": 1})
	rec, err := fx.svc.AnchorArtifact(ctx, hash, "identity", "attestix:abc123def456")
	require.NoError(t, err)

	ledger.validByUID[rec.AttestationUID] = true
	res, err := fx.svc.VerifyAnchor(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, VerdictValid, res.Verified)
	require.Len(t, res.Anchors, 1)
	require.NotNil(t, res.Anchors[0].OnChainValid)
	assert.True(t, *res.Anchors[0].OnChainValid)

	ledger.validByUID[rec.AttestationUID] = false
	res, err = fx.svc.VerifyAnchor(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, VerdictInvalid, res.Verified)
}

func TestAnchorAuditBatch(t *testing.T) {
	fx := newFixture(t, &fakeLedger{})
	ctx := context.Background()
	agent := "attestix:abc123def456"

	for i := 0; i < 3; i++ {
		_, err := fx.prov.LogAction(ctx, provenance.ActionParams{
			AgentID: agent, ActionType: "inference", InputSummary: "prompt",
		})
		require.NoError(t, err)
	}

	rec, err := fx.svc.AnchorAuditBatch(ctx, agent, "", "")
	require.NoError(t, err)
	assert.Equal(t, "audit_batch", rec.ArtifactType)
	assert.Regexp(t, `^batch:[0-9a-f]{12}$`, rec.ArtifactID)
	require.NotNil(t, rec.BatchMetadata)
	assert.Equal(t, 3, rec.BatchMetadata.EntryCount)
	assert.Equal(t, rec.ArtifactHash, rec.BatchMetadata.MerkleRoot)
	assert.NotEmpty(t, rec.BatchMetadata.StartDate)

	// Empty range fails before touching the ledger.
	_, err = fx.svc.AnchorAuditBatch(ctx, "attestix:000000000000", "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestAnchorStatusGroupsByType(t *testing.T) {
	fx := newFixture(t, &fakeLedger{})
	ctx := context.Background()
	agent := "attestix:abc123def456"

	hash := artifactHash(t, map[string]interface{}{"a": 1})
	_, err := fx.svc.AnchorArtifact(ctx, hash, "identity", agent)
	require.NoError(t, err)
	_, err = fx.prov.LogAction(ctx, provenance.ActionParams{AgentID: agent, ActionType: "inference"})
	require.NoError(t, err)
	_, err = fx.svc.AnchorAuditBatch(ctx, agent, "", "")
	require.NoError(t, err)

	st, err := fx.svc.AnchorStatus(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalAnchors)
	assert.Equal(t, map[string]int{"identity": 1, "audit_batch": 1}, st.ByType)
	assert.Equal(t, fx.ledger.Attester(), st.Wallet)
}

func TestEstimateCost(t *testing.T) {
	fx := newFixture(t, &fakeLedger{})

	est, err := fx.svc.EstimateCost(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "identity", est.ArtifactType)
	assert.Equal(t, int64(84532), est.ChainID)
	assert.Equal(t, "2", est.GasPriceGwei)
	// 250000 gas at 2 gwei is 0.0005 ETH; the 10 gwei balance cannot cover it.
	assert.Equal(t, "0.0005", est.EstimatedCostETH)
	assert.False(t, est.CanAfford)
}

func TestSchemaUIDCachedAcrossRestarts(t *testing.T) {
	fx := newFixture(t, &fakeLedger{})
	ctx := context.Background()

	hash := artifactHash(t, map[string]interface{}{"a": 1})
	rec, err := fx.svc.AnchorArtifact(ctx, hash, "identity", "x")
	require.NoError(t, err)

	reopened, err := NewService(&fakeLedger{}, "sepolia", "did:key:zTest",
		store.NewCollection(fx.svc.col.Path()), fx.svc.cfgPath, fx.prov)
	require.NoError(t, err)

	rec2, err := reopened.AnchorArtifact(ctx, hash, "identity", "y")
	require.NoError(t, err)
	assert.Equal(t, rec.SchemaUID, rec2.SchemaUID)
	assert.Empty(t, reopened.ledger.(*fakeLedger).registered)
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }

package provenance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/pkg/keys"
	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	key, err := keys.LoadOrCreateServerKey(filepath.Join(dir, ".signing_key.json"))
	require.NoError(t, err)
	return NewService(signed.NewKernel(key), store.NewCollection(filepath.Join(dir, "provenance.json")))
}

func TestRecordTrainingData(t *testing.T) {
	svc := newTestService(t)

	entry, err := svc.RecordTrainingData(context.Background(), TrainingDataParams{
		AgentID:              "attestix:a",
		DatasetName:          "CommonCrawl subset",
		License:              "CC-BY-4.0",
		DataCategories:       []string{"web_text"},
		ContainsPersonalData: true,
	})
	require.NoError(t, err)

	assert.Regexp(t, `^prov:[0-9a-f]{12}$`, entry["entry_id"])
	assert.Equal(t, "training_data", entry["entry_type"])
	assert.Equal(t, true, entry["contains_personal_data"])
	assert.NotEmpty(t, entry["signature"])

	_, err = svc.RecordTrainingData(context.Background(), TrainingDataParams{AgentID: "attestix:a"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRecordModelLineage(t *testing.T) {
	svc := newTestService(t)

	entry, err := svc.RecordModelLineage(context.Background(), ModelLineageParams{
		AgentID:           "attestix:a",
		BaseModel:         "llama-3-70b",
		BaseModelProvider: "Meta",
		FineTuningMethod:  "LoRA",
		EvaluationMetrics: map[string]interface{}{"mmlu": 0.79},
	})
	require.NoError(t, err)
	assert.Equal(t, "model_lineage", entry["entry_type"])
	assert.NotEmpty(t, entry["signature"])
}

func TestAuditChainLinks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e1, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference"})
	require.NoError(t, err)
	assert.Equal(t, ZeroHash, e1["prev_hash"])
	assert.Len(t, e1["chain_hash"], 64)

	e2, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "delegation"})
	require.NoError(t, err)
	assert.Equal(t, e1["chain_hash"], e2["prev_hash"])

	// A second agent starts its own chain at the zero hash.
	o1, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:b", ActionType: "inference"})
	require.NoError(t, err)
	assert.Equal(t, ZeroHash, o1["prev_hash"])

	e3, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "external_call"})
	require.NoError(t, err)
	assert.Equal(t, e2["chain_hash"], e3["prev_hash"])

	res, err := svc.VerifyChain(ctx, "attestix:a")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.EntriesChecked)

	res, err = svc.VerifyChain(ctx, "attestix:b")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.EntriesChecked)
}

func TestLogActionRejectsBadType(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.LogAction(context.Background(), ActionParams{AgentID: "attestix:a", ActionType: "daydreaming"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference", InputSummary: "q1"})
	require.NoError(t, err)
	e2, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference", InputSummary: "q2"})
	require.NoError(t, err)
	_, err = svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference", InputSummary: "q3"})
	require.NoError(t, err)

	// Tamper with the middle entry directly in the collection file.
	var f provenanceFile
	err = svc.col.Update(ctx, &f, func() error {
		for _, e := range f.AuditLog {
			if e["log_id"] == e2["log_id"] {
				e["input_summary"] = "rewritten"
			}
		}
		return nil
	})
	require.NoError(t, err)

	res, err := svc.VerifyChain(ctx, "attestix:a")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, e2["log_id"], res.FirstBreak)
	assert.Equal(t, 2, res.EntriesChecked)
}

func TestGetProvenanceAggregates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordTrainingData(ctx, TrainingDataParams{AgentID: "attestix:a", DatasetName: "ds1"})
	require.NoError(t, err)
	_, err = svc.RecordModelLineage(ctx, ModelLineageParams{AgentID: "attestix:a", BaseModel: "m1"})
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err = svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference"})
		require.NoError(t, err)
	}

	prov, err := svc.GetProvenance(ctx, "attestix:a")
	require.NoError(t, err)
	assert.Len(t, prov.TrainingData, 1)
	assert.Len(t, prov.ModelLineage, 1)
	assert.Equal(t, 7, prov.AuditLogCount)
	assert.Len(t, prov.LatestAuditEntries, 5)
}

func TestAuditTrailFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference"})
	require.NoError(t, err)
	_, err = svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "data_access"})
	require.NoError(t, err)
	_, err = svc.LogAction(ctx, ActionParams{AgentID: "attestix:b", ActionType: "inference"})
	require.NoError(t, err)

	got, err := svc.AuditTrail(ctx, "attestix:a", "", "", "", 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.AuditTrail(ctx, "attestix:a", "data_access", "", "", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "data_access", got[0]["action_type"])

	got, err = svc.AuditTrail(ctx, "attestix:a", "", "2099-01-01T00:00:00Z", "", 50)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveAgent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordTrainingData(ctx, TrainingDataParams{AgentID: "attestix:a", DatasetName: "ds"})
	require.NoError(t, err)
	_, err = svc.LogAction(ctx, ActionParams{AgentID: "attestix:a", ActionType: "inference"})
	require.NoError(t, err)

	n, err := svc.RemoveAgent(ctx, "attestix:a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	prov, err := svc.GetProvenance(ctx, "attestix:a")
	require.NoError(t, err)
	assert.Empty(t, prov.TrainingData)
	assert.Zero(t, prov.AuditLogCount)
}

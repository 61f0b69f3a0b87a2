package reputation

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/pkg/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(store.NewCollection(filepath.Join(t.TempDir(), "reputation.json")))
}

func TestRecordAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Record(ctx, "attestix:a", "attestix:b", "success", "task", "did the thing")
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.Equal(t, 1.0, res.UpdatedScore.TrustScore)
	assert.Equal(t, 1, res.UpdatedScore.TotalInteractions)

	_, err = svc.Record(ctx, "attestix:a", "attestix:b", "failure", "task", "")
	require.NoError(t, err)

	rep, err := svc.Get(ctx, "attestix:a")
	require.NoError(t, err)
	require.NotNil(t, rep.TrustScore)
	// Two near-simultaneous interactions decay identically, so the score is
	// close to the plain average of 1.0 and 0.0.
	assert.InDelta(t, 0.5, *rep.TrustScore, 0.01)
	assert.Equal(t, 2, rep.TotalInteractions)
	assert.Equal(t, 2, rep.CategoryBreakdown["task"]["total"])
	assert.Equal(t, 1, rep.CategoryBreakdown["task"]["success"])
	assert.Equal(t, 1, rep.CategoryBreakdown["task"]["failure"])
}

func TestRecordRejectsBadOutcome(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Record(context.Background(), "attestix:a", "attestix:b", "amazing", "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetUnknownAgent(t *testing.T) {
	svc := newTestService(t)

	rep, err := svc.Get(context.Background(), "attestix:ghost")
	require.NoError(t, err)
	assert.Nil(t, rep.TrustScore)
	assert.Zero(t, rep.TotalInteractions)
}

// Older interactions carry exponentially less weight: after one half-life a
// failure should pull the score down half as hard as a fresh one.
func TestDecayWeighting(t *testing.T) {
	now := time.Now().Unix()
	halfLife := int64(30 * 86400)

	fresh := []*Interaction{
		{AgentID: "a", Outcome: "failure", Epoch: now},
		{AgentID: "a", Outcome: "success", Epoch: now - halfLife},
	}
	score := computeScore(fresh, "a", now)
	// weights: failure 1.0, success 0.5 → 0.5/1.5
	assert.InDelta(t, 1.0/3.0, score, 1e-6)

	flipped := []*Interaction{
		{AgentID: "a", Outcome: "success", Epoch: now},
		{AgentID: "a", Outcome: "failure", Epoch: now - halfLife},
	}
	assert.InDelta(t, 2.0/3.0, computeScore(flipped, "a", now), 1e-6)
}

func TestComputeScoreIgnoresOtherAgents(t *testing.T) {
	now := time.Now().Unix()
	interactions := []*Interaction{
		{AgentID: "a", Outcome: "success", Epoch: now},
		{AgentID: "b", Outcome: "failure", Epoch: now},
	}
	assert.InDelta(t, 1.0, computeScore(interactions, "a", now), 1e-9)
	assert.InDelta(t, 0.0, computeScore(interactions, "b", now), 1e-9)
	assert.Zero(t, computeScore(interactions, "c", now))
}

func TestQuerySortsAndFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, "attestix:good", "x", "success", "task", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "attestix:good", "x", "success", "task", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "attestix:mixed", "x", "success", "task", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "attestix:mixed", "x", "failure", "task", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "attestix:bad", "x", "failure", "other", "")
	require.NoError(t, err)

	results, err := svc.Query(ctx, 0, 1, 0, "", 50)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "attestix:good", results[0].AgentID)
	assert.Equal(t, "attestix:bad", results[2].AgentID)
	assert.True(t, math.Abs(results[0].TrustScore-1.0) < 0.01)

	results, err = svc.Query(ctx, 0.9, 1, 0, "", 50)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "attestix:good", results[0].AgentID)

	results, err = svc.Query(ctx, 0, 1, 2, "", 50)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = svc.Query(ctx, 0, 1, 0, "other", 50)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "attestix:bad", results[0].AgentID)
}

func TestRemoveAgent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, "attestix:gone", "attestix:stay", "success", "", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "attestix:stay", "attestix:gone", "success", "", "")
	require.NoError(t, err)

	n, err := svc.RemoveAgent(ctx, "attestix:gone")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rep, err := svc.Get(ctx, "attestix:gone")
	require.NoError(t, err)
	assert.Nil(t, rep.TrustScore)
}

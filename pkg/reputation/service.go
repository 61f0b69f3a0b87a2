// Package reputation tracks agent interactions and computes recency-weighted
// trust scores with exponential decay (30-day half-life).
package reputation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/VibeTensor/attestix/pkg/store"
)

const halfLifeDays = 30

// decayLambda is the per-second decay constant: ln(2) / half-life.
var decayLambda = math.Ln2 / (halfLifeDays * 86400)

// OutcomeWeights maps interaction outcomes onto score contributions.
var OutcomeWeights = map[string]float64{
	"success": 1.0,
	"partial": 0.5,
	"failure": 0.0,
	"timeout": 0.2,
}

var ErrValidation = errors.New("reputation: validation failed")

// Interaction is one recorded exchange between two agents.
type Interaction struct {
	AgentID        string `json:"agent_id"`
	CounterpartyID string `json:"counterparty_id"`
	Outcome        string `json:"outcome"`
	Category       string `json:"category"`
	Details        string `json:"details"`
	Timestamp      string `json:"timestamp"`
	Epoch          int64  `json:"epoch"`
}

// Score is the cached per-agent summary.
type Score struct {
	TrustScore        float64 `json:"trust_score"`
	LastUpdated       string  `json:"last_updated"`
	TotalInteractions int     `json:"total_interactions"`
}

type reputationFile struct {
	Interactions []*Interaction    `json:"interactions"`
	Scores       map[string]*Score `json:"scores"`
}

// Service owns the reputation collection.
type Service struct {
	col *store.Collection
}

func NewService(col *store.Collection) *Service {
	return &Service{col: col}
}

// RecordResult is returned by Record.
type RecordResult struct {
	Recorded     bool         `json:"recorded"`
	Interaction  *Interaction `json:"interaction"`
	UpdatedScore *Score       `json:"updated_score"`
}

// Record appends an interaction and recomputes the agent's cached score.
func (s *Service) Record(ctx context.Context, agentID, counterpartyID, outcome, category, details string) (*RecordResult, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if _, ok := OutcomeWeights[outcome]; !ok {
		return nil, fmt.Errorf("%w: invalid outcome %q, use success|partial|failure|timeout", ErrValidation, outcome)
	}
	if category == "" {
		category = "general"
	}

	now := time.Now().UTC()
	in := &Interaction{
		AgentID:        agentID,
		CounterpartyID: counterpartyID,
		Outcome:        outcome,
		Category:       category,
		Details:        details,
		Timestamp:      now.Truncate(time.Second).Format(time.RFC3339),
		Epoch:          now.Unix(),
	}

	var f reputationFile
	var updated *Score
	err := s.col.Update(ctx, &f, func() error {
		f.Interactions = append(f.Interactions, in)
		if f.Scores == nil {
			f.Scores = map[string]*Score{}
		}
		total := 0
		for _, i := range f.Interactions {
			if i.AgentID == agentID {
				total++
			}
		}
		updated = &Score{
			TrustScore:        round4(computeScore(f.Interactions, agentID, now.Unix())),
			LastUpdated:       in.Timestamp,
			TotalInteractions: total,
		}
		f.Scores[agentID] = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RecordResult{Recorded: true, Interaction: in, UpdatedScore: updated}, nil
}

// Reputation is the Get result. TrustScore is nil when the agent has no
// interactions.
type Reputation struct {
	AgentID           string                    `json:"agent_id"`
	TrustScore        *float64                  `json:"trust_score"`
	TotalInteractions int                       `json:"total_interactions"`
	CategoryBreakdown map[string]map[string]int `json:"category_breakdown,omitempty"`
	LastInteraction   string                    `json:"last_interaction,omitempty"`
}

// Get computes the current decayed score and a per-category outcome
// breakdown for one agent.
func (s *Service) Get(ctx context.Context, agentID string) (*Reputation, error) {
	var f reputationFile
	out := &Reputation{AgentID: agentID}
	err := s.col.View(ctx, &f, func() error {
		var mine []*Interaction
		for _, i := range f.Interactions {
			if i.AgentID == agentID {
				mine = append(mine, i)
			}
		}
		if len(mine) == 0 {
			return nil
		}

		score := round4(computeScore(f.Interactions, agentID, time.Now().Unix()))
		out.TrustScore = &score
		out.TotalInteractions = len(mine)
		out.LastInteraction = mine[len(mine)-1].Timestamp

		breakdown := map[string]map[string]int{}
		for _, i := range mine {
			cat := breakdown[i.Category]
			if cat == nil {
				cat = map[string]int{"success": 0, "failure": 0, "partial": 0, "timeout": 0, "total": 0}
				breakdown[i.Category] = cat
			}
			cat[i.Outcome]++
			cat["total"]++
		}
		out.CategoryBreakdown = breakdown
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryResult is one row of a reputation search.
type QueryResult struct {
	AgentID          string  `json:"agent_id"`
	TrustScore       float64 `json:"trust_score"`
	InteractionCount int     `json:"interaction_count"`
}

// Query searches agents by score range, interaction count and category,
// sorted descending by score.
func (s *Service) Query(ctx context.Context, minScore, maxScore float64, minInteractions int, category string, limit int) ([]QueryResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if maxScore <= 0 {
		maxScore = 1.0
	}

	var f reputationFile
	results := []QueryResult{}
	err := s.col.View(ctx, &f, func() error {
		now := time.Now().Unix()
		byAgent := map[string][]*Interaction{}
		order := []string{}
		for _, i := range f.Interactions {
			if _, seen := byAgent[i.AgentID]; !seen {
				order = append(order, i.AgentID)
			}
			byAgent[i.AgentID] = append(byAgent[i.AgentID], i)
		}

		for _, aid := range order {
			mine := byAgent[aid]
			if category != "" {
				filtered := mine[:0:0]
				for _, i := range mine {
					if i.Category == category {
						filtered = append(filtered, i)
					}
				}
				mine = filtered
			}
			if len(mine) < minInteractions || len(mine) == 0 {
				continue
			}
			score := round4(computeScore(mine, aid, now))
			if score < minScore || score > maxScore {
				continue
			}
			results = append(results, QueryResult{
				AgentID:          aid,
				TrustScore:       score,
				InteractionCount: len(mine),
			})
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].TrustScore > results[b].TrustScore
	})
	return results, nil
}

// RemoveAgent drops the agent's interactions and cached score (GDPR erasure
// path).
func (s *Service) RemoveAgent(ctx context.Context, agentID string) (int, error) {
	var f reputationFile
	removed := 0
	err := s.col.Update(ctx, &f, func() error {
		kept := f.Interactions[:0]
		for _, i := range f.Interactions {
			if i.AgentID == agentID || i.CounterpartyID == agentID {
				removed++
				continue
			}
			kept = append(kept, i)
		}
		f.Interactions = kept
		if f.Scores != nil {
			delete(f.Scores, agentID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// computeScore is the decay-weighted average over the agent's interactions:
// w_i = exp(-lambda * age_i), score = sum(W(outcome_i)*w_i) / sum(w_i).
func computeScore(interactions []*Interaction, agentID string, nowEpoch int64) float64 {
	var num, den float64
	for _, i := range interactions {
		if i.AgentID != agentID {
			continue
		}
		age := float64(nowEpoch - i.Epoch)
		if age < 0 {
			age = 0
		}
		w := math.Exp(-decayLambda * age)
		num += OutcomeWeights[i.Outcome] * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

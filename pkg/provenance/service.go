// Package provenance records training-data and model-lineage entries and
// keeps the per-agent tamper-evident audit chain. Entries are stored as
// generic JSON objects so externally added fields survive load/save and
// chain hashes recompute over exactly what is on disk.
package provenance

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/pkg/canonical"
	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/store"
)

// ZeroHash is the prev_hash of the first entry of every agent chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ValidActionTypes are the accepted audit action kinds.
var ValidActionTypes = map[string]bool{
	"inference":     true,
	"delegation":    true,
	"data_access":   true,
	"external_call": true,
}

var ErrValidation = errors.New("provenance: validation failed")

// chainMask removes the fields excluded from the chain hash. The signature
// itself covers everything but the signature field (signed.RecordMutable),
// so chain_hash and prev_hash are signed.
var chainMask = []string{"signature", "chain_hash"}

type provenanceFile struct {
	Entries  []map[string]interface{} `json:"entries"`
	AuditLog []map[string]interface{} `json:"audit_log"`
}

// Service owns the provenance collection.
type Service struct {
	kernel *signed.Kernel
	col    *store.Collection
}

func NewService(kernel *signed.Kernel, col *store.Collection) *Service {
	return &Service{kernel: kernel, col: col}
}

// TrainingDataParams describes one training data source (Article 10).
type TrainingDataParams struct {
	AgentID                string
	DatasetName            string
	SourceURL              string
	License                string
	DataCategories         []string
	ContainsPersonalData   bool
	DataGovernanceMeasures string
}

// RecordTrainingData appends a signed training_data entry.
func (s *Service) RecordTrainingData(ctx context.Context, p TrainingDataParams) (map[string]interface{}, error) {
	if p.AgentID == "" || strings.TrimSpace(p.DatasetName) == "" {
		return nil, fmt.Errorf("%w: agent_id and dataset_name are required", ErrValidation)
	}
	cats := p.DataCategories
	if cats == nil {
		cats = []string{}
	}
	entry := map[string]interface{}{
		"entry_id":                 "prov:" + hexID(12),
		"entry_type":               "training_data",
		"agent_id":                 p.AgentID,
		"dataset_name":             p.DatasetName,
		"source_url":               p.SourceURL,
		"license":                  p.License,
		"data_categories":          cats,
		"contains_personal_data":   p.ContainsPersonalData,
		"data_governance_measures": p.DataGovernanceMeasures,
		"recorded_at":              nowRFC3339(),
		"recorded_by":              s.kernel.DID(),
	}
	return s.appendEntry(ctx, entry)
}

// ModelLineageParams describes the model lineage chain (Article 11).
type ModelLineageParams struct {
	AgentID           string
	BaseModel         string
	BaseModelProvider string
	FineTuningMethod  string
	EvaluationMetrics map[string]interface{}
}

// RecordModelLineage appends a signed model_lineage entry.
func (s *Service) RecordModelLineage(ctx context.Context, p ModelLineageParams) (map[string]interface{}, error) {
	if p.AgentID == "" || strings.TrimSpace(p.BaseModel) == "" {
		return nil, fmt.Errorf("%w: agent_id and base_model are required", ErrValidation)
	}
	metrics := p.EvaluationMetrics
	if metrics == nil {
		metrics = map[string]interface{}{}
	}
	entry := map[string]interface{}{
		"entry_id":            "prov:" + hexID(12),
		"entry_type":          "model_lineage",
		"agent_id":            p.AgentID,
		"base_model":          p.BaseModel,
		"base_model_provider": p.BaseModelProvider,
		"fine_tuning_method":  p.FineTuningMethod,
		"evaluation_metrics":  metrics,
		"recorded_at":         nowRFC3339(),
		"recorded_by":         s.kernel.DID(),
	}
	return s.appendEntry(ctx, entry)
}

func (s *Service) appendEntry(ctx context.Context, entry map[string]interface{}) (map[string]interface{}, error) {
	sig, err := s.kernel.Sign(entry, signed.RecordMutable)
	if err != nil {
		return nil, err
	}
	entry["signature"] = sig

	var f provenanceFile
	err = s.col.Update(ctx, &f, func() error {
		f.Entries = append(f.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ActionParams describes one audit log entry (Article 12).
type ActionParams struct {
	AgentID           string
	ActionType        string
	InputSummary      string
	OutputSummary     string
	DecisionRationale string
	HumanOverride     bool
}

// LogAction appends an audit entry to the agent's hash chain. The
// read-last-then-append sequence runs inside a single store critical
// section so concurrent appends cannot fork a chain.
func (s *Service) LogAction(ctx context.Context, p ActionParams) (map[string]interface{}, error) {
	if p.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if !ValidActionTypes[p.ActionType] {
		return nil, fmt.Errorf("%w: invalid action_type %q, use inference|delegation|data_access|external_call", ErrValidation, p.ActionType)
	}

	entry := map[string]interface{}{
		"log_id":             "audit:" + hexID(12),
		"agent_id":           p.AgentID,
		"action_type":        p.ActionType,
		"input_summary":      p.InputSummary,
		"output_summary":     p.OutputSummary,
		"decision_rationale": p.DecisionRationale,
		"human_override":     p.HumanOverride,
		"timestamp":          nowRFC3339(),
		"logged_by":          s.kernel.DID(),
	}

	var f provenanceFile
	err := s.col.Update(ctx, &f, func() error {
		prev := ZeroHash
		for i := len(f.AuditLog) - 1; i >= 0; i-- {
			if f.AuditLog[i]["agent_id"] == p.AgentID {
				if h, ok := f.AuditLog[i]["chain_hash"].(string); ok {
					prev = h
				}
				break
			}
		}
		entry["prev_hash"] = prev

		chainHash, err := hashForChain(entry)
		if err != nil {
			return err
		}
		entry["chain_hash"] = chainHash

		sig, err := s.kernel.Sign(entry, signed.RecordMutable)
		if err != nil {
			return err
		}
		entry["signature"] = sig

		f.AuditLog = append(f.AuditLog, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// hashForChain hashes the entry minus signature and chain_hash.
func hashForChain(entry map[string]interface{}) (string, error) {
	core := make(map[string]interface{}, len(entry))
	for k, v := range entry {
		core[k] = v
	}
	for _, k := range chainMask {
		delete(core, k)
	}
	return canonical.Hash(core)
}

// Provenance is the aggregate record for one agent.
type Provenance struct {
	AgentID            string                   `json:"agent_id"`
	TrainingData       []map[string]interface{} `json:"training_data"`
	ModelLineage       []map[string]interface{} `json:"model_lineage"`
	AuditLogCount      int                      `json:"audit_log_count"`
	LatestAuditEntries []map[string]interface{} `json:"latest_audit_entries"`
}

// GetProvenance aggregates training data, lineage and an audit summary.
func (s *Service) GetProvenance(ctx context.Context, agentID string) (*Provenance, error) {
	var f provenanceFile
	out := &Provenance{
		AgentID:            agentID,
		TrainingData:       []map[string]interface{}{},
		ModelLineage:       []map[string]interface{}{},
		LatestAuditEntries: []map[string]interface{}{},
	}
	err := s.col.View(ctx, &f, func() error {
		for _, e := range f.Entries {
			if e["agent_id"] != agentID {
				continue
			}
			switch e["entry_type"] {
			case "training_data":
				out.TrainingData = append(out.TrainingData, e)
			case "model_lineage":
				out.ModelLineage = append(out.ModelLineage, e)
			}
		}
		var audit []map[string]interface{}
		for _, e := range f.AuditLog {
			if e["agent_id"] == agentID {
				audit = append(audit, e)
			}
		}
		out.AuditLogCount = len(audit)
		if n := len(audit); n > 5 {
			audit = audit[n-5:]
		}
		if audit != nil {
			out.LatestAuditEntries = audit
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AuditTrail queries the agent's audit entries with optional action type
// and RFC 3339 date-range filters.
func (s *Service) AuditTrail(ctx context.Context, agentID, actionType, startDate, endDate string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 50
	}
	var f provenanceFile
	results := []map[string]interface{}{}
	err := s.col.View(ctx, &f, func() error {
		for _, e := range f.AuditLog {
			if e["agent_id"] != agentID {
				continue
			}
			if actionType != "" && e["action_type"] != actionType {
				continue
			}
			ts, _ := e["timestamp"].(string)
			if startDate != "" && ts < startDate {
				continue
			}
			if endDate != "" && ts > endDate {
				continue
			}
			results = append(results, e)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// AuditEntries returns the agent's full audit log in order (used for
// batch anchoring).
func (s *Service) AuditEntries(ctx context.Context, agentID, startDate, endDate string) ([]map[string]interface{}, error) {
	return s.AuditTrail(ctx, agentID, "", startDate, endDate, 1<<30)
}

// ChainResult reports audit-chain integrity for one agent.
type ChainResult struct {
	AgentID        string `json:"agent_id"`
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	FirstBreak     string `json:"first_break,omitempty"`
	BreakReason    string `json:"break_reason,omitempty"`
}

// VerifyChain recomputes the agent's chain: prev_hash linkage, chain_hash
// recomputation and the entry signature. The first failing entry is
// reported and checking stops there.
func (s *Service) VerifyChain(ctx context.Context, agentID string) (ChainResult, error) {
	var f provenanceFile
	res := ChainResult{AgentID: agentID, Valid: true}
	err := s.col.View(ctx, &f, func() error {
		expected := ZeroHash
		for _, e := range f.AuditLog {
			if e["agent_id"] != agentID {
				continue
			}
			res.EntriesChecked++
			logID, _ := e["log_id"].(string)

			fail := func(reason string) {
				res.Valid = false
				res.FirstBreak = logID
				res.BreakReason = reason
			}

			prev, _ := e["prev_hash"].(string)
			if prev != expected {
				fail("prev_hash does not match previous chain_hash")
				return nil
			}
			want, err := hashForChain(e)
			if err != nil {
				fail("entry not canonicalizable")
				return nil
			}
			got, _ := e["chain_hash"].(string)
			if got != want {
				fail("chain_hash does not match entry contents")
				return nil
			}
			sig, _ := e["signature"].(string)
			if !s.kernel.Verify(e, s.kernel.DID(), sig, signed.RecordMutable) {
				fail("entry signature invalid")
				return nil
			}
			expected = got
		}
		return nil
	})
	if err != nil {
		return ChainResult{}, err
	}
	return res, nil
}

// RemoveAgent drops the agent's provenance entries and audit chain (GDPR
// erasure path).
func (s *Service) RemoveAgent(ctx context.Context, agentID string) (int, error) {
	var f provenanceFile
	removed := 0
	err := s.col.Update(ctx, &f, func() error {
		entries := f.Entries[:0]
		for _, e := range f.Entries {
			if e["agent_id"] == agentID {
				removed++
				continue
			}
			entries = append(entries, e)
		}
		f.Entries = entries

		audit := f.AuditLog[:0]
		for _, e := range f.AuditLog {
			if e["agent_id"] == agentID {
				removed++
				continue
			}
			audit = append(audit, e)
		}
		f.AuditLog = audit
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// hexID returns the first n hex characters of a random UUID.
func hexID(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

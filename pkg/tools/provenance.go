package tools

import (
	"context"

	"github.com/VibeTensor/attestix/pkg/provenance"
)

func registerProvenance(r *Registry, c *Container) {
	r.Register("record_training_data", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "dataset_name"); msg != "" {
			return errJSON(msg)
		}
		entry, err := c.Provenance().RecordTrainingData(ctx, provenance.TrainingDataParams{
			AgentID:                argString(args, "agent_id"),
			DatasetName:            argString(args, "dataset_name"),
			SourceURL:              argString(args, "source_url"),
			License:                argString(args, "license"),
			DataCategories:         argList(args, "data_categories"),
			ContainsPersonalData:   argBool(args, "contains_personal_data"),
			DataGovernanceMeasures: argString(args, "data_governance_measures"),
		})
		return respond(entry, err)
	})

	r.Register("record_model_lineage", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "base_model"); msg != "" {
			return errJSON(msg)
		}
		entry, err := c.Provenance().RecordModelLineage(ctx, provenance.ModelLineageParams{
			AgentID:           argString(args, "agent_id"),
			BaseModel:         argString(args, "base_model"),
			BaseModelProvider: argString(args, "base_model_provider"),
			FineTuningMethod:  argString(args, "fine_tuning_method"),
			EvaluationMetrics: argMap(args, "evaluation_metrics"),
		})
		return respond(entry, err)
	})

	r.Register("log_action", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "action_type"); msg != "" {
			return errJSON(msg)
		}
		entry, err := c.Provenance().LogAction(ctx, provenance.ActionParams{
			AgentID:           argString(args, "agent_id"),
			ActionType:        argString(args, "action_type"),
			InputSummary:      argString(args, "input_summary"),
			OutputSummary:     argString(args, "output_summary"),
			DecisionRationale: argString(args, "decision_rationale"),
			HumanOverride:     argBool(args, "human_override"),
		})
		return respond(entry, err)
	})

	r.Register("get_provenance", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		prov, err := c.Provenance().GetProvenance(ctx, argString(args, "agent_id"))
		return respond(prov, err)
	})

	r.Register("get_audit_trail", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		entries, err := c.Provenance().AuditTrail(ctx,
			argString(args, "agent_id"),
			argString(args, "action_type"),
			argString(args, "start_date"),
			argString(args, "end_date"),
			argInt(args, "limit", 50))
		return respond(entries, err)
	})
}

package tools

import (
	"context"

	"github.com/VibeTensor/attestix/pkg/compliance"
)

func registerCompliance(r *Registry, c *Container) {
	r.Register("create_compliance_profile", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "risk_category", "provider_name"); msg != "" {
			return errJSON(msg)
		}
		profile, err := c.Compliance().CreateProfile(ctx, compliance.ProfileParams{
			AgentID:                 argString(args, "agent_id"),
			RiskCategory:            argString(args, "risk_category"),
			ProviderName:            argString(args, "provider_name"),
			IntendedPurpose:         argString(args, "intended_purpose"),
			TransparencyObligations: argString(args, "transparency_obligations"),
			HumanOversightMeasures:  argString(args, "human_oversight_measures"),
		})
		return respond(profile, err)
	})

	r.Register("get_compliance_profile", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		profile, err := c.Compliance().GetProfile(ctx, argString(args, "agent_id"))
		return respond(profile, err)
	})

	r.Register("get_compliance_status", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		status, err := c.Compliance().GetStatus(ctx, argString(args, "agent_id"))
		return respond(status, err)
	})

	r.Register("record_conformity_assessment", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "assessment_type", "assessor_name", "result"); msg != "" {
			return errJSON(msg)
		}
		assessment, err := c.Compliance().RecordAssessment(ctx, compliance.AssessmentParams{
			AgentID:           argString(args, "agent_id"),
			AssessmentType:    argString(args, "assessment_type"),
			AssessorName:      argString(args, "assessor_name"),
			Result:            argString(args, "result"),
			Findings:          argString(args, "findings"),
			CEMarkingEligible: argBool(args, "ce_marking_eligible"),
		})
		return respond(assessment, err)
	})

	r.Register("generate_declaration_of_conformity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		decl, err := c.Compliance().GenerateDeclaration(ctx, argString(args, "agent_id"))
		return respond(decl, err)
	})

	r.Register("list_compliance_profiles", func(ctx context.Context, args map[string]interface{}) string {
		profiles, err := c.Compliance().ListProfiles(ctx,
			argString(args, "risk_category"),
			argBool(args, "compliant_only"),
			argInt(args, "limit", 50))
		return respond(profiles, err)
	})

	// check_compliance_readiness answers one question: can a declaration
	// be generated right now, and if not, what is missing.
	r.Register("check_compliance_readiness", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		status, err := c.Compliance().GetStatus(ctx, argString(args, "agent_id"))
		if err != nil {
			return errJSON(err.Error())
		}
		return respond(map[string]interface{}{
			"agent_id":              status.AgentID,
			"risk_category":         status.RiskCategory,
			"ready_for_declaration": len(status.Missing) == 0 || onlyDeclarationMissing(status.Missing),
			"missing":               status.Missing,
			"completion_pct":        status.CompletionPct,
		}, nil)
	})
}

func onlyDeclarationMissing(missing []string) bool {
	for _, m := range missing {
		if m != "declaration_of_conformity_issued" {
			return false
		}
	}
	return len(missing) > 0
}

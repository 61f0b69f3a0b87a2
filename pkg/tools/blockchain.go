package tools

import (
	"context"

	"github.com/VibeTensor/attestix/pkg/anchor"
)

func registerBlockchain(r *Registry, c *Container) {
	r.Register("anchor_identity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		agentID := argString(args, "agent_id")
		uait, err := c.Identity().Get(ctx, agentID)
		if err != nil {
			return errJSON(err.Error())
		}
		record, err := c.anchorObject(ctx, uait, "identity", agentID)
		return respond(record, err)
	})

	r.Register("anchor_credential", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "credential_id"); msg != "" {
			return errJSON(msg)
		}
		credID := argString(args, "credential_id")
		cred, err := c.Credentials().Get(ctx, credID)
		if err != nil {
			return errJSON(err.Error())
		}
		record, err := c.anchorObject(ctx, cred, "credential", credID)
		return respond(record, err)
	})

	r.Register("verify_anchor", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "artifact_hash"); msg != "" {
			return errJSON(msg)
		}
		anchors, err := c.Anchors()
		if err != nil {
			return errJSON(err.Error())
		}
		result, err := anchors.VerifyAnchor(ctx, argString(args, "artifact_hash"))
		return respond(result, err)
	})

	r.Register("anchor_audit_batch", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		anchors, err := c.Anchors()
		if err != nil {
			return errJSON(err.Error())
		}
		record, err := anchors.AnchorAuditBatch(ctx,
			argString(args, "agent_id"),
			argString(args, "start_date"),
			argString(args, "end_date"))
		return respond(record, err)
	})

	r.Register("get_anchor_status", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		anchors, err := c.Anchors()
		if err != nil {
			return errJSON(err.Error())
		}
		status, err := anchors.AnchorStatus(ctx, argString(args, "agent_id"))
		return respond(status, err)
	})

	r.Register("estimate_anchor_cost", func(ctx context.Context, args map[string]interface{}) string {
		anchors, err := c.Anchors()
		if err != nil {
			return errJSON(err.Error())
		}
		estimate, err := anchors.EstimateCost(ctx, argString(args, "artifact_type"))
		return respond(estimate, err)
	})

	// verify_audit_chain recomputes an agent's hash chain off-chain; it
	// needs no ledger.
	r.Register("verify_audit_chain", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		result, err := c.Provenance().VerifyChain(ctx, argString(args, "agent_id"))
		return respond(result, err)
	})
}

func (c *Container) anchorObject(ctx context.Context, obj interface{}, artifactType, artifactID string) (*anchor.Record, error) {
	anchors, err := c.Anchors()
	if err != nil {
		return nil, err
	}
	hash, err := anchor.HashArtifact(obj)
	if err != nil {
		return nil, err
	}
	return anchors.AnchorArtifact(ctx, hash, artifactType, artifactID)
}

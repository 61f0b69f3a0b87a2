package tools

import (
	"context"

	"github.com/VibeTensor/attestix/pkg/identity"
)

func registerIdentity(r *Registry, c *Container) {
	r.Register("create_agent_identity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "display_name"); msg != "" {
			return errJSON(msg)
		}
		uait, err := c.Identity().Create(ctx, identity.CreateParams{
			DisplayName:    argString(args, "display_name"),
			SourceProtocol: argString(args, "source_protocol"),
			IdentityToken:  argString(args, "identity_token"),
			Capabilities:   argList(args, "capabilities"),
			Description:    argString(args, "description"),
			IssuerName:     argString(args, "issuer_name"),
			ExpiryDays:     argInt(args, "expiry_days", 0),
		})
		return respond(uait, err)
	})

	// resolve_identity inspects a raw token without creating anything.
	r.Register("resolve_identity", func(_ context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "identity_token"); msg != "" {
			return errJSON(msg)
		}
		return respond(identity.ExtractTokenInfo(argString(args, "identity_token")), nil)
	})

	r.Register("get_identity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		uait, err := c.Identity().Get(ctx, argString(args, "agent_id"))
		return respond(uait, err)
	})

	r.Register("list_identities", func(ctx context.Context, args map[string]interface{}) string {
		agents, err := c.Identity().List(ctx,
			argString(args, "source_protocol"),
			argBool(args, "include_revoked"),
			argInt(args, "limit", 50))
		return respond(agents, err)
	})

	r.Register("verify_identity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		result, err := c.Identity().Verify(ctx, argString(args, "agent_id"))
		return respond(result, err)
	})

	r.Register("revoke_identity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		uait, err := c.Identity().Revoke(ctx, argString(args, "agent_id"), argString(args, "reason"))
		return respond(uait, err)
	})

	r.Register("translate_identity", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "target_format"); msg != "" {
			return errJSON(msg)
		}
		out, err := c.Identity().Translate(ctx, argString(args, "agent_id"), argString(args, "target_format"))
		return respond(out, err)
	})

	// GDPR erasure: remove the agent from every collection that mentions it.
	r.Register("purge_agent_data", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		result, err := c.purgeAgent(ctx, argString(args, "agent_id"))
		return respond(result, err)
	})
}

// PurgeResult reports how many records each collection dropped.
type PurgeResult struct {
	AgentID string         `json:"agent_id"`
	Purged  bool           `json:"purged"`
	Removed map[string]int `json:"removed"`
	Total   int            `json:"total"`
}

func (c *Container) purgeAgent(ctx context.Context, agentID string) (*PurgeResult, error) {
	result := &PurgeResult{AgentID: agentID, Removed: map[string]int{}}

	steps := []struct {
		name   string
		remove func() (int, error)
	}{
		{"identities", func() (int, error) { return c.Identity().RemoveAgent(ctx, agentID) }},
		{"credentials", func() (int, error) { return c.Credentials().RemoveSubject(ctx, agentID) }},
		{"delegations", func() (int, error) { return c.Delegations().RemoveAgent(ctx, agentID) }},
		{"reputation", func() (int, error) { return c.Reputation().RemoveAgent(ctx, agentID) }},
		{"compliance", func() (int, error) { return c.Compliance().RemoveAgent(ctx, agentID) }},
		{"provenance", func() (int, error) { return c.Provenance().RemoveAgent(ctx, agentID) }},
	}
	for _, step := range steps {
		n, err := step.remove()
		if err != nil {
			return nil, err
		}
		result.Removed[step.name] = n
		result.Total += n
	}
	result.Purged = true
	return result, nil
}

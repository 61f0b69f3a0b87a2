package tools

import "context"

func registerDelegation(r *Registry, c *Container) {
	r.Register("create_delegation", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "issuer_agent_id", "audience_agent_id"); msg != "" {
			return errJSON(msg)
		}
		capabilities := argList(args, "capabilities")
		if len(capabilities) == 0 {
			return errJSON("capabilities cannot be empty")
		}
		token, record, err := c.Delegations().Create(ctx,
			argString(args, "issuer_agent_id"),
			argString(args, "audience_agent_id"),
			capabilities,
			argInt(args, "expiry_hours", 24),
			argString(args, "parent_token"))
		if err != nil {
			return errJSON(err.Error())
		}
		return respond(map[string]interface{}{
			"token":  token,
			"record": record,
		}, nil)
	})

	r.Register("verify_delegation", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "token"); msg != "" {
			return errJSON(msg)
		}
		result, err := c.Delegations().Verify(ctx, argString(args, "token"))
		return respond(result, err)
	})

	r.Register("revoke_delegation", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "delegation_id"); msg != "" {
			return errJSON(msg)
		}
		record, err := c.Delegations().Revoke(ctx, argString(args, "delegation_id"), argString(args, "reason"))
		return respond(record, err)
	})

	r.Register("list_delegations", func(ctx context.Context, args map[string]interface{}) string {
		records, err := c.Delegations().List(ctx,
			argString(args, "agent_id"),
			argStringDefault(args, "role", "any"),
			argBool(args, "include_expired"),
			argInt(args, "limit", 50))
		return respond(records, err)
	})
}

func registerReputation(r *Registry, c *Container) {
	r.Register("record_interaction", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id", "outcome"); msg != "" {
			return errJSON(msg)
		}
		agentID := argString(args, "agent_id")
		result, err := c.Reputation().Record(ctx, agentID,
			argString(args, "counterparty_id"),
			argString(args, "outcome"),
			argString(args, "category"),
			argString(args, "details"))
		if err != nil {
			return errJSON(err.Error())
		}
		// Mirror the fresh score onto the UAIT's mutable set; an agent
		// without a stored identity is not an error here.
		if result.UpdatedScore != nil {
			_ = c.Identity().UpdateReputation(ctx, agentID, result.UpdatedScore.TrustScore)
		}
		return respond(result, nil)
	})

	r.Register("get_reputation", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "agent_id"); msg != "" {
			return errJSON(msg)
		}
		rep, err := c.Reputation().Get(ctx, argString(args, "agent_id"))
		return respond(rep, err)
	})

	r.Register("query_reputation", func(ctx context.Context, args map[string]interface{}) string {
		results, err := c.Reputation().Query(ctx,
			argFloat(args, "min_score", 0),
			argFloat(args, "max_score", 1),
			argInt(args, "min_interactions", 0),
			argString(args, "category"),
			argInt(args, "limit", 50))
		return respond(results, err)
	})
}

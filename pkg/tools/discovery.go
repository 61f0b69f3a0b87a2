package tools

import (
	"context"

	"github.com/VibeTensor/attestix/pkg/agentcard"
	"github.com/VibeTensor/attestix/pkg/did"
)

func registerAgentCard(r *Registry, c *Container) {
	r.Register("discover_agent", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "base_url"); msg != "" {
			return errJSON(msg)
		}
		found, err := c.AgentCards().Discover(ctx, argString(args, "base_url"))
		return respond(found, err)
	})

	r.Register("parse_agent_card", func(_ context.Context, args map[string]interface{}) string {
		card := argMap(args, "agent_card")
		if card == nil {
			return errJSON("agent_card must be a JSON object")
		}
		return respond(agentcard.Parse(card), nil)
	})

	r.Register("generate_agent_card", func(_ context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "name", "url"); msg != "" {
			return errJSON(msg)
		}
		var skills []agentcard.Skill
		if raw, ok := args["skills"].([]interface{}); ok {
			for _, item := range raw {
				if m, ok := item.(map[string]interface{}); ok {
					skills = append(skills, agentcard.Skill{
						ID:          argString(m, "id"),
						Name:        argString(m, "name"),
						Description: argString(m, "description"),
					})
				}
			}
		}
		gen, err := agentcard.Generate(
			argString(args, "name"),
			argString(args, "url"),
			argString(args, "description"),
			skills,
			argString(args, "version"))
		return respond(gen, err)
	})
}

func registerDID(r *Registry, c *Container) {
	r.Register("resolve_did", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "did"); msg != "" {
			return errJSON(msg)
		}
		doc, err := c.DIDs().Resolve(ctx, argString(args, "did"))
		if err != nil {
			return errJSON(err.Error())
		}
		return respond(map[string]interface{}{
			"did":          argString(args, "did"),
			"did_document": doc,
		}, nil)
	})

	r.Register("create_did_key", func(context.Context, map[string]interface{}) string {
		created, err := did.CreateDIDKey()
		return respond(created, err)
	})

	r.Register("create_did_web", func(_ context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "domain"); msg != "" {
			return errJSON(msg)
		}
		created, err := did.CreateDIDWeb(argString(args, "domain"), argString(args, "path"))
		return respond(created, err)
	})
}

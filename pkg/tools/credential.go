package tools

import (
	"context"
	"encoding/json"

	"github.com/VibeTensor/attestix/pkg/credential"
)

func registerCredential(r *Registry, c *Container) {
	r.Register("issue_credential", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "subject_agent_id", "credential_type"); msg != "" {
			return errJSON(msg)
		}
		cred, err := c.Credentials().Issue(ctx,
			argString(args, "subject_agent_id"),
			argString(args, "credential_type"),
			argString(args, "issuer_name"),
			argMap(args, "claims"),
			argInt(args, "expiry_days", 365))
		return respond(cred, err)
	})

	r.Register("verify_credential", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "credential_id"); msg != "" {
			return errJSON(msg)
		}
		result, err := c.Credentials().Verify(ctx, argString(args, "credential_id"))
		return respond(result, err)
	})

	// verify_credential_external checks a raw VC without any store lookup.
	r.Register("verify_credential_external", func(_ context.Context, args map[string]interface{}) string {
		cred, errMsg := credentialFromArgs(args)
		if errMsg != "" {
			return errJSON(errMsg)
		}
		return respond(c.Credentials().VerifyExternal(cred), nil)
	})

	r.Register("revoke_credential", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "credential_id"); msg != "" {
			return errJSON(msg)
		}
		id := argString(args, "credential_id")
		if err := c.Credentials().Revoke(ctx, id, argString(args, "reason")); err != nil {
			return errJSON(err.Error())
		}
		return respond(map[string]interface{}{"credential_id": id, "revoked": true}, nil)
	})

	r.Register("get_credential", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "credential_id"); msg != "" {
			return errJSON(msg)
		}
		cred, err := c.Credentials().Get(ctx, argString(args, "credential_id"))
		return respond(cred, err)
	})

	r.Register("list_credentials", func(ctx context.Context, args map[string]interface{}) string {
		creds, err := c.Credentials().List(ctx,
			argString(args, "agent_id"),
			argString(args, "credential_type"),
			argBool(args, "valid_only"),
			argInt(args, "limit", 50))
		return respond(creds, err)
	})

	r.Register("create_verifiable_presentation", func(ctx context.Context, args map[string]interface{}) string {
		if msg := requireArgs(args, "holder_agent_id"); msg != "" {
			return errJSON(msg)
		}
		ids := argList(args, "credential_ids")
		if len(ids) == 0 {
			return errJSON("credential_ids cannot be empty")
		}
		vp, err := c.Credentials().CreatePresentation(ctx,
			argString(args, "holder_agent_id"),
			ids,
			argString(args, "audience_did"),
			argString(args, "challenge"))
		return respond(vp, err)
	})

	r.Register("verify_presentation", func(_ context.Context, args map[string]interface{}) string {
		raw := argMap(args, "presentation")
		if raw == nil {
			return errJSON("presentation must be a JSON object")
		}
		var vp credential.Presentation
		if err := remarshal(raw, &vp); err != nil {
			return errJSON("presentation is not a valid VP: " + err.Error())
		}
		return respond(c.Credentials().VerifyPresentation(&vp), nil)
	})
}

func credentialFromArgs(args map[string]interface{}) (*credential.Credential, string) {
	raw := argMap(args, "credential")
	if raw == nil {
		return nil, "credential must be a JSON object"
	}
	var cred credential.Credential
	if err := remarshal(raw, &cred); err != nil {
		return nil, "credential is not a valid VC: " + err.Error()
	}
	return &cred, ""
}

// remarshal converts a decoded JSON object into a typed struct.
func remarshal(src, dst interface{}) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

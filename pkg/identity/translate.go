package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/VibeTensor/attestix/pkg/keys"
)

// Translate renders a stored UAIT into another identity format. Pure
// projection: nothing is re-signed and nothing is written back.
// Supported targets: a2a_agent_card, did_document, oauth_claims, summary.
func (s *Service) Translate(ctx context.Context, agentID, target string) (map[string]interface{}, error) {
	u, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	switch target {
	case "a2a_agent_card":
		return toAgentCard(u), nil
	case "did_document":
		return toDIDDocument(u), nil
	case "oauth_claims":
		return toOAuthClaims(u), nil
	case "summary":
		return toSummary(u), nil
	default:
		return nil, fmt.Errorf("%w: unknown target format: %s", ErrValidation, target)
	}
}

func toAgentCard(u *UAIT) map[string]interface{} {
	skills := make([]map[string]interface{}, 0, len(u.Capabilities))
	for _, cap := range u.Capabilities {
		sum := sha256.Sum256([]byte(cap))
		skills = append(skills, map[string]interface{}{
			"id":          hex.EncodeToString(sum[:])[:8],
			"name":        cap,
			"description": "Capability: " + cap,
		})
	}

	return map[string]interface{}{
		"name":        u.DisplayName,
		"description": u.Description,
		"url":         "attestix://" + u.AgentID,
		"version":     u.Version,
		"capabilities": map[string]interface{}{
			"streaming":         false,
			"pushNotifications": false,
		},
		"skills": skills,
		"provider": map[string]interface{}{
			"organization": u.Issuer.Name,
		},
		"authentication": map[string]interface{}{
			"schemes":     []string{"attestix-uait"},
			"credentials": u.AgentID,
		},
		"_attestix_metadata": map[string]interface{}{
			"agent_id":         u.AgentID,
			"source_protocol":  u.SourceProtocol,
			"reputation_score": u.ReputationScore,
		},
	}
}

func toDIDDocument(u *UAIT) map[string]interface{} {
	did := u.Issuer.DID
	if did == "" {
		did = "did:attestix:" + u.AgentID
	}

	vm := map[string]interface{}{
		"id":         did + "#key-1",
		"type":       "Ed25519VerificationKey2020",
		"controller": did,
	}
	// Only did:key issuers carry recoverable key material.
	if pub, err := keys.DIDKeyToPub(did); err == nil {
		vm["publicKeyMultibase"] = "z" + base58.Encode(pub)
	}

	return map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/suites/ed25519-2020/v1",
		},
		"id":                 did,
		"controller":         did,
		"verificationMethod": []interface{}{vm},
		"authentication":     []string{did + "#key-1"},
		"service": []interface{}{
			map[string]interface{}{
				"id":   did + "#attestix",
				"type": "AttestixIdentity",
				"serviceEndpoint": map[string]interface{}{
					"agent_id":     u.AgentID,
					"display_name": u.DisplayName,
					"capabilities": u.Capabilities,
				},
			},
		},
	}
}

func toOAuthClaims(u *UAIT) map[string]interface{} {
	iss := u.Issuer.DID
	if iss == "" {
		iss = "attestix"
	}
	return map[string]interface{}{
		"sub":              u.AgentID,
		"iss":              iss,
		"name":             u.DisplayName,
		"scope":            strings.Join(u.Capabilities, " "),
		"iat":              u.CreatedAt,
		"exp":              u.ExpiresAt,
		"attestix_version": u.Version,
		"source_protocol":  u.SourceProtocol,
	}
}

func toSummary(u *UAIT) map[string]interface{} {
	return map[string]interface{}{
		"agent_id":          u.AgentID,
		"display_name":      u.DisplayName,
		"description":       u.Description,
		"source_protocol":   u.SourceProtocol,
		"capabilities":      u.Capabilities,
		"issuer":            u.Issuer.Name,
		"created_at":        u.CreatedAt,
		"expires_at":        u.ExpiresAt,
		"revoked":           u.Revoked,
		"reputation_score":  u.ReputationScore,
		"eu_compliance":     u.EUCompliance,
		"signature_present": u.Signature != "",
	}
}

// Package delegation mints and verifies UCAN-style capability tokens.
// Tokens are EdDSA JWTs signed with the server key; only a slim record
// (keyed by jti) is persisted, never the token bytes, so a leaked
// collection file cannot be replayed.
package delegation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/VibeTensor/attestix/pkg/keys"
	"github.com/VibeTensor/attestix/pkg/store"
)

const ucanVersion = "0.9.0"

var (
	ErrNotFound       = errors.New("delegation: not found")
	ErrValidation     = errors.New("delegation: validation failed")
	ErrAlreadyRevoked = errors.New("delegation: already revoked")
)

// Record is the stored delegation state. The token itself is returned to
// the caller once and never written to disk.
type Record struct {
	JTI              string   `json:"jti"`
	Issuer           string   `json:"issuer"`
	Audience         string   `json:"audience"`
	Capabilities     []string `json:"capabilities"`
	CreatedAt        string   `json:"created_at"`
	ExpiresAt        string   `json:"expires_at"`
	Revoked          bool     `json:"revoked"`
	RevocationReason *string  `json:"revocation_reason,omitempty"`
	RevokedAt        string   `json:"revoked_at,omitempty"`
}

type delegationFile struct {
	Delegations []*Record `json:"delegations"`
}

// Service owns the delegations collection.
type Service struct {
	key *keys.ServerKey
	col *store.Collection
}

func NewService(key *keys.ServerKey, col *store.Collection) *Service {
	return &Service{key: key, col: col}
}

// Create mints a delegation token from issuer to audience over the given
// capability strings. Attenuation against the parent token is NOT enforced
// here: callers consuming the token must check that the child's
// capabilities are a subset of the proof chain's.
func (s *Service) Create(ctx context.Context, issuer, audience string, capabilities []string, expiryHours int, parentToken string) (string, *Record, error) {
	if issuer == "" || audience == "" {
		return "", nil, fmt.Errorf("%w: issuer and audience are required", ErrValidation)
	}
	if len(capabilities) == 0 {
		return "", nil, fmt.Errorf("%w: at least one capability is required", ErrValidation)
	}
	if expiryHours <= 0 {
		expiryHours = 24
	}

	jti, err := newJTI()
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	exp := now.Add(time.Duration(expiryHours) * time.Hour)
	prf := []string{}
	if parentToken != "" {
		prf = append(prf, parentToken)
	}

	claims := jwt.MapClaims{
		"iss":       s.key.DID,
		"aud":       audience,
		"sub":       audience,
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       exp.Unix(),
		"jti":       jti,
		"att":       capabilities,
		"delegator": issuer,
		"prf":       prf,
		"typ":       "ucan/delegation",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["ucv"] = ucanVersion

	signedToken, err := tok.SignedString(s.key.Private)
	if err != nil {
		return "", nil, fmt.Errorf("delegation: sign token: %w", err)
	}

	rec := &Record{
		JTI:          jti,
		Issuer:       issuer,
		Audience:     audience,
		Capabilities: capabilities,
		CreatedAt:    now.Format(time.RFC3339),
		ExpiresAt:    exp.Format(time.RFC3339),
	}

	var f delegationFile
	err = s.col.Update(ctx, &f, func() error {
		f.Delegations = append(f.Delegations, rec)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return signedToken, rec, nil
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("delegation: jti entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyResult reports the decoded token state. Expiry and revocation make
// it invalid but still populate the decoded fields.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	Error        string   `json:"error,omitempty"`
	Delegator    string   `json:"delegator,omitempty"`
	Audience     string   `json:"audience,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	ProofChain   []string `json:"proof_chain,omitempty"`
	IssuedAt     int64    `json:"issued_at,omitempty"`
	ExpiresAt    int64    `json:"expires_at,omitempty"`
	Expired      bool     `json:"expired"`
	Revoked      bool     `json:"revoked"`
}

// Verify decodes a token against the server public key and checks expiry
// and the revocation record for its jti.
func (s *Service) Verify(ctx context.Context, token string) (VerifyResult, error) {
	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (interface{}, error) { return s.key.Public, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return VerifyResult{Error: "invalid token signature"}, nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return VerifyResult{Error: "malformed token claims"}, nil
	}

	res := VerifyResult{
		Delegator:    str(claims["delegator"]),
		Capabilities: strSlice(claims["att"]),
		ProofChain:   strSlice(claims["prf"]),
	}
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		res.Audience = aud[0]
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		res.IssuedAt = iat.Unix()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		res.ExpiresAt = exp.Unix()
		res.Expired = time.Now().UTC().After(exp.Time)
	}

	jti := str(claims["jti"])
	if jti != "" {
		rec, err := s.get(ctx, jti)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return VerifyResult{}, err
		}
		if rec != nil && rec.Revoked {
			res.Revoked = true
			res.Error = "delegation revoked"
			return res, nil
		}
	}

	if res.Expired {
		res.Error = "delegation expired"
		return res, nil
	}
	res.Valid = true
	return res, nil
}

// Revoke flips the record for jti. Revoking twice is an error so callers
// can distinguish a no-op from a state change.
func (s *Service) Revoke(ctx context.Context, jti, reason string) (*Record, error) {
	var f delegationFile
	var out *Record
	err := s.col.Update(ctx, &f, func() error {
		for _, r := range f.Delegations {
			if r.JTI == jti {
				if r.Revoked {
					return fmt.Errorf("%w: %s", ErrAlreadyRevoked, jti)
				}
				r.Revoked = true
				r.RevocationReason = &reason
				r.RevokedAt = time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
				out = r
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, jti)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns non-revoked delegation records filtered by agent and role
// (issuer, audience or any). Expired records are omitted unless requested.
func (s *Service) List(ctx context.Context, agentID, role string, includeExpired bool, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if role == "" {
		role = "any"
	}
	var f delegationFile
	results := []*Record{}
	err := s.col.View(ctx, &f, func() error {
		now := time.Now().UTC()
		for _, r := range f.Delegations {
			if r.Revoked {
				continue
			}
			if agentID != "" {
				switch role {
				case "issuer":
					if r.Issuer != agentID {
						continue
					}
				case "audience":
					if r.Audience != agentID {
						continue
					}
				default:
					if r.Issuer != agentID && r.Audience != agentID {
						continue
					}
				}
			}
			if !includeExpired {
				if exp, err := time.Parse(time.RFC3339, r.ExpiresAt); err == nil && now.After(exp) {
					continue
				}
			}
			results = append(results, r)
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

// RemoveAgent drops every record where the agent is issuer or audience
// (GDPR erasure path).
func (s *Service) RemoveAgent(ctx context.Context, agentID string) (int, error) {
	var f delegationFile
	removed := 0
	err := s.col.Update(ctx, &f, func() error {
		kept := f.Delegations[:0]
		for _, r := range f.Delegations {
			if r.Issuer == agentID || r.Audience == agentID {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		f.Delegations = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Service) get(ctx context.Context, jti string) (*Record, error) {
	var f delegationFile
	var found *Record
	err := s.col.View(ctx, &f, func() error {
		for _, r := range f.Delegations {
			if r.JTI == jti {
				found = r
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, jti)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func strSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

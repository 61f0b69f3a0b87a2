// Package identity manages Universal AI Agent Identity Tokens (UAITs):
// creation, lookup, verification, revocation and format translation. A UAIT
// wraps any upstream identity token (JWT, DID, URL, API key) in a signed,
// protocol-neutral envelope.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/pkg/config"
	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/store"
)

var (
	ErrNotFound   = errors.New("identity: agent not found")
	ErrValidation = errors.New("identity: validation failed")
)

// Issuer identifies who vouches for a UAIT.
type Issuer struct {
	Name string `json:"name"`
	DID  string `json:"did"`
}

// UAIT is the stored identity envelope. The signed core is everything up to
// and including ExpiresAt; the trailing fields are mutable and excluded from
// the signature (signed.IdentityMutable).
type UAIT struct {
	Version        string     `json:"version"`
	AgentID        string     `json:"agent_id"`
	DisplayName    string     `json:"display_name"`
	Description    string     `json:"description"`
	SourceProtocol string     `json:"source_protocol"`
	IdentityToken  string     `json:"identity_token"`
	TokenInfo      *TokenInfo `json:"token_info"`
	Capabilities   []string   `json:"capabilities"`
	Issuer         Issuer     `json:"issuer"`
	CreatedAt      string     `json:"created_at"`
	ExpiresAt      string     `json:"expires_at"`

	Signature        string   `json:"signature"`
	Revoked          bool     `json:"revoked"`
	RevocationReason *string  `json:"revocation_reason"`
	RevokedAt        string   `json:"revoked_at,omitempty"`
	ReputationScore  *float64 `json:"reputation_score"`
	EUCompliance     *string  `json:"eu_compliance"`
}

type identityFile struct {
	Agents []*UAIT `json:"agents"`
}

// Service owns the identities collection.
type Service struct {
	kernel     *signed.Kernel
	col        *store.Collection
	expiryDays int
}

func NewService(kernel *signed.Kernel, col *store.Collection, expiryDays int) *Service {
	if expiryDays <= 0 {
		expiryDays = 365
	}
	return &Service{kernel: kernel, col: col, expiryDays: expiryDays}
}

// ServerDID returns the did:key of the signing server.
func (s *Service) ServerDID() string { return s.kernel.DID() }

// hexID returns the first n hex characters of a random UUID.
func hexID(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

// CreateParams collects the caller-supplied UAIT fields.
type CreateParams struct {
	DisplayName    string
	SourceProtocol string
	IdentityToken  string
	Capabilities   []string
	Description    string
	IssuerName     string
	ExpiryDays     int
}

// Create assembles, signs and persists a new UAIT. Secret-like tokens (API
// keys) are stored masked so the collection file never holds the secret.
func (s *Service) Create(ctx context.Context, p CreateParams) (*UAIT, error) {
	if strings.TrimSpace(p.DisplayName) == "" {
		return nil, fmt.Errorf("%w: display_name is required", ErrValidation)
	}
	if p.SourceProtocol == "" {
		p.SourceProtocol = "custom"
	}
	if p.IssuerName == "" {
		p.IssuerName = "self"
	}
	days := p.ExpiryDays
	if days <= 0 {
		days = s.expiryDays
	}

	now := time.Now().UTC().Truncate(time.Second)
	storedToken := p.IdentityToken
	var info *TokenInfo
	if p.IdentityToken != "" {
		info = ExtractTokenInfo(p.IdentityToken)
		if info.TokenType == TokenAPIKey {
			storedToken = MaskToken(p.IdentityToken)
		}
	}
	caps := p.Capabilities
	if caps == nil {
		caps = []string{}
	}

	u := &UAIT{
		Version:        config.UAITVersion,
		AgentID:        "attestix:" + hexID(12),
		DisplayName:    p.DisplayName,
		Description:    p.Description,
		SourceProtocol: p.SourceProtocol,
		IdentityToken:  storedToken,
		TokenInfo:      info,
		Capabilities:   caps,
		Issuer:         Issuer{Name: p.IssuerName, DID: s.kernel.DID()},
		CreatedAt:      now.Format(time.RFC3339),
		ExpiresAt:      now.AddDate(0, 0, days).Format(time.RFC3339),
	}

	sig, err := s.kernel.Sign(u, signed.IdentityMutable)
	if err != nil {
		return nil, err
	}
	u.Signature = sig

	var f identityFile
	err = s.col.Update(ctx, &f, func() error {
		f.Agents = append(f.Agents, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns the UAIT with the given agent id.
func (s *Service) Get(ctx context.Context, agentID string) (*UAIT, error) {
	var f identityFile
	var found *UAIT
	err := s.col.View(ctx, &f, func() error {
		for _, a := range f.Agents {
			if a.AgentID == agentID {
				found = a
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns UAITs, newest last, filtered by source protocol and
// revocation state.
func (s *Service) List(ctx context.Context, sourceProtocol string, includeRevoked bool, limit int) ([]*UAIT, error) {
	if limit <= 0 {
		limit = 50
	}
	var f identityFile
	results := []*UAIT{}
	err := s.col.View(ctx, &f, func() error {
		for _, a := range f.Agents {
			if !includeRevoked && a.Revoked {
				continue
			}
			if sourceProtocol != "" && a.SourceProtocol != sourceProtocol {
				continue
			}
			results = append(results, a)
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

// VerifyResult is the outcome of identity verification. Valid is the
// conjunction of every check.
type VerifyResult struct {
	Valid       bool            `json:"valid"`
	AgentID     string          `json:"agent_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Checks      map[string]bool `json:"checks"`
}

// Verify checks existence, revocation, expiry and the core signature.
// Verification failures are reported in Checks, never as errors; the error
// return covers storage faults only.
func (s *Service) Verify(ctx context.Context, agentID string) (VerifyResult, error) {
	u, err := s.Get(ctx, agentID)
	if errors.Is(err, ErrNotFound) {
		return VerifyResult{AgentID: agentID, Checks: map[string]bool{"exists": false}}, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}

	checks := map[string]bool{
		"exists":      true,
		"not_revoked": !u.Revoked,
		"not_expired": notExpired(u.ExpiresAt),
	}
	checks["signature_valid"] = s.kernel.Verify(u, u.Issuer.DID, u.Signature, signed.IdentityMutable)

	valid := true
	for _, ok := range checks {
		valid = valid && ok
	}
	return VerifyResult{Valid: valid, AgentID: agentID, DisplayName: u.DisplayName, Checks: checks}, nil
}

func notExpired(expiresAt string) bool {
	if expiresAt == "" {
		return true
	}
	exp, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false
	}
	return time.Now().UTC().Before(exp)
}

// Revoke flips the mutable revocation fields. The core signature is
// untouched and must still verify afterwards.
func (s *Service) Revoke(ctx context.Context, agentID, reason string) (*UAIT, error) {
	var f identityFile
	var revoked *UAIT
	err := s.col.Update(ctx, &f, func() error {
		for _, a := range f.Agents {
			if a.AgentID == agentID {
				a.Revoked = true
				a.RevocationReason = &reason
				a.RevokedAt = time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
				revoked = a
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// UpdateReputation writes a decayed trust score onto the UAIT's mutable set.
func (s *Service) UpdateReputation(ctx context.Context, agentID string, score float64) error {
	return s.mutate(ctx, agentID, func(a *UAIT) {
		rounded := float64(int(score*10000+0.5)) / 10000
		a.ReputationScore = &rounded
	})
}

// SetComplianceRef links an EU AI Act compliance profile to the UAIT.
func (s *Service) SetComplianceRef(ctx context.Context, agentID, profileID string) error {
	return s.mutate(ctx, agentID, func(a *UAIT) {
		a.EUCompliance = &profileID
	})
}

func (s *Service) mutate(ctx context.Context, agentID string, fn func(*UAIT)) error {
	var f identityFile
	return s.col.Update(ctx, &f, func() error {
		for _, a := range f.Agents {
			if a.AgentID == agentID {
				fn(a)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	})
}

// RemoveAgent deletes the UAIT outright (GDPR erasure path). Returns the
// number of records removed.
func (s *Service) RemoveAgent(ctx context.Context, agentID string) (int, error) {
	var f identityFile
	removed := 0
	err := s.col.Update(ctx, &f, func() error {
		kept := f.Agents[:0]
		for _, a := range f.Agents {
			if a.AgentID == agentID {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		f.Agents = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

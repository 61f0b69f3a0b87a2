// Package credential issues and verifies W3C Verifiable Credentials and
// Presentations with Ed25519Signature2020 proofs. Proof and revocation
// status sit outside the signed payload, so revoking a credential never
// invalidates its signature.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/store"
)

// W3C VC context plus the Ed25519-2020 suite.
var vcContext = []string{
	"https://www.w3.org/2018/credentials/v1",
	"https://w3id.org/security/suites/ed25519-2020/v1",
}

// Well-known credential types. Free-form types are still accepted; this set
// exists for documentation and tooling.
var WellKnownTypes = map[string]bool{
	"EUAIActComplianceCredential":      true,
	"ConformityAssessmentCredential":   true,
	"TransparencyObligationCredential": true,
	"TrainingDataProvenanceCredential": true,
	"AgentIdentityCredential":          true,
}

var (
	ErrNotFound   = errors.New("credential: not found")
	ErrValidation = errors.New("credential: validation failed")
)

// CredIssuer is the issuer block of a VC.
type CredIssuer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Status is the revocation record kept outside the signed payload.
type Status struct {
	Type             string  `json:"type"`
	Revoked          bool    `json:"revoked"`
	RevocationReason *string `json:"revocation_reason"`
	RevokedAt        *string `json:"revoked_at"`
}

// Proof is an Ed25519Signature2020 proof block.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
	Challenge          string `json:"challenge,omitempty"`
	Domain             string `json:"domain,omitempty"`
}

// Credential is a stored W3C VC.
type Credential struct {
	Context           []string               `json:"@context"`
	ID                string                 `json:"id"`
	Type              []string               `json:"type"`
	Issuer            CredIssuer             `json:"issuer"`
	IssuanceDate      string                 `json:"issuanceDate"`
	ExpirationDate    string                 `json:"expirationDate"`
	CredentialSubject map[string]interface{} `json:"credentialSubject"`
	CredentialStatus  *Status                `json:"credentialStatus,omitempty"`
	Proof             *Proof                 `json:"proof,omitempty"`
}

// Presentation is a transient W3C VP; never persisted.
type Presentation struct {
	Context              []string      `json:"@context"`
	ID                   string        `json:"id"`
	Type                 []string      `json:"type"`
	Holder               string        `json:"holder"`
	VerifiableCredential []*Credential `json:"verifiableCredential"`
	Domain               string        `json:"domain,omitempty"`
	Challenge            string        `json:"challenge,omitempty"`
	Proof                *Proof        `json:"proof,omitempty"`
}

type credentialFile struct {
	Credentials []*Credential `json:"credentials"`
}

// Service owns the credentials collection.
type Service struct {
	kernel *signed.Kernel
	col    *store.Collection
}

func NewService(kernel *signed.Kernel, col *store.Collection) *Service {
	return &Service{kernel: kernel, col: col}
}

// Issue constructs, signs and persists a VC for subjectID carrying claims.
func (s *Service) Issue(ctx context.Context, subjectID, credentialType, issuerName string, claims map[string]interface{}, expiryDays int) (*Credential, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrValidation)
	}
	if credentialType == "" {
		return nil, fmt.Errorf("%w: credential_type is required", ErrValidation)
	}
	if expiryDays <= 0 {
		expiryDays = 365
	}

	now := time.Now().UTC().Truncate(time.Second)
	subject := map[string]interface{}{"id": subjectID}
	for k, v := range claims {
		if k != "id" {
			subject[k] = v
		}
	}

	cred := &Credential{
		Context:           vcContext,
		ID:                "urn:uuid:" + uuid.NewString(),
		Type:              []string{"VerifiableCredential", credentialType},
		Issuer:            CredIssuer{ID: s.kernel.DID(), Name: issuerName},
		IssuanceDate:      now.Format(time.RFC3339),
		ExpirationDate:    now.AddDate(0, 0, expiryDays).Format(time.RFC3339),
		CredentialSubject: subject,
		CredentialStatus: &Status{
			Type: "AttestixRevocationStatus",
		},
	}

	sig, err := s.kernel.Sign(cred, signed.CredentialMutable)
	if err != nil {
		return nil, err
	}
	cred.Proof = &Proof{
		Type:               "Ed25519Signature2020",
		Created:            now.Format(time.RFC3339),
		VerificationMethod: s.kernel.DID() + "#key-1",
		ProofPurpose:       "assertionMethod",
		ProofValue:         sig,
	}

	var f credentialFile
	err = s.col.Update(ctx, &f, func() error {
		f.Credentials = append(f.Credentials, cred)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Get returns a stored credential by id.
func (s *Service) Get(ctx context.Context, credentialID string) (*Credential, error) {
	var f credentialFile
	var found *Credential
	err := s.col.View(ctx, &f, func() error {
		for _, c := range f.Credentials {
			if c.ID == credentialID {
				found = c
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, credentialID)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List filters stored credentials by subject, type and validity.
func (s *Service) List(ctx context.Context, agentID, credentialType string, validOnly bool, limit int) ([]*Credential, error) {
	if limit <= 0 {
		limit = 50
	}
	var f credentialFile
	results := []*Credential{}
	err := s.col.View(ctx, &f, func() error {
		for _, c := range f.Credentials {
			if agentID != "" && subjectID(c) != agentID {
				continue
			}
			if credentialType != "" && !hasType(c, credentialType) {
				continue
			}
			if validOnly {
				if c.CredentialStatus != nil && c.CredentialStatus.Revoked {
					continue
				}
				if !notExpired(c.ExpirationDate) {
					continue
				}
			}
			results = append(results, c)
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

// VerifyResult is the outcome of credential verification.
type VerifyResult struct {
	Valid        bool            `json:"valid"`
	CredentialID string          `json:"credential_id"`
	Type         []string        `json:"type,omitempty"`
	Subject      string          `json:"subject,omitempty"`
	Checks       map[string]bool `json:"checks"`
}

// Verify checks a stored credential by id.
func (s *Service) Verify(ctx context.Context, credentialID string) (VerifyResult, error) {
	cred, err := s.Get(ctx, credentialID)
	if errors.Is(err, ErrNotFound) {
		return VerifyResult{CredentialID: credentialID, Checks: map[string]bool{"exists": false}}, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}
	return s.verifyCred(cred, true), nil
}

// VerifyExternal checks a caller-supplied credential without any store
// lookup. With no local revocation record, not_revoked falls back to the
// embedded credentialStatus (true when absent).
func (s *Service) VerifyExternal(cred *Credential) VerifyResult {
	return s.verifyCred(cred, false)
}

func (s *Service) verifyCred(cred *Credential, exists bool) VerifyResult {
	checks := map[string]bool{
		"not_revoked": cred.CredentialStatus == nil || !cred.CredentialStatus.Revoked,
		"not_expired": notExpired(cred.ExpirationDate),
	}
	if exists {
		checks["exists"] = true
	}

	sigOK := false
	if cred.Proof != nil {
		sigOK = s.kernel.Verify(cred, cred.Issuer.ID, cred.Proof.ProofValue, signed.CredentialMutable)
	}
	checks["signature_valid"] = sigOK

	valid := true
	for _, ok := range checks {
		valid = valid && ok
	}
	return VerifyResult{
		Valid:        valid,
		CredentialID: cred.ID,
		Type:         cred.Type,
		Subject:      subjectID(cred),
		Checks:       checks,
	}
}

// Revoke flips the credentialStatus record. The proof is untouched and the
// signature still verifies afterwards.
func (s *Service) Revoke(ctx context.Context, credentialID, reason string) error {
	now := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	var f credentialFile
	return s.col.Update(ctx, &f, func() error {
		for _, c := range f.Credentials {
			if c.ID == credentialID {
				c.CredentialStatus = &Status{
					Type:             "AttestixRevocationStatus",
					Revoked:          true,
					RevocationReason: &reason,
					RevokedAt:        &now,
				}
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, credentialID)
	})
}

// RemoveSubject deletes every credential whose subject is agentID (GDPR
// erasure path). Returns the number removed.
func (s *Service) RemoveSubject(ctx context.Context, agentID string) (int, error) {
	var f credentialFile
	removed := 0
	err := s.col.Update(ctx, &f, func() error {
		kept := f.Credentials[:0]
		for _, c := range f.Credentials {
			if subjectID(c) == agentID {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		f.Credentials = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func subjectID(c *Credential) string {
	if c.CredentialSubject == nil {
		return ""
	}
	id, _ := c.CredentialSubject["id"].(string)
	return id
}

func hasType(c *Credential, t string) bool {
	for _, ct := range c.Type {
		if ct == t {
			return true
		}
	}
	return false
}

func notExpired(expirationDate string) bool {
	if expirationDate == "" {
		return true
	}
	exp, err := time.Parse(time.RFC3339, expirationDate)
	if err != nil {
		return false
	}
	return time.Now().UTC().Before(exp)
}

package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/pkg/signed"
)

// CreatePresentation bundles stored credentials into a signed VP for a
// verifier. Every credential must belong to the holder. Challenge and
// domain, when supplied, are embedded in both the presentation and its
// proof for replay protection. Presentations are transient and never
// persisted.
func (s *Service) CreatePresentation(ctx context.Context, holder string, credentialIDs []string, audienceDID, challenge string) (*Presentation, error) {
	if holder == "" {
		return nil, fmt.Errorf("%w: holder is required", ErrValidation)
	}
	if len(credentialIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one credential_id is required", ErrValidation)
	}

	creds := make([]*Credential, 0, len(credentialIDs))
	for _, cid := range credentialIDs {
		cred, err := s.Get(ctx, cid)
		if err != nil {
			return nil, err
		}
		if subjectID(cred) != holder {
			return nil, fmt.Errorf("%w: credential %s does not belong to agent %s", ErrValidation, cid, holder)
		}
		creds = append(creds, cred)
	}

	now := time.Now().UTC().Truncate(time.Second)
	vp := &Presentation{
		Context:              vcContext,
		ID:                   "urn:uuid:" + uuid.NewString(),
		Type:                 []string{"VerifiablePresentation"},
		Holder:               holder,
		VerifiableCredential: creds,
		Domain:               audienceDID,
		Challenge:            challenge,
	}

	sig, err := s.kernel.Sign(vp, signed.PresentationMutable)
	if err != nil {
		return nil, err
	}
	vp.Proof = &Proof{
		Type:               "Ed25519Signature2020",
		Created:            now.Format(time.RFC3339),
		VerificationMethod: s.kernel.DID() + "#key-1",
		ProofPurpose:       "authentication",
		ProofValue:         sig,
		Challenge:          challenge,
		Domain:             audienceDID,
	}
	return vp, nil
}

// PresentationResult is the outcome of VP verification.
type PresentationResult struct {
	Valid       bool            `json:"valid"`
	Holder      string          `json:"holder,omitempty"`
	Credentials []VerifyResult  `json:"credentials,omitempty"`
	Checks      map[string]bool `json:"checks"`
}

// VerifyPresentation checks the VP signature, every embedded credential,
// and that each credential subject matches the holder. Challenge and domain
// checks appear only when the presentation carries them.
func (s *Service) VerifyPresentation(vp *Presentation) PresentationResult {
	checks := map[string]bool{}

	structureOK := vp != nil &&
		len(vp.Context) > 0 &&
		vp.Holder != "" &&
		len(vp.VerifiableCredential) > 0 &&
		hasPresentationType(vp)
	checks["structure_valid"] = structureOK
	if !structureOK {
		return PresentationResult{Checks: checks}
	}

	sigOK := false
	if vp.Proof != nil {
		// The server key signs every presentation this kernel produces;
		// external VPs carry their signer in verificationMethod, which is
		// <did>#fragment.
		issuer := s.kernel.DID()
		if vp.Proof.VerificationMethod != "" {
			issuer = stripFragment(vp.Proof.VerificationMethod)
		}
		sigOK = s.kernel.Verify(vp, issuer, vp.Proof.ProofValue, signed.PresentationMutable)
	}
	checks["vp_signature_valid"] = sigOK

	credResults := make([]VerifyResult, 0, len(vp.VerifiableCredential))
	credsOK := true
	holderOK := true
	for _, cred := range vp.VerifiableCredential {
		res := s.VerifyExternal(cred)
		credResults = append(credResults, res)
		credsOK = credsOK && res.Valid
		holderOK = holderOK && subjectID(cred) == vp.Holder
	}
	checks["credentials_valid"] = credsOK
	checks["holder_matches_subjects"] = holderOK

	if vp.Challenge != "" || (vp.Proof != nil && vp.Proof.Challenge != "") {
		checks["challenge_present"] = vp.Proof != nil && vp.Proof.Challenge != "" && vp.Proof.Challenge == vp.Challenge
	}
	if vp.Domain != "" || (vp.Proof != nil && vp.Proof.Domain != "") {
		checks["domain_present"] = vp.Proof != nil && vp.Proof.Domain != "" && vp.Proof.Domain == vp.Domain
	}

	valid := true
	for _, ok := range checks {
		valid = valid && ok
	}
	return PresentationResult{
		Valid:       valid,
		Holder:      vp.Holder,
		Credentials: credResults,
		Checks:      checks,
	}
}

func hasPresentationType(vp *Presentation) bool {
	for _, t := range vp.Type {
		if t == "VerifiablePresentation" {
			return true
		}
	}
	return false
}

func stripFragment(vm string) string {
	for i := 0; i < len(vm); i++ {
		if vm[i] == '#' {
			return vm[:i]
		}
	}
	return vm
}

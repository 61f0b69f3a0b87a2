// Package signed is the signing kernel shared by every Attestix service.
// An entity is split into an immutable signed core and a per-type mask of
// mutable fields; the signature covers the canonical bytes of the core only,
// so lifecycle flags (revocation, status, scores) can change without
// invalidating it.
package signed

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/VibeTensor/attestix/pkg/canonical"
	"github.com/VibeTensor/attestix/pkg/keys"
)

// Mutable-field masks, one per entity type. These are contracts: growing a
// mask invalidates existing signatures, shrinking it breaks revocation.
var (
	IdentityMutable     = []string{"signature", "revoked", "revocation_reason", "revoked_at", "reputation_score", "eu_compliance"}
	CredentialMutable   = []string{"proof", "credentialStatus"}
	PresentationMutable = []string{"proof"}
	ProfileMutable      = []string{"signature", "conformity", "updated_at"}
	RecordMutable       = []string{"signature"}
)

// Kernel signs with the server key and verifies against any did:key issuer.
type Kernel struct {
	key *keys.ServerKey
}

func NewKernel(key *keys.ServerKey) *Kernel {
	return &Kernel{key: key}
}

// DID returns the server's did:key identifier.
func (k *Kernel) DID() string { return k.key.DID }

// Sign computes the base64url Ed25519 signature over the canonical bytes of
// obj with the mutable fields removed.
func (k *Kernel) Sign(obj interface{}, mutable []string) (string, error) {
	payload, err := SignableBytes(obj, mutable)
	if err != nil {
		return "", err
	}
	sig := keys.Sign(k.key.Private, payload)
	return base64.URLEncoding.EncodeToString(sig), nil
}

// Verify recomputes the signable bytes of obj, resolves the issuer's public
// key from its did:key, and checks the signature. It returns false for every
// failure mode — missing signature, undecodable DID or signature, wrong
// length, bad signature — and never an error.
func (k *Kernel) Verify(obj interface{}, issuerDID, sigB64 string, mutable []string) bool {
	if sigB64 == "" {
		return false
	}
	pub, err := keys.DIDKeyToPub(issuerDID)
	if err != nil {
		return false
	}
	sig, err := base64.URLEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	payload, err := SignableBytes(obj, mutable)
	if err != nil {
		return false
	}
	return keys.Verify(pub, sig, payload)
}

// SignableBytes projects obj onto its immutable core and canonicalizes it.
// obj may be a struct or a map; it is first flattened to a generic JSON
// object so the mask applies to wire-format key names.
func SignableBytes(obj interface{}, mutable []string) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("signed: flatten object: %w", err)
	}

	var doc map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("signed: object is not a JSON object: %w", err)
	}

	for _, field := range mutable {
		delete(doc, field)
	}
	return canonical.Marshal(doc)
}

// Package did resolves and mints Decentralized Identifiers. did:key
// resolves locally from the embedded key material, did:web fetches the
// hosted document through the SSRF guard, and every other method is
// forwarded to a Universal Resolver endpoint.
package did

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"

	"github.com/VibeTensor/attestix/pkg/keys"
	"github.com/VibeTensor/attestix/pkg/ssrf"
)

const (
	webTimeout       = 10 * time.Second
	universalTimeout = 15 * time.Second
)

var (
	ErrInvalidDID = errors.New("did: invalid identifier")
	ErrResolve    = errors.New("did: resolution failed")
)

var webSegment = regexp.MustCompile(`^[a-z0-9._-]+$`)

var didContext = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/suites/ed25519-2020/v1",
}

// Service resolves DIDs. Outbound requests share a rate limiter so a burst
// of resolution calls cannot hammer remote hosts.
type Service struct {
	guard       *ssrf.Guard
	resolverURL string
	limiter     *rate.Limiter

	// newClient is swapped in tests.
	newClient func(timeout time.Duration) *http.Client
}

func NewService(guard *ssrf.Guard, universalResolverURL string) *Service {
	return &Service{
		guard:       guard,
		resolverURL: strings.TrimSuffix(universalResolverURL, "/") + "/",
		limiter:     rate.NewLimiter(rate.Limit(5), 10),
		newClient:   guard.NewClient,
	}
}

// Resolve returns the DID Document for any supported DID.
func (s *Service) Resolve(ctx context.Context, did string) (map[string]interface{}, error) {
	switch {
	case strings.HasPrefix(did, "did:key:"):
		return s.resolveKey(did)
	case strings.HasPrefix(did, "did:web:"):
		return s.resolveWeb(ctx, did)
	default:
		return s.resolveUniversal(ctx, did)
	}
}

func (s *Service) resolveKey(did string) (map[string]interface{}, error) {
	pub, err := keys.DIDKeyToPub(did)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	return keyDocument(did, "z"+base58.Encode(pub)), nil
}

func keyDocument(did, publicKeyMultibase string) map[string]interface{} {
	vm := map[string]interface{}{
		"id":         did + "#key-1",
		"type":       "Ed25519VerificationKey2020",
		"controller": did,
	}
	if publicKeyMultibase != "" {
		vm["publicKeyMultibase"] = publicKeyMultibase
	}
	return map[string]interface{}{
		"@context":           didContext,
		"id":                 did,
		"controller":         did,
		"verificationMethod": []interface{}{vm},
		"authentication":     []string{did + "#key-1"},
		"assertionMethod":    []string{did + "#key-1"},
	}
}

// webDocURL maps did:web:<domain>(:<seg>)* onto its https did.json URL.
func webDocURL(did string) (string, error) {
	raw := strings.TrimPrefix(did, "did:web:")
	if raw == "" {
		return "", fmt.Errorf("%w: empty did:web", ErrInvalidDID)
	}
	parts := strings.Split(strings.ToLower(raw), ":")
	for _, p := range parts {
		if p == ".." || !webSegment.MatchString(p) {
			return "", fmt.Errorf("%w: bad did:web segment %q", ErrInvalidDID, p)
		}
	}
	domain := parts[0]
	path := ".well-known"
	if len(parts) > 1 {
		path = strings.Join(parts[1:], "/")
	}
	return fmt.Sprintf("https://%s/%s/did.json", domain, path), nil
}

func (s *Service) resolveWeb(ctx context.Context, did string) (map[string]interface{}, error) {
	docURL, err := webDocURL(did)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(docURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if err := s.guard.ValidateHost(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	return s.fetchJSON(ctx, docURL, webTimeout)
}

func (s *Service) resolveUniversal(ctx context.Context, did string) (map[string]interface{}, error) {
	if !strings.HasPrefix(did, "did:") {
		return nil, fmt.Errorf("%w: %q is not a DID", ErrInvalidDID, did)
	}
	body, err := s.fetchJSON(ctx, s.resolverURL+url.PathEscape(did), universalTimeout)
	if err != nil {
		return nil, err
	}
	if doc, ok := body["didDocument"].(map[string]interface{}); ok {
		return doc, nil
	}
	return nil, fmt.Errorf("%w: universal resolver returned no didDocument for %s", ErrResolve, did)
}

func (s *Service) fetchJSON(ctx context.Context, rawURL string, timeout time.Duration) (map[string]interface{}, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.newClient(timeout).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d fetching %s", ErrResolve, resp.StatusCode, rawURL)
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: bad JSON from %s: %v", ErrResolve, rawURL, err)
	}
	return doc, nil
}

// Keypair is returned by the create operations; the private key never
// touches disk.
type Keypair struct {
	Algorithm     string `json:"algorithm"`
	PublicKeyB64  string `json:"public_key_b64"`
	PrivateKeyB64 string `json:"private_key_b64"`
	Note          string `json:"note"`
}

// Created bundles a freshly minted DID with its document and key material.
type Created struct {
	DID         string                 `json:"did"`
	DIDDocument map[string]interface{} `json:"did_document"`
	HostingURL  string                 `json:"hosting_url,omitempty"`
	Keypair     Keypair                `json:"keypair"`
}

// CreateDIDKey generates an ephemeral did:key with a fresh Ed25519 keypair.
func CreateDIDKey() (*Created, error) {
	priv, pub, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	did := keys.PubToDIDKey(pub)
	return &Created{
		DID:         did,
		DIDDocument: keyDocument(did, "z"+base58.Encode(pub)),
		Keypair: Keypair{
			Algorithm:     "Ed25519",
			PublicKeyB64:  base64.URLEncoding.EncodeToString(pub),
			PrivateKeyB64: base64.URLEncoding.EncodeToString(keys.Seed(priv)),
			Note:          "Store private key securely. Never share it.",
		},
	}, nil
}

// CreateDIDWeb generates a did:web document for self-hosting at the
// returned URL.
func CreateDIDWeb(domain, path string) (*Created, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !webSegment.MatchString(domain) {
		return nil, fmt.Errorf("%w: invalid did:web domain %q", ErrInvalidDID, domain)
	}

	did := "did:web:" + domain
	hostingURL := "https://" + domain + "/.well-known/did.json"
	if path != "" {
		segs := strings.Split(strings.Trim(path, "/"), "/")
		for _, seg := range segs {
			if seg == ".." || !webSegment.MatchString(strings.ToLower(seg)) {
				return nil, fmt.Errorf("%w: invalid did:web path segment %q", ErrInvalidDID, seg)
			}
		}
		did += ":" + strings.Join(segs, ":")
		hostingURL = "https://" + domain + "/" + strings.Join(segs, "/") + "/did.json"
	}

	priv, pub, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	return &Created{
		DID:         did,
		DIDDocument: keyDocument(did, "z"+base58.Encode(pub)),
		HostingURL:  hostingURL,
		Keypair: Keypair{
			Algorithm:     "Ed25519",
			PublicKeyB64:  base64.URLEncoding.EncodeToString(pub),
			PrivateKeyB64: base64.URLEncoding.EncodeToString(keys.Seed(priv)),
			Note:          "Store private key securely.",
		},
	}, nil
}

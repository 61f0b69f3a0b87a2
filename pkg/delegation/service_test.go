package delegation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/pkg/keys"
	"github.com/VibeTensor/attestix/pkg/store"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	key, err := keys.LoadOrCreateServerKey(filepath.Join(dir, ".signing_key.json"))
	require.NoError(t, err)
	return NewService(key, store.NewCollection(filepath.Join(dir, "delegations.json"))), dir
}

func TestCreateTokenShape(t *testing.T) {
	svc, dir := newTestService(t)
	ctx := context.Background()

	token, rec, err := svc.Create(ctx, "attestix:parent", "attestix:child",
		[]string{"translate", "summarize"}, 12, "")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	var header map[string]interface{}
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	assert.Equal(t, "JWT", header["typ"])
	assert.Equal(t, "EdDSA", header["alg"])
	assert.Equal(t, "0.9.0", header["ucv"])

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(payloadJSON, &payload))
	assert.Equal(t, "ucan/delegation", payload["typ"])
	assert.Equal(t, "attestix:child", payload["aud"])
	assert.Equal(t, payload["aud"], payload["sub"])
	assert.Equal(t, "attestix:parent", payload["delegator"])
	assert.Equal(t, payload["iat"], payload["nbf"])
	assert.Equal(t, rec.JTI, payload["jti"])
	assert.Equal(t, []interface{}{}, payload["prf"])
	assert.True(t, strings.HasPrefix(payload["iss"].(string), "did:key:z"))

	// The collection stores the record, never the token bytes.
	data, err := os.ReadFile(filepath.Join(dir, "delegations.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), parts[2])
}

func TestVerifyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, _, err := svc.Create(ctx, "attestix:parent", "attestix:child", []string{"translate"}, 1, "")
	require.NoError(t, err)

	res, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "attestix:parent", res.Delegator)
	assert.Equal(t, "attestix:child", res.Audience)
	assert.Equal(t, []string{"translate"}, res.Capabilities)
	assert.Empty(t, res.ProofChain)
	assert.False(t, res.Expired)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, _, err := svc.Create(ctx, "attestix:parent", "attestix:child", []string{"translate"}, 1, "")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forged := jwt.MapClaims{"att": []string{"admin"}, "typ": "ucan/delegation"}
	forgedJSON, err := json.Marshal(forged)
	require.NoError(t, err)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forgedJSON) + "." + parts[2]

	res, err := svc.Verify(ctx, tampered)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)
}

func TestVerifyExpiredToken(t *testing.T) {
	svc, _ := newTestService(t)

	// Hand-mint an already expired token with the same key.
	now := time.Now().UTC().Add(-2 * time.Hour)
	claims := jwt.MapClaims{
		"iss": svc.key.DID, "aud": "attestix:child", "sub": "attestix:child",
		"iat": now.Unix(), "nbf": now.Unix(), "exp": now.Add(time.Hour).Unix(),
		"jti": "expired-jti", "att": []string{"translate"},
		"delegator": "attestix:parent", "prf": []string{}, "typ": "ucan/delegation",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["ucv"] = "0.9.0"
	token, err := tok.SignedString(svc.key.Private)
	require.NoError(t, err)

	res, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Expired)
	assert.Equal(t, "attestix:parent", res.Delegator)
}

func TestRevokeAndDoubleRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, rec, err := svc.Create(ctx, "attestix:parent", "attestix:child", []string{"translate"}, 1, "")
	require.NoError(t, err)

	revoked, err := svc.Revoke(ctx, rec.JTI, "rotated")
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)

	res, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Revoked)

	_, err = svc.Revoke(ctx, rec.JTI, "again")
	require.ErrorIs(t, err, ErrAlreadyRevoked)

	_, err = svc.Revoke(ctx, "no-such-jti", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProofChainCarriesParentVerbatim(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent, _, err := svc.Create(ctx, "attestix:root", "attestix:mid", []string{"translate", "summarize"}, 2, "")
	require.NoError(t, err)
	child, _, err := svc.Create(ctx, "attestix:mid", "attestix:leaf", []string{"translate"}, 1, parent)
	require.NoError(t, err)

	res, err := svc.Verify(ctx, child)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.Len(t, res.ProofChain, 1)
	assert.Equal(t, parent, res.ProofChain[0])
}

func TestListRolesAndExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, asIssuer, err := svc.Create(ctx, "attestix:me", "attestix:you", []string{"a"}, 1, "")
	require.NoError(t, err)
	_, asAudience, err := svc.Create(ctx, "attestix:you", "attestix:me", []string{"b"}, 1, "")
	require.NoError(t, err)
	_, revokedRec, err := svc.Create(ctx, "attestix:me", "attestix:them", []string{"c"}, 1, "")
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, revokedRec.JTI, "")
	require.NoError(t, err)

	got, err := svc.List(ctx, "attestix:me", "issuer", false, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, asIssuer.JTI, got[0].JTI)

	got, err = svc.List(ctx, "attestix:me", "audience", false, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, asAudience.JTI, got[0].JTI)

	got, err = svc.List(ctx, "attestix:me", "any", false, 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

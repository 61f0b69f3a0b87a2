package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedTestJWT(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "agent-42",
		"iss":   "https://auth.example.com",
		"scope": "read write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDetectTokenType(t *testing.T) {
	jwtToken := signedTestJWT(t)

	cases := []struct {
		name  string
		token string
		want  TokenType
	}{
		{"did key", "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK", TokenDID},
		{"did web", "did:web:example.com", TokenDID},
		{"jwt", jwtToken, TokenJWT},
		{"url", "https://agents.example.com/.well-known/agent.json", TokenURL},
		{"hex api key", "deadbeefdeadbeefdeadbeefdeadbeef", TokenAPIKey},
		{"mixed api key", "sk_Live1234567890abcdefABCDEF1234567890", TokenAPIKey},
		{"short string", "hello", TokenUnknown},
		{"empty", "", TokenUnknown},
		{"lowercase words", "justsomelonglowercasestringwithoutdigitsorcaps", TokenUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectTokenType(tc.token))
		})
	}
}

func TestExtractJWTInfo(t *testing.T) {
	info := ExtractTokenInfo(signedTestJWT(t))

	assert.Equal(t, TokenJWT, info.TokenType)
	assert.Equal(t, "agent-42", info.Subject)
	assert.Equal(t, "https://auth.example.com", info.Issuer)
	assert.Equal(t, []string{"read", "write"}, info.Scopes)
	assert.Greater(t, info.Expiry, time.Now().Unix())
	assert.Equal(t, "HS256", info.JWTHeader["alg"])
}

func TestExtractDIDInfo(t *testing.T) {
	info := ExtractTokenInfo("did:web:example.com:agents:alpha")

	assert.Equal(t, TokenDID, info.TokenType)
	assert.Equal(t, "web", info.DIDMethod)
	assert.Equal(t, "example.com:agents:alpha", info.DIDSpecificID)
}

func TestExtractAPIKeyIsMasked(t *testing.T) {
	secret := "deadbeefdeadbeefdeadbeefdeadbeef"
	info := ExtractTokenInfo(secret)

	assert.Equal(t, TokenAPIKey, info.TokenType)
	assert.Empty(t, info.OriginalToken)
	assert.Equal(t, "deadbe...beef", info.KeyPreview)
	assert.Equal(t, 32, info.KeyLength)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", MaskToken("short"))
	assert.Equal(t, "***", MaskToken("exactly12chs"))
	assert.Equal(t, "abcdef...wxyz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
}

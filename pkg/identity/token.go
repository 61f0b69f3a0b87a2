package identity

import (
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates the tagged union stored in a UAIT's token_info.
type TokenType string

const (
	TokenJWT     TokenType = "jwt"
	TokenDID     TokenType = "did"
	TokenURL     TokenType = "url"
	TokenAPIKey  TokenType = "api_key"
	TokenUnknown TokenType = "unknown"
)

var (
	didPattern    = regexp.MustCompile(`(?i)^did:[a-z0-9]+:.+$`)
	urlPattern    = regexp.MustCompile(`(?i)^https?://.+$`)
	jwtPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
	hexKeyPattern = regexp.MustCompile(`^[A-Fa-f0-9]{32,}$`)
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{32,}$`)
)

// TokenInfo is the extracted identity information for one token kind.
// Fields beyond TokenType are populated per discriminant; API keys are
// stored masked, never verbatim.
type TokenInfo struct {
	TokenType     TokenType              `json:"token_type"`
	OriginalToken string                 `json:"original_token,omitempty"`
	Subject       string                 `json:"subject,omitempty"`
	Issuer        string                 `json:"issuer,omitempty"`
	Scopes        []string               `json:"scopes,omitempty"`
	Expiry        int64                  `json:"expiry,omitempty"`
	JWTHeader     map[string]interface{} `json:"jwt_header,omitempty"`
	DIDMethod     string                 `json:"did_method,omitempty"`
	DIDSpecificID string                 `json:"did_specific_id,omitempty"`
	URL           string                 `json:"url,omitempty"`
	Note          string                 `json:"note,omitempty"`
	KeyPreview    string                 `json:"key_preview,omitempty"`
	KeyLength     int                    `json:"key_length,omitempty"`
}

// DetectTokenType classifies an identity token string. Order matters:
// DID and JWT shapes are more specific than the API-key heuristic.
func DetectTokenType(token string) TokenType {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenUnknown
	}
	if didPattern.MatchString(token) {
		return TokenDID
	}
	if jwtPattern.MatchString(token) {
		if _, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
			return TokenJWT
		}
	}
	if urlPattern.MatchString(token) {
		return TokenURL
	}
	if looksLikeAPIKey(token) {
		return TokenAPIKey
	}
	return TokenUnknown
}

// looksLikeAPIKey matches long hex strings, or long url-safe strings that mix
// upper case with lower case or digits.
func looksLikeAPIKey(token string) bool {
	if hexKeyPattern.MatchString(token) {
		return true
	}
	if !keyPattern.MatchString(token) {
		return false
	}
	hasUpper := strings.ContainsFunc(token, func(r rune) bool { return r >= 'A' && r <= 'Z' })
	hasLowerOrDigit := strings.ContainsFunc(token, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
	})
	return hasUpper && hasLowerOrDigit
}

// ExtractTokenInfo builds the token_info union for a token. Parsing is
// best-effort: a JWT whose claims fail to decode still records its type.
func ExtractTokenInfo(token string) *TokenInfo {
	token = strings.TrimSpace(token)
	info := &TokenInfo{TokenType: DetectTokenType(token)}

	switch info.TokenType {
	case TokenJWT:
		info.OriginalToken = token
		parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
		if err != nil {
			break
		}
		info.JWTHeader = parsed.Header
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			break
		}
		if sub, err := claims.GetSubject(); err == nil {
			info.Subject = sub
		}
		if iss, err := claims.GetIssuer(); err == nil {
			info.Issuer = iss
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			info.Expiry = exp.Unix()
		}
		if scope, ok := claims["scope"].(string); ok {
			info.Scopes = strings.Fields(scope)
		}

	case TokenDID:
		info.OriginalToken = token
		parts := strings.SplitN(token, ":", 3)
		if len(parts) == 3 {
			info.DIDMethod = parts[1]
			info.DIDSpecificID = parts[2]
		}

	case TokenURL:
		info.OriginalToken = token
		info.URL = token
		info.Note = "URL-based identity (e.g. an agent card endpoint)"

	case TokenAPIKey:
		info.KeyPreview = MaskToken(token)
		info.KeyLength = len(token)

	case TokenUnknown:
		info.OriginalToken = token
	}

	return info
}

// MaskToken reduces a secret to a short preview.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-4:]
}

package live

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Credential authorizes the websocket dial. The session never inspects it.
type Credential interface {
	Authorize(u *url.URL, h http.Header) error
}

// APIKey is sent as the "key" query parameter, the way the hosted endpoint expects.
type APIKey string

func (k APIKey) Authorize(u *url.URL, _ http.Header) error {
	if k == "" {
		return NewError(ErrCodeAuthFailed, "empty API key")
	}
	q := u.Query()
	q.Set("key", string(k))
	u.RawQuery = q.Encode()
	return nil
}

// HeaderAPIKey is sent in the x-goog-api-key header.
type HeaderAPIKey string

func (k HeaderAPIKey) Authorize(_ *url.URL, h http.Header) error {
	if k == "" {
		return NewError(ErrCodeAuthFailed, "empty API key")
	}
	h.Set("x-goog-api-key", string(k))
	return nil
}

// BearerToken is a pre-minted token sent as Authorization: Bearer.
type BearerToken string

func (t BearerToken) Authorize(_ *url.URL, h http.Header) error {
	if t == "" {
		return NewError(ErrCodeAuthFailed, "empty bearer token")
	}
	h.Set("Authorization", "Bearer "+string(t))
	return nil
}

// NoCredential leaves the request untouched.
type NoCredential struct{}

func (NoCredential) Authorize(*url.URL, http.Header) error { return nil }

// TokenClaims are the claims carried by a SignedToken.
type TokenClaims struct {
	KeyHint string `json:"key_hint,omitempty"`
	jwt.RegisteredClaims
}

// SignedToken mints a short-lived HS256 bearer token per dial, for gateways
// that front the service and share the secret.
type SignedToken struct {
	Secret  []byte
	TTL     time.Duration
	Subject string
	Issuer  string

	now func() time.Time
}

// Mint signs a fresh token and returns it with its expiry.
func (t *SignedToken) Mint() (string, time.Time, error) {
	if len(t.Secret) == 0 {
		return "", time.Time{}, NewError(ErrCodeAuthFailed, "empty signing secret")
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	issued := now()
	expires := issued.Add(ttl)

	hint := string(t.Secret)
	if len(hint) > 8 {
		hint = hint[:8]
	}
	claims := TokenClaims{
		KeyHint: hint + "...",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   t.Subject,
			Issuer:    t.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, newErrorf(ErrCodeAuthFailed, err, "sign token")
	}
	return signed, expires, nil
}

func (t *SignedToken) Authorize(_ *url.URL, h http.Header) error {
	token, _, err := t.Mint()
	if err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}

// DecodeSignedToken verifies a token minted by SignedToken.
func DecodeSignedToken(token string, secret []byte) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, newErrorf(ErrCodeAuthFailed, err, "decode token")
	}
	if !parsed.Valid {
		return nil, NewError(ErrCodeAuthFailed, "invalid token")
	}
	return claims, nil
}

const apiKeyLength = 39

// ValidateAPIKey checks the shape of a Google API key ("AIza" + 35 url-safe
// characters). It does not contact the service.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return NewError(ErrCodeConfigInvalid, "API key not set")
	case !strings.HasPrefix(key, "AIza"):
		return NewError(ErrCodeConfigInvalid, "Invalid API key format (should start with 'AIza')")
	case len(key) != apiKeyLength:
		return NewError(ErrCodeConfigInvalid, fmt.Sprintf("Invalid API key length %d (want %d)", len(key), apiKeyLength))
	}
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return NewError(ErrCodeConfigInvalid, fmt.Sprintf("Invalid character %q in API key", r))
		}
	}
	return nil
}

package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxTTL caps the lifetime a caller may request for a minted token
const MaxTTL = time.Hour

// Scope narrows what a capability token grants
type Scope string

const (
	// ScopeDownload allows fetching a job's produced artifact
	ScopeDownload Scope = "download"

	// ScopeProgress allows attaching to a job's progress stream
	ScopeProgress Scope = "progress"
)

// Verification failure reasons. Each is distinct and non-overlapping;
// verification fails fast with the first reason that applies.
var (
	ErrMalformed       = errors.New("token: malformed structure")
	ErrUnknownKey      = errors.New("token: unknown signing key")
	ErrBadSignature    = errors.New("token: signature mismatch")
	ErrBadPayload      = errors.New("token: unparsable payload")
	ErrExpired         = errors.New("token: expired")
	ErrSubjectMismatch = errors.New("token: subject mismatch")
	ErrScopeMismatch   = errors.New("token: scope mismatch")
	ErrVersionMismatch = errors.New("token: version mismatch")
)

// Claims is the signed token payload
type Claims struct {
	Subject   string `json:"sub"`
	Scope     Scope  `json:"scope"`
	Version   int64  `json:"ver"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Expect describes what a presented token must match. Version is only
// checked when non-nil, i.e. when the caller binds the token to a live
// job's current version.
type Expect struct {
	Subject string
	Scope   Scope
	Version *int64
}

// Service mints and verifies capability tokens. Tokens are never stored;
// a version bump on the referenced job silently invalidates everything
// minted before it. Multiple keys may verify simultaneously so rotation
// does not kill in-flight tokens, but only the active key mints.
type Service struct {
	keys      map[string][]byte
	activeKey string
	now       func() time.Time
}

// NewService creates a token service from the verification key set and
// the id of the key used for new mints
func NewService(keys map[string][]byte, activeKey string) (*Service, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("token service: at least one signing key is required")
	}
	for id, secret := range keys {
		if id == "" || len(secret) == 0 {
			return nil, fmt.Errorf("token service: empty key id or secret")
		}
	}
	if _, ok := keys[activeKey]; !ok {
		return nil, fmt.Errorf("token service: active key %q is not in the key set", activeKey)
	}
	return &Service{
		keys:      keys,
		activeKey: activeKey,
		now:       time.Now,
	}, nil
}

// Mint issues a token for subject/scope bound to the given job version.
// The requested ttl is clamped to MaxTTL; non-positive ttl also falls
// back to MaxTTL.
func (s *Service) Mint(subject string, scope Scope, version int64, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("mint: subject is required")
	}
	if scope != ScopeDownload && scope != ScopeProgress {
		return "", fmt.Errorf("mint: unknown scope %q", scope)
	}
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}

	now := s.now()
	claims := Claims{
		Subject:   subject,
		Scope:     scope,
		Version:   version,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("mint: encode claims: %w", err)
	}

	enc := base64.RawURLEncoding
	sig := sign(s.keys[s.activeKey], payload)
	return enc.EncodeToString([]byte(s.activeKey)) + "." +
		enc.EncodeToString(payload) + "." +
		enc.EncodeToString(sig), nil
}

// Verify checks a presented token against the expectation. The checks run
// in a fixed order and stop at the first failure: structure, key,
// signature, payload, expiry, subject, scope, version.
func (s *Service) Verify(tok string, expect Expect) (*Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	enc := base64.RawURLEncoding
	keyID, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	payload, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	sig, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}

	secret, ok := s.keys[string(keyID)]
	if !ok {
		return nil, ErrUnknownKey
	}
	if !hmac.Equal(sig, sign(secret, payload)) {
		return nil, ErrBadSignature
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrBadPayload
	}
	if claims.ExpiresAt <= s.now().Unix() {
		return nil, ErrExpired
	}
	if claims.Subject != expect.Subject {
		return nil, ErrSubjectMismatch
	}
	if claims.Scope != expect.Scope {
		return nil, ErrScopeMismatch
	}
	if expect.Version != nil && claims.Version != *expect.Version {
		return nil, ErrVersionMismatch
	}
	return &claims, nil
}

func sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

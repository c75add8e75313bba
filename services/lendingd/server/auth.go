package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey is the header containing the caller's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature for the request.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	defaultTimestampSkew = 2 * time.Minute
	defaultNonceWindow   = 10 * time.Minute
)

// Principal represents an authenticated API client.
type Principal struct {
	APIKey string
}

// Authenticator verifies API key + HMAC signatures on incoming requests. A
// nonce cache bounds replay within the timestamp skew window.
type Authenticator struct {
	secrets              map[string]string
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nowFn                func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]time.Time
}

// NewAuthenticator builds an Authenticator keyed by the provided secrets. The
// map should contain API key identifiers mapped to their shared secret.
func NewAuthenticator(secrets map[string]string, skew, nonceTTL time.Duration, nowFn func() time.Time) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceWindow
	}
	return &Authenticator{
		secrets:              cloned,
		allowedTimestampSkew: skew,
		nonceTTL:             nonceTTL,
		nowFn:                nowFn,
		nonces:               make(map[string]time.Time),
	}
}

// Authenticate validates headers and signature, returning the caller principal.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	if len(body) > MaxBodyForSignature {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxBodyForSignature)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if apiKey == "" {
		return nil, errors.New("missing X-Api-Key header")
	}
	secret, ok := a.secrets[apiKey]
	if !ok || secret == "" {
		return nil, errors.New("unknown API key")
	}
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if timestampHeader == "" {
		return nil, errors.New("missing X-Timestamp header")
	}
	seconds, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.nowFn().UTC()
	skew := now.Sub(time.Unix(seconds, 0).UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > a.allowedTimestampSkew {
		return nil, fmt.Errorf("timestamp outside allowed skew of %s", a.allowedTimestampSkew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return nil, errors.New("missing X-Nonce header")
	}
	providedSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if providedSig == "" {
		return nil, errors.New("missing X-Signature header")
	}
	expected := ComputeSignature(secret, timestampHeader, nonce, r.Method, r.URL.Path, body)
	providedBytes, err := hex.DecodeString(providedSig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(providedBytes, expected) {
		return nil, errors.New("invalid signature")
	}
	if a.registerNonce(apiKey, timestampHeader, nonce, now) {
		return nil, errors.New("nonce already used")
	}
	return &Principal{APIKey: apiKey}, nil
}

// registerNonce reports whether the nonce was already seen inside the TTL
// window, recording it otherwise. Expired entries are pruned on the way.
func (a *Authenticator) registerNonce(apiKey, timestamp, nonce string, now time.Time) bool {
	key := apiKey + "|" + timestamp + "|" + nonce
	cutoff := now.Add(-a.nonceTTL)

	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	for seen, at := range a.nonces {
		if at.Before(cutoff) {
			delete(a.nonces, seen)
		}
	}
	if _, dup := a.nonces[key]; dup {
		return true
	}
	a.nonces[key] = now
	return false
}

// ComputeSignature derives the HMAC-SHA256 request signature clients must
// present: HMAC(secret, timestamp|nonce|METHOD|path|body).
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("|"))
	mac.Write([]byte(nonce))
	mac.Write([]byte("|"))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte("|"))
	mac.Write([]byte(path))
	mac.Write([]byte("|"))
	mac.Write(body)
	return mac.Sum(nil)
}

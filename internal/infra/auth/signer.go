// Package auth provides unforgeable caller identity for the HTTP API.
// Requests are signed with a per-identity shared secret:
//
//	sign = base64(HMAC-SHA256(secret, timestamp + method + path + body))
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"auction_go/internal/domain"
)

const (
	HeaderIdentity  = "X-Auction-Identity"
	HeaderTimestamp = "X-Auction-Timestamp"
	HeaderSign      = "X-Auction-Sign"
)

var (
	ErrMissingHeaders  = errors.New("missing signature headers")
	ErrUnknownIdentity = errors.New("unknown identity")
	ErrStaleTimestamp  = errors.New("timestamp outside signature window")
	ErrBadSignature    = errors.New("signature mismatch")
	ErrReplayed        = errors.New("signature already used")
)

// Signer signs requests on behalf of one identity.
type Signer struct {
	identity domain.Identity
	secret   string
	now      func() time.Time

	mu     sync.Mutex
	lastMs int64
}

// NewSigner creates a new Signer instance
func NewSigner(identity domain.Identity, secret string) *Signer {
	return &Signer{identity: identity, secret: secret, now: time.Now}
}

// GenerateHeaders creates the necessary headers for a request
// method: GET, POST, etc.
// path: /v1/bids (no host, no query)
// body: json string (empty if none)
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	// Unix Timestamp in Milliseconds, strictly increasing per signer
	timestamp := strconv.FormatInt(s.nextMillis(), 10)

	return map[string]string{
		HeaderIdentity:  string(s.identity),
		HeaderTimestamp: timestamp,
		HeaderSign:      computeHmacSha256(timestamp+method+path+body, s.secret),
		"Content-Type":  "application/json",
	}
}

func (s *Signer) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms
	return ms
}

// Sign sets the signature headers on req. body must be the exact request body.
func (s *Signer) Sign(req *http.Request, body []byte) {
	for k, v := range s.GenerateHeaders(req.Method, req.URL.Path, string(body)) {
		req.Header.Set(k, v)
	}
}

// Verifier checks request signatures against the configured secrets.
// A signature is accepted once; it is remembered until its timestamp leaves the window.
type Verifier struct {
	secrets map[domain.Identity]string
	window  time.Duration
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // identity|timestamp|sign -> expiry
}

// NewVerifier accepts signatures whose timestamp is within window of the local clock.
func NewVerifier(secrets map[string]string, window time.Duration) *Verifier {
	m := make(map[domain.Identity]string, len(secrets))
	for id, secret := range secrets {
		m[domain.Identity(id)] = secret
	}
	return &Verifier{secrets: m, window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// Verify returns the authenticated caller of r.
func (v *Verifier) Verify(r *http.Request, body []byte) (domain.Identity, error) {
	id := domain.Identity(r.Header.Get(HeaderIdentity))
	ts := r.Header.Get(HeaderTimestamp)
	sign := r.Header.Get(HeaderSign)
	if !id.Valid() || ts == "" || sign == "" {
		return "", ErrMissingHeaders
	}

	secret, ok := v.secrets[id]
	if !ok {
		return "", ErrUnknownIdentity
	}

	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", ErrMissingHeaders
	}
	skew := v.now().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if v.window > 0 && skew > v.window {
		return "", ErrStaleTimestamp
	}

	expected := computeHmacSha256(ts+r.Method+r.URL.Path+string(body), secret)
	if !hmac.Equal([]byte(expected), []byte(sign)) {
		return "", ErrBadSignature
	}
	if !v.remember(string(id)+"|"+ts+"|"+sign, time.UnixMilli(ms)) {
		return "", ErrReplayed
	}
	return id, nil
}

// remember records key and reports whether it was new. Expired keys are pruned.
func (v *Verifier) remember(key string, signedAt time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	for k, exp := range v.seen {
		if v.window > 0 && now.After(exp) {
			delete(v.seen, k)
		}
	}
	if _, dup := v.seen[key]; dup {
		return false
	}
	v.seen[key] = signedAt.Add(v.window)
	return true
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

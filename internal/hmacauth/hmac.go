// Package hmacauth signs and verifies relayer requests with an HMAC-SHA256
// over the request timestamp and body.
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultSignatureHeader = "X-Relayer-Signature"
	DefaultTimestampHeader = "X-Relayer-Timestamp"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// Sign returns the hex encoded HMAC of timestamp followed by body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier rejects requests whose signature does not match Secret. An empty
// Secret disables verification.
type Verifier struct {
	Secret          string
	MaxSkew         time.Duration
	Now             func() time.Time
	SignatureHeader string
	TimestampHeader string
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Verify checks r and leaves its body readable for the next handler.
func (v *Verifier) Verify(r *http.Request) error {
	if v.Secret == "" {
		return nil
	}

	sig := r.Header.Get(headerOr(v.SignatureHeader, DefaultSignatureHeader))
	if sig == "" {
		return ErrMissingSignature
	}
	tsHeader := r.Header.Get(headerOr(v.TimestampHeader, DefaultTimestampHeader))
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.MaxSkew {
		return ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return err
	}
	expected := Sign(v.Secret, tsHeader, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Signer adds signature headers to outgoing requests.
type Signer struct {
	Secret          string
	Now             func() time.Time
	SignatureHeader string
	TimestampHeader string
}

// SignRequest sets the timestamp and signature headers for body. body must
// be the exact bytes sent as the request body.
func (s *Signer) SignRequest(r *http.Request, body []byte) {
	if s.Secret == "" {
		return
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	r.Header.Set(headerOr(s.TimestampHeader, DefaultTimestampHeader), ts)
	r.Header.Set(headerOr(s.SignatureHeader, DefaultSignatureHeader), Sign(s.Secret, ts, body))
}

func headerOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// Package signature authenticates inbound provider webhooks.
//
// Every verifier follows the same contract: an empty secret disables
// verification for that provider (local and dev setups), a configured secret
// makes any mismatch fatal. Schemes that carry a timestamp are also checked
// against ReplayWindow regardless of signature validity.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow bounds how far a signed timestamp may drift from now.
const ReplayWindow = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("signature headers missing")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("request timestamp outside replay window")
	ErrInvalidSecret    = errors.New("configured secret is unusable")
)

// Verifier checks a raw request body and headers against a shared secret.
type Verifier interface {
	Verify(body []byte, header http.Header, secret string) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(body []byte, header http.Header, secret string) error

func (f VerifierFunc) Verify(body []byte, header http.Header, secret string) error {
	return f(body, header, secret)
}

// Clock returns the current time; nil means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

func checkWindow(now, ts time.Time) error {
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	if diff > ReplayWindow {
		return fmt.Errorf("%w: %s", ErrStaleTimestamp, diff.Round(time.Second))
	}
	return nil
}

func parseUnixSeconds(raw string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, raw)
	}
	return time.Unix(sec, 0), nil
}

func parseUnixMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, raw)
	}
	return time.UnixMilli(ms), nil
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Package webhook ingests provider delivery events: admission control,
// signature verification, payload normalization, deduplication, and
// dispatch into the delivery state machine.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when a payload fails HMAC verification.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Verifier checks inbound payload signatures against a shared secret.
// With no secret configured, verification is disabled and every payload
// passes. With mandatory set, payloads without a signature are rejected.
type Verifier struct {
	secret    []byte
	mandatory bool
}

// NewVerifier builds a verifier. An empty secret disables verification.
func NewVerifier(secret string, mandatory bool) *Verifier {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Verifier{secret: key, mandatory: mandatory}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Verify checks the HMAC-SHA256 of the raw payload bytes against the
// provided signature. The signature is hex, with an optional "sha256="
// prefix. Comparison is constant time.
func (v *Verifier) Verify(payload []byte, signature string) error {
	if len(v.secret) == 0 {
		return nil
	}

	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")

	if signature == "" {
		if v.mandatory {
			return ErrInvalidSignature
		}
		return nil
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of payload with the verifier's secret.
// Used by tests and by outbound event forwarding.
func (v *Verifier) Sign(payload []byte) string {
	if len(v.secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

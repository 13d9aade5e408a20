package webhook

import (
	"errors"
	"testing"
)

func TestVerifyValidSignature(t *testing.T) {
	v := NewVerifier("topsecret", true)
	payload := []byte(`{"event":"delivered"}`)

	sig := v.Sign(payload)
	if err := v.Verify(payload, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := v.Verify(payload, "sha256="+sig); err != nil {
		t.Fatalf("prefixed signature rejected: %v", err)
	}
}

func TestVerifyInvalidSignature(t *testing.T) {
	v := NewVerifier("topsecret", true)
	payload := []byte(`{"event":"delivered"}`)

	tests := []string{
		NewVerifier("wrongsecret", true).Sign(payload),
		"deadbeef",
		"not-even-hex",
	}
	for _, sig := range tests {
		if err := v.Verify(payload, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidSignature", sig, err)
		}
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	v := NewVerifier("topsecret", true)
	sig := v.Sign([]byte(`{"event":"delivered"}`))

	if err := v.Verify([]byte(`{"event":"bounced"}`), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered payload accepted: %v", err)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	payload := []byte(`{}`)

	mandatory := NewVerifier("topsecret", true)
	if err := mandatory.Verify(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("mandatory verifier accepted missing signature: %v", err)
	}

	optional := NewVerifier("topsecret", false)
	if err := optional.Verify(payload, ""); err != nil {
		t.Errorf("optional verifier rejected missing signature: %v", err)
	}
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	v := NewVerifier("", true)
	if v.Enabled() {
		t.Error("verifier with empty secret reports enabled")
	}
	if err := v.Verify([]byte(`{}`), "garbage"); err != nil {
		t.Errorf("disabled verifier rejected payload: %v", err)
	}
}

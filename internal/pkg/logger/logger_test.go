package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane.doe@example.com", "ja***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogRedactsEmailFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Info("webhook received", "email", "jane.doe@example.com", "provider", "mailgun")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["email"] != "ja***@example.com" {
		t.Errorf("email not redacted: %q", entry["email"])
	}
	if entry["provider"] != "mailgun" {
		t.Errorf("provider field mangled: %q", entry["provider"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("unexpected level %q", entry["level"])
	}
}

func TestLogRedactsEmbeddedEmails(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Warn("bounce", "reason", "550 user jane.doe@example.com unknown")

	if strings.Contains(buf.String(), "jane.doe@example.com") {
		t.Errorf("embedded email leaked: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(WARN)
	defer func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
	}()

	Debug("should not appear")
	Info("should not appear")
	Warn("should appear")

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if buf.Len() == 0 || lines != 1 {
		t.Errorf("expected exactly 1 log line, got output: %q", buf.String())
	}
}

package redact

import (
	"strings"
	"testing"
)

func TestTextBearerToken(t *testing.T) {
	got := Text("Authorization: Bearer abc123.def-456")
	if strings.Contains(got, "abc123") {
		t.Errorf("bearer token leaked: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("expected placeholder in %q", got)
	}
}

func TestTextKeyValueAssignments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		leak  string
	}{
		{"api key equals", "api_key=sk-live-12345", "sk-live-12345"},
		{"token colon", `token: "tok.abc"`, "tok.abc"},
		{"password quoted", `password='hunter2'`, "hunter2"},
		{"case insensitive", "API-KEY: XYZZY", "XYZZY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.input)
			if strings.Contains(got, tt.leak) {
				t.Errorf("Text(%q) = %q, secret leaked", tt.input, got)
			}
		})
	}
}

func TestTextLeavesPlainTextAlone(t *testing.T) {
	input := "scanned 14 endpoints under /api/v1"
	if got := Text(input); got != input {
		t.Errorf("Text(%q) = %q, want unchanged", input, got)
	}
}

func TestValueRedactsSecretKeys(t *testing.T) {
	in := map[string]any{
		"phase":   "recon",
		"api_key": "sk-live-99",
		"nested": map[string]any{
			"Password": "hunter2",
			"note":     "token=abc123",
		},
		"list": []any{"bearer xyz", 42},
	}

	out, ok := Value(in).(map[string]any)
	if !ok {
		t.Fatal("Value should return a map for map input")
	}

	if out["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want [REDACTED]", out["api_key"])
	}
	nested := out["nested"].(map[string]any)
	if nested["Password"] != "[REDACTED]" {
		t.Errorf("nested Password = %v, want [REDACTED]", nested["Password"])
	}
	if strings.Contains(nested["note"].(string), "abc123") {
		t.Errorf("note leaked token: %v", nested["note"])
	}
	list := out["list"].([]any)
	if strings.Contains(list[0].(string), "xyz") {
		t.Errorf("list leaked bearer token: %v", list[0])
	}
	if list[1] != 42 {
		t.Errorf("non-string list element changed: %v", list[1])
	}
	if out["phase"] != "recon" {
		t.Errorf("phase = %v, want recon", out["phase"])
	}
}

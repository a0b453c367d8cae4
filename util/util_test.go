package util

import (
	"strings"
	"testing"
)

func TestGeneratePemKeypair(t *testing.T) {
	pair, err := GeneratePemKeypair()
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}

	if !strings.Contains(pair.Private, "RSA PRIVATE KEY") {
		t.Error("Expected PKCS#1 private key PEM")
	}
	if !strings.Contains(pair.Public, "PUBLIC KEY") {
		t.Error("Expected PKIX public key PEM")
	}

	// Two calls must not produce the same key
	pair2, err := GeneratePemKeypair()
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}
	if pair.Private == pair2.Private {
		t.Error("Expected distinct key pairs")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "actor uri",
			input:    "https://mastodon.social/users/alice",
			expected: "mastodon.social",
		},
		{
			name:     "upper-case host is folded",
			input:    "https://Mastodon.Social/users/alice",
			expected: "mastodon.social",
		},
		{
			name:     "port is stripped",
			input:    "https://example.com:8443/inbox",
			expected: "example.com",
		},
		{
			name:    "no host",
			input:   "/users/alice",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractDomain(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractDomain(%q) failed: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	if got := NormalizeDomain("  Bad.Example.COM "); got != "bad.example.com" {
		t.Errorf("Expected 'bad.example.com', got %q", got)
	}
	if got := NormalizeDomain("already.lower"); got != "already.lower" {
		t.Errorf("Expected 'already.lower', got %q", got)
	}
}

func TestExtractUsername(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://example.com/users/alice", "alice"},
		{"https://example.com/@alice", "alice"},
		{"https://example.com/users/alice/", "alice"},
		{"alice", "alice"},
	}

	for _, tt := range tests {
		if got := ExtractUsername(tt.input); got != tt.expected {
			t.Errorf("ExtractUsername(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeInput(t *testing.T) {
	got := NormalizeInput("hello\nworld")
	if got != "hello world" {
		t.Errorf("Expected newlines flattened, got %q", got)
	}

	got = NormalizeInput("<script>alert(1)</script>")
	if strings.Contains(got, "<script>") {
		t.Errorf("Expected HTML escaped, got %q", got)
	}
}

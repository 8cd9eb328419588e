package auth

import "testing"

func TestHashAndVerifyToken(t *testing.T) {
	t.Parallel()

	hash, err := HashToken("ingest-secret-123")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !VerifyToken("ingest-secret-123", hash) {
		t.Fatalf("expected token verification to succeed")
	}
	if VerifyToken("wrong-token", hash) {
		t.Fatalf("did not expect wrong token to verify")
	}
}

func TestHashTokenRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := HashToken("   "); err == nil {
		t.Fatalf("expected empty token to error")
	}
}

func TestParseBearer(t *testing.T) {
	t.Parallel()

	if got := ParseBearer("Bearer abc123"); got != "abc123" {
		t.Fatalf("unexpected token: %q", got)
	}
	if got := ParseBearer("bearer abc123"); got != "abc123" {
		t.Fatalf("expected case-insensitive scheme, got %q", got)
	}
	if got := ParseBearer("Basic abc123"); got != "" {
		t.Fatalf("did not expect non-bearer scheme to parse, got %q", got)
	}
	if got := ParseBearer(""); got != "" {
		t.Fatalf("expected empty header to yield empty token, got %q", got)
	}
}

package auth

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	h1 := HashKey("hunter2")
	h2 := HashKey("hunter2")
	if h1 != h2 {
		t.Fatalf("HashKey not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
	if HashKey("other") == h1 {
		t.Fatal("different passwords hashed to the same value")
	}
}

func TestHashPasswordArgon2idAndVerify(t *testing.T) {
	hash, err := HashPasswordArgon2id("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPasswordArgon2id returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected PHC-formatted hash, got %q", hash)
	}

	match, err := VerifyKey("correct-horse-battery-staple", hash)
	if err != nil {
		t.Fatalf("VerifyKey returned error: %v", err)
	}
	if !match {
		t.Fatal("expected matching password to verify")
	}

	match, err = VerifyKey("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyKey returned error: %v", err)
	}
	if match {
		t.Fatal("expected non-matching password to fail verification")
	}
}

func TestVerifyKeySHA256Prefixed(t *testing.T) {
	hash := "sha256:" + HashKey("hunter2")

	match, err := VerifyKey("hunter2", hash)
	if err != nil {
		t.Fatalf("VerifyKey returned error: %v", err)
	}
	if !match {
		t.Fatal("expected matching password to verify against sha256-prefixed hash")
	}

	match, err = VerifyKey("wrong", hash)
	if err != nil {
		t.Fatalf("VerifyKey returned error: %v", err)
	}
	if match {
		t.Fatal("expected mismatch to fail")
	}
}

func TestVerifyKeyLegacyBareHex(t *testing.T) {
	hash := HashKey("hunter2")

	match, err := VerifyKey("hunter2", hash)
	if err != nil {
		t.Fatalf("VerifyKey returned error: %v", err)
	}
	if !match {
		t.Fatal("expected matching password to verify against bare hex hash")
	}
}

func TestVerifyKeyUnknownHashType(t *testing.T) {
	_, err := VerifyKey("hunter2", "not-a-real-hash")
	if err != ErrUnknownHashType {
		t.Fatalf("expected ErrUnknownHashType, got %v", err)
	}
}

func TestDetectHashType(t *testing.T) {
	cases := map[string]string{
		"$argon2id$v=19$m=47104,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g":           "argon2id",
		"sha256:" + HashKey("x"):                                          "sha256",
		HashKey("x"):                                                      "sha256",
		"garbage":                                                         "unknown",
	}
	for input, want := range cases {
		if got := DetectHashType(input); got != want {
			t.Errorf("DetectHashType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSafeArgon2idCompareMalformedHash(t *testing.T) {
	match, err := VerifyKey("hunter2", "$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA")
	if err == nil {
		t.Fatal("expected error for malformed argon2id parameters")
	}
	if match {
		t.Fatal("expected no match on error")
	}
}

package auth

import (
	"strings"
	"testing"
)

func TestHashRecoveryCodeRoundTrip(t *testing.T) {
	hash, err := HashRecoveryCode("ABCDEFGHJKLM")
	if err != nil {
		t.Fatalf("HashRecoveryCode: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash = %q, want $argon2id$ prefix", hash)
	}
	if !VerifyRecoveryCodeHash("ABCDEFGHJKLM", hash) {
		t.Error("correct code must verify")
	}
	if VerifyRecoveryCodeHash("ABCDEFGHJKLN", hash) {
		t.Error("wrong code must not verify")
	}
	if VerifyRecoveryCodeHash("", hash) {
		t.Error("empty code must not verify")
	}
}

func TestHashRecoveryCodeSalted(t *testing.T) {
	a, err := HashRecoveryCode("ABCDEFGHJKLM")
	if err != nil {
		t.Fatalf("HashRecoveryCode: %v", err)
	}
	b, err := HashRecoveryCode("ABCDEFGHJKLM")
	if err != nil {
		t.Fatalf("HashRecoveryCode: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same code must differ (random salt)")
	}
}

func TestVerifyRecoveryCodeHashMalformed(t *testing.T) {
	malformed := []string{
		"",
		"not a hash",
		"$argon2id$v=19$m=65536,t=1,p=4$short",
		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA",
	}
	for _, h := range malformed {
		if VerifyRecoveryCodeHash("ABCDEFGHJKLM", h) {
			t.Errorf("malformed hash %q must not verify", h)
		}
	}
}

package team

import (
	"regexp"
	"testing"
)

func TestGenerateInviteCodeShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{8}$`)
	for i := 0; i < 100; i++ {
		code, err := GenerateInviteCode()
		if err != nil {
			t.Fatalf("GenerateInviteCode() error: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("code %q is not 8 uppercase alphanumeric characters", code)
		}
	}
}

func TestGenerateInviteCodeAvoidsAmbiguousCharacters(t *testing.T) {
	banned := regexp.MustCompile(`[0O1I]`)
	for i := 0; i < 100; i++ {
		code, _ := GenerateInviteCode()
		if banned.MatchString(code) {
			t.Fatalf("code %q contains an ambiguous character", code)
		}
	}
}

func TestGenerateInviteCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, _ := GenerateInviteCode()
		seen[code] = true
	}
	// 100 draws from a 32^8 space colliding down to a handful would mean
	// the generator is broken.
	if len(seen) < 90 {
		t.Fatalf("only %d distinct codes in 100 draws", len(seen))
	}
}

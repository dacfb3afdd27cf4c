package models

import "testing"

func TestDisplayName(t *testing.T) {
	u := User{FirstName: "Ann", LastName: "Lee"}
	if got := u.DisplayName(); got != "Ann Lee" {
		t.Fatalf("DisplayName() = %q, want %q", got, "Ann Lee")
	}
}

func TestDisplayNameWithoutLastName(t *testing.T) {
	u := User{FirstName: "Ann"}
	if got := u.DisplayName(); got != "Ann" {
		t.Fatalf("DisplayName() = %q, want %q (no trailing space)", got, "Ann")
	}
}

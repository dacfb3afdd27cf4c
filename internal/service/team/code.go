package team

import (
	"crypto/rand"
)

// codeAlphabet is uppercase alphanumeric with 0/O and 1/I removed so codes
// survive being read aloud or retyped from a screenshot.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength is the invite code length.
const codeLength = 8

// GenerateInviteCode returns a short opaque invite code. Uniqueness is
// enforced by the database index, not here.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

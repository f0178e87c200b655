package models

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// idPattern matches the opaque 24-hex identifiers used for all records.
var idPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// NewID mints an opaque 24-character lowercase hex identifier.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ValidID reports whether s is a well-formed record identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

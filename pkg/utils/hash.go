package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// HashParts hashes the parts joined by "|".
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "|"))
}

package store

import (
	"crypto/sha256"
	"fmt"
)

// Fingerprint returns the hex SHA-256 of a file's raw bytes. It is stable
// across runs and platforms for identical content.
func Fingerprint(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

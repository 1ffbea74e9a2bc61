// Package idempotency derives the token receivers use to collapse duplicate deliveries.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// KeyLength is the length of a derived key (hex-encoded SHA-256).
const KeyLength = sha256.Size * 2

// releaseLayout is ISO-8601 in UTC with millisecond precision.
const releaseLayout = "2006-01-02T15:04:05.000Z"

// Key returns the idempotency key for one delivery obligation of a note.
// A replay resets releaseAt and therefore yields a new key.
func Key(noteID string, releaseAt time.Time) string {
	sum := sha256.Sum256([]byte(noteID + ":" + releaseAt.UTC().Format(releaseLayout)))
	return hex.EncodeToString(sum[:])
}

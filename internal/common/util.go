package common

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/awnumar/memguard"
)

// TimestampLayout is the ISO-8601 layout used for created/lastModified
// stamps: UTC with millisecond precision, e.g. 2025-11-26T10:00:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// MakeRandHexString generates size random bytes and returns them hex-encoded,
// so the resulting string is 2*size characters long.
//
// It returns an error if the random number generator fails.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray overwrites b with zeros. Used for derived keys and decoded
// passwords once they are no longer needed. A nil slice is a no-op.
func WipeByteArray(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}

package httpx

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// genID returns n random bytes hex encoded, never all zeros.
func genID(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil || allZero(b) {
		// Fallback to timestamp-based ID if rand fails (unlikely)
		t := time.Now().UnixNano() | 1
		for i := range b {
			b[i] = byte(t >> (uint(i%8) * 8))
		}
	}
	return hex.EncodeToString(b)
}

func newRequestID() string { return genID(8) }
func newTraceID() string   { return genID(16) }
func newSpanID() string    { return genID(8) }

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

package httpx

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"
)

var idFallback atomic.Uint64

// genID returns 16 random bytes in hex, used as a per-request identifier.
func genID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	// Fallback to a timestamp plus counter if rand fails (unlikely).
	t := uint64(time.Now().UnixNano())
	n := idFallback.Add(1)
	for i := 0; i < 8; i++ {
		b[i] = byte(t >> (uint(i) * 8))
		b[8+i] = byte(n >> (uint(i) * 8))
	}
	return hex.EncodeToString(b[:])
}

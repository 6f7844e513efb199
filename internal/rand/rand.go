// Package rand generates short random identifiers for sessions.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	mut sync.Mutex
	rng = newRNG()
)

func newRNG() *rand.Rand {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}
	//nolint:gosec // identifiers, not secrets
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// String returns a random identifier of the given length drawn from a
// base62 charset.
func String(length int) string {
	buf := make([]byte, length)
	mut.Lock()
	for i := range buf {
		buf[i] = charset[rng.IntN(len(charset))]
	}
	mut.Unlock()
	return string(buf)
}

// IntN returns a uniform random int in [0, n).
func IntN(n int) int {
	mut.Lock()
	defer mut.Unlock()
	return rng.IntN(n)
}

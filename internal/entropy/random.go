// Package entropy provides fresh seeds when a city is founded without one.
// Everything after founding draws from the city's own seeded source.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"
)

// Seed returns a random non-zero int64 from crypto/rand, falling back to the
// clock if the system source is unavailable.
func Seed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		slog.Warn("crypto/rand unavailable, seeding from clock", "error", err)
		return nonZero(time.Now().UnixNano())
	}
	// Keep it positive so it survives round trips through flags and YAML.
	return nonZero(int64(binary.LittleEndian.Uint64(buf[:]) >> 1))
}

// SeedOr returns seed unless it is zero, in which case it draws a fresh one.
func SeedOr(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return Seed()
}

func nonZero(n int64) int64 {
	if n == 0 {
		return 1
	}
	return n
}

// Package rng provides the run's deterministic random stream with position
// tracking, enabling save/restore and byte-identical replay. Every draw
// consumes exactly one source value, so restoring is a fixed-cost
// fast-forward regardless of which draw operations were made.
package rng

import (
	"hash/fnv"
	"math/rand"
)

// Stream wraps math/rand.Rand with deterministic position tracking.
// It is never reseeded implicitly; position advances monotonically.
type Stream struct {
	seed int64
	src  *rand.Rand
	pos  int64
}

// New creates a stream from a seed.
func New(seed int64) *Stream {
	return &Stream{seed: seed, src: rand.New(rand.NewSource(seed))}
}

// SeedFor derives a stable seed from the game and run identity.
func SeedFor(gameID, runID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(gameID))
	h.Write([]byte{0})
	h.Write([]byte(runID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// draw consumes exactly one source value.
func (s *Stream) draw() int64 {
	s.pos++
	return s.src.Int63()
}

// Bernoulli draws once and reports success with probability p.
// p <= 0 never succeeds and p >= 1 always succeeds, but the draw is
// still consumed to keep replay positions stable.
func (s *Stream) Bernoulli(p float64) bool {
	v := float64(s.draw()) / (1 << 63)
	return v < p
}

// Intn draws once and returns a value in [0, n). n <= 0 returns 0.
func (s *Stream) Intn(n int) int {
	v := s.draw()
	if n <= 0 {
		return 0
	}
	return int(v % int64(n))
}

// WeightedSelect draws once and returns an index chosen by weight.
// Non-positive weights are treated as zero; an all-zero list returns
// the last index.
func (s *Stream) WeightedSelect(weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	roll := s.Intn(total)
	cumulative := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		if roll < cumulative {
			return i
		}
	}
	return len(weights) - 1
}

// Seed returns the stream's seed.
func (s *Stream) Seed() int64 { return s.seed }

// Position returns the number of draws made since creation.
func (s *Stream) Position() int64 { return s.pos }

// Restore creates a stream and advances it to the given position,
// reproducing the exact stream state for save/load.
func Restore(seed int64, position int64) *Stream {
	s := New(seed)
	for i := int64(0); i < position; i++ {
		s.src.Int63()
	}
	s.pos = position
	return s
}

// Package clock issues the updated_at stamps for record mutations. Stamps
// are integer milliseconds, strictly increasing per owner, so readers can
// treat updated_at as the sole sort key and sync cursors never observe the
// same value twice.
package clock

import (
	"sync"
	"time"
)

// Stamper allocates per-owner monotonic timestamps. Two mutations of the
// same owner's data never receive the same stamp, even within one
// millisecond: closely-related inserts (a user message and its assistant
// placeholder) call NextN and get a consecutive run, which fixes their
// relative order deterministically.
type Stamper struct {
	mu   sync.Mutex
	last map[string]int64
	now  func() int64
}

// New returns a Stamper backed by the wall clock.
func New() *Stamper {
	return &Stamper{
		last: make(map[string]int64),
		now:  func() int64 { return time.Now().UnixMilli() },
	}
}

// NewWithNow returns a Stamper using a custom millisecond source (tests).
func NewWithNow(now func() int64) *Stamper {
	return &Stamper{last: make(map[string]int64), now: now}
}

// Next returns the next stamp for owner: max(now, last+1).
func (s *Stamper) Next(owner string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked(owner)
}

// NextN reserves n consecutive stamps for owner and returns them ascending.
func (s *Stamper) NextN(owner string, n int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, n)
	for i := range out {
		out[i] = s.nextLocked(owner)
	}
	return out
}

// Observe records a stamp seen elsewhere (e.g. the max updated_at loaded
// from the store at startup) so subsequent allocations stay above it.
func (s *Stamper) Observe(owner string, stamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp > s.last[owner] {
		s.last[owner] = stamp
	}
}

func (s *Stamper) nextLocked(owner string) int64 {
	t := s.now()
	if last := s.last[owner]; t <= last {
		t = last + 1
	}
	s.last[owner] = t
	return t
}

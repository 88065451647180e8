package store

import "time"

// sequencer hands out strictly increasing timestamps at microsecond
// precision. A clock that has not moved, or moved backwards, is bumped
// past the previous value so that since-cursors never skip a message.
// Callers hold the store's write lock.
type sequencer struct {
	now  func() time.Time
	last time.Time
}

func newSequencer(now func() time.Time, last time.Time) *sequencer {
	if now == nil {
		now = time.Now
	}
	return &sequencer{now: now, last: last}
}

func (s *sequencer) next() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

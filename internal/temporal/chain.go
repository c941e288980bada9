// Package temporal holds the version-chain rules shared by employee
// scope history and compensation history. A subject's chain is a list
// of effective windows where exactly one window is open (effective_to
// IS NULL) at any time.
package temporal

import (
	"errors"
	"time"
)

var (
	// ErrAmbiguousChain reports two or more open windows for one
	// subject. The chain is corrupt; callers must fail the operation
	// rather than guess which window wins.
	ErrAmbiguousChain = errors.New("temporal: multiple active versions for subject")

	// ErrOverlap reports a new window that would overlap the active one.
	ErrOverlap = errors.New("temporal: effective window overlaps active version")
)

// Window is an effective period. A nil EffectiveTo means the window is
// still open.
type Window struct {
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// Open reports whether the window has no upper bound yet.
func (w Window) Open() bool { return w.EffectiveTo == nil }

// ContainsDate reports whether the calendar date falls inside a
// date-grained window. The upper bound is inclusive: a compensation
// version closed on the 14th still covers the 14th.
func (w Window) ContainsDate(at time.Time) bool {
	if at.Before(w.EffectiveFrom) {
		return false
	}
	return w.EffectiveTo == nil || !at.After(*w.EffectiveTo)
}

// ContainsInstant reports whether the instant falls inside an
// instant-grained window. The upper bound is exclusive: a scope version
// closed at T no longer covers T.
func (w Window) ContainsInstant(at time.Time) bool {
	if at.Before(w.EffectiveFrom) {
		return false
	}
	return w.EffectiveTo == nil || at.Before(*w.EffectiveTo)
}

// One enforces the single-active-version invariant over the rows a
// repository returned for one subject. Zero rows yield (nil, nil);
// the caller decides whether absence is an error. Two or more rows
// yield ErrAmbiguousChain.
func One[T any](rows []T) (*T, error) {
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, ErrAmbiguousChain
	}
}

// CheckSucceeds verifies that a new window starting at from may close
// and succeed the active window. The new start must be strictly after
// the active start, otherwise closing the active window with
// DayBefore(from) would produce an inverted or empty period.
func CheckSucceeds(active Window, from time.Time) error {
	if !from.After(active.EffectiveFrom) {
		return ErrOverlap
	}
	return nil
}

// DayBefore returns the calendar day preceding t, used to close a
// date-grained window when its successor starts at t.
func DayBefore(t time.Time) time.Time {
	return t.AddDate(0, 0, -1)
}

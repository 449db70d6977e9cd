package domain

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the calendar date format used in config, flags and logs.
	DateLayout = "2006-01-02"

	// DefaultMaxWindowDays caps the span of a single extraction request.
	DefaultMaxWindowDays = 365
)

// EarliestHistory is the first date the provider serves data for.
var EarliestHistory = time.Date(2009, time.January, 1, 0, 0, 0, 0, time.UTC)

// ExtractionWindow is an inclusive range of calendar dates (UTC).
type ExtractionWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewWindow builds a window from two YYYY-MM-DD strings.
func NewWindow(from, to string) (ExtractionWindow, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return ExtractionWindow{}, fmt.Errorf("%w: from date %q: %v", ErrValidation, from, err)
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return ExtractionWindow{}, fmt.Errorf("%w: to date %q: %v", ErrValidation, to, err)
	}
	return ExtractionWindow{From: f, To: t}, nil
}

// Days returns the number of calendar days covered, both ends included.
func (w ExtractionWindow) Days() int {
	return int(TruncateDay(w.To).Sub(TruncateDay(w.From)).Hours()/24) + 1
}

// Validate checks the window against the clock and the span limit.
func (w ExtractionWindow) Validate(now time.Time, maxDays int) error {
	from, to := TruncateDay(w.From), TruncateDay(w.To)
	today := TruncateDay(now)

	switch {
	case w.From.IsZero() || w.To.IsZero():
		return fmt.Errorf("%w: window dates must be set", ErrValidation)
	case from.After(to):
		return fmt.Errorf("%w: from %s is after to %s", ErrValidation, w.FromString(), w.ToString())
	case to.After(today):
		return fmt.Errorf("%w: to %s is in the future", ErrValidation, w.ToString())
	case from.Before(EarliestHistory):
		return fmt.Errorf("%w: from %s precedes %s", ErrValidation, w.FromString(), EarliestHistory.Format(DateLayout))
	case maxDays > 0 && w.Days() > maxDays:
		return fmt.Errorf("%w: window spans %d days, max %d", ErrValidation, w.Days(), maxDays)
	}
	return nil
}

// FromString formats the start date.
func (w ExtractionWindow) FromString() string { return w.From.Format(DateLayout) }

// ToString formats the end date.
func (w ExtractionWindow) ToString() string { return w.To.Format(DateLayout) }

func (w ExtractionWindow) String() string {
	return w.FromString() + ".." + w.ToString()
}

// TruncateDay returns midnight UTC of t's UTC date.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

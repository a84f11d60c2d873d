package models

import (
	"fmt"
	"time"
)

// Window is a trading window [Start, End) in which delivery is scheduled
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow returns the window starting at start with the given length
func NewWindow(start time.Time, length time.Duration) (Window, error) {
	w := Window{Start: start.UTC(), End: start.UTC().Add(length)}
	if !w.Start.Before(w.End) {
		return Window{}, fmt.Errorf("window %s: start must precede end", start)
	}
	return w, nil
}

// WindowAt returns the aligned window of the given length containing t
func WindowAt(t time.Time, length time.Duration) Window {
	start := t.UTC().Truncate(length)
	return Window{Start: start, End: start.Add(length)}
}

// Closed reports whether no new orders are accepted at now
func (w Window) Closed(now time.Time) bool {
	return !now.Before(w.End)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Valid() bool {
	return !w.Start.IsZero() && w.Start.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s/%s", w.Start.Format(time.RFC3339), w.End.Sub(w.Start))
}

// BookKey identifies the single order book of a (zone, window) pair. It
// keys on the window start alone, which is unique only because every window
// of an exchange has the same length and is aligned by WindowAt.
type BookKey struct {
	Zone  Zone
	Start int64
}

// KeyOf assumes w is aligned to the exchange's fixed window length
func KeyOf(zone Zone, w Window) BookKey {
	return BookKey{Zone: zone, Start: w.Start.Unix()}
}

func (k BookKey) String() string {
	return fmt.Sprintf("%s@%d", k.Zone, k.Start)
}

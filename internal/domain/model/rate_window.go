package model

import "time"

// RateWindow counts one identity's requests inside a fixed window.
type RateWindow struct {
	Identity    string
	Count       int
	WindowStart time.Time
}

// Expired reports whether the window starting at WindowStart has fully elapsed.
func (w *RateWindow) Expired(now time.Time, length time.Duration) bool {
	return now.Sub(w.WindowStart) > length
}

// Take consumes one slot, resetting the window first when it has expired.
// It returns false, without counting, once limit is reached.
func (w *RateWindow) Take(now time.Time, length time.Duration, limit int) bool {
	if w.Expired(now, length) {
		w.Count = 0
		w.WindowStart = now
	}
	if w.Count >= limit {
		return false
	}
	w.Count++
	return true
}

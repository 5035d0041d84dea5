// Package clock abstracts time so the supervisor's delays and budget
// windows can be driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake(), whose time moves only
// when Advance or Sleep is called.
package clock

import "time"

// Clock is the subset of the time package the supervisor depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for at least d.
	Sleep(d time.Duration)

	// NewTicker returns a Ticker delivering ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. Read ticks from C and call Stop when done.
// C has capacity 1; ticks are dropped if the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}

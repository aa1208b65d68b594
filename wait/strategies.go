package wait

import (
	"math/rand"
	"time"
)

// Bounds of ConnectBackoff
const (
	ConnectInitialDelay = 2 * time.Second
	ConnectMaxDelay     = 5 * time.Minute
)

// Fixed waits the same delay before every attempt
type Fixed time.Duration

func (f Fixed) Next() (time.Duration, bool) { return time.Duration(f), true }
func (Fixed) Reset()                        {}

// Backoff multiplies the delay by Factor after every attempt, up to Max.
// Jitter is the fraction of each delay randomized either way, 0 disables it.
// Attempts limits how many delays it yields, 0 never gives up.
type Backoff struct {
	Initial  time.Duration
	Factor   float64
	Max      time.Duration
	Jitter   float64
	Attempts int

	delay   time.Duration
	yielded int
}

// ConnectBackoff paces attempts at reaching a server: 2s doubling up to 5m,
// each delay varied by a quarter so bots restarted together spread out.
// It gives up after retries attempts, 0 retries forever.
func ConnectBackoff(retries int) *Backoff {
	return &Backoff{
		Initial:  ConnectInitialDelay,
		Factor:   2,
		Max:      ConnectMaxDelay,
		Jitter:   0.25,
		Attempts: retries,
	}
}

func (b *Backoff) Next() (time.Duration, bool) {
	if b.Attempts > 0 && b.yielded >= b.Attempts {
		return 0, false
	}
	b.yielded++

	if b.delay == 0 {
		b.delay = b.Initial
	} else if b.Factor > 1 {
		b.delay = time.Duration(float64(b.delay) * b.Factor)
	}
	if b.Max > 0 && b.delay > b.Max {
		b.delay = b.Max
	}

	if b.Jitter <= 0 {
		return b.delay, true
	}
	spread := float64(b.delay) * b.Jitter
	return max(0, b.delay+time.Duration((rand.Float64()*2-1)*spread)), true
}

func (b *Backoff) Reset() {
	b.delay = 0
	b.yielded = 0
}

package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes a bounded exponential backoff with jitter.
type Policy struct {
	// Base is the wait before the first retry.
	Base time.Duration
	// Max caps a single wait. Zero means no cap.
	Max time.Duration
	// Retries is the number of retries allowed. Zero means unlimited.
	Retries int
	// Jitter spreads each wait over [d*(1-Jitter), d*(1+Jitter)).
	Jitter float64
}

// Exhausted reports whether attempt (1-based) is past the retry budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.Retries > 0 && attempt > p.Retries
}

// Duration returns the wait before retry number attempt (1-based).
func (p Policy) Duration(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			d = p.Max
			break
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		time.Sleep(d)
		return nil
	}

	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	return nil
}

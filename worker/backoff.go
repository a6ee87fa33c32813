package worker

import (
	"math/rand"
	"time"
)

// Backoff computes the Failed->Retrying delay: 1s, 2s, 4s, ... capped at
// 60s, with +-20% jitter (SPEC_FULL.md 4.7).
type Backoff struct {
	attempt int
}

func (b *Backoff) Next() time.Duration {
	base := 1 << b.attempt // seconds
	if base > 60 {
		base = 60
	} else {
		b.attempt++
	}
	d := time.Duration(base) * time.Second

	jitter := 0.2 * float64(d)
	delta := (rand.Float64()*2 - 1) * jitter
	return d + time.Duration(delta)
}

func (b *Backoff) Reset() { b.attempt = 0 }

package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out the attempts of a polling loop. The first attempt is
// immediate; later ones wait one interval each.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer allowing one attempt per interval.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next attempt is due. It returns early with nil when
// wake is closed, or with ctx.Err() when ctx ends first. A nil wake never
// fires.
func (p *Pacer) Wait(ctx context.Context, wake <-chan struct{}) error {
	r := p.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

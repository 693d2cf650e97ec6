package outbound

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/omnidesk/backend/internal/models"
)

// Limiters throttles sends per channel type so one busy provider cannot exhaust
// its API quota. A zero rate disables throttling.
type Limiters struct {
	PerSecond float64
	Burst     int

	mu       sync.Mutex
	limiters map[models.ChannelType]*rate.Limiter
}

func NewLimiters(perSecond float64, burst int) *Limiters {
	if burst <= 0 {
		burst = 1
	}
	return &Limiters{PerSecond: perSecond, Burst: burst, limiters: map[models.ChannelType]*rate.Limiter{}}
}

func (l *Limiters) Wait(ctx context.Context, t models.ChannelType) error {
	if l == nil || l.PerSecond <= 0 {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.limiters[t]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.PerSecond), l.Burst)
		l.limiters[t] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

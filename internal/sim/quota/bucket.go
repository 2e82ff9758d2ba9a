package quota

import (
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// Params describe a token bucket: Rate tokens refill every Period, holding at
// most Capacity (defaults to Rate). Rate <= 0 disables limiting.
type Params struct {
	Rate     int
	Period   time.Duration
	Capacity int
}

func (p Params) Unlimited() bool {
	return p.Rate <= 0 || p.Period <= 0
}

func (p Params) capacity() int {
	if p.Capacity > 0 {
		return p.Capacity
	}
	return p.Rate
}

func (p Params) limit() rate.Limit {
	if p.Unlimited() {
		return rate.Inf
	}
	return rate.Limit(float64(p.Rate) / p.Period.Seconds())
}

// Bucket is one continuously refilling token bucket. It starts full.
type Bucket struct {
	params Params
	lim    *rate.Limiter
}

func NewBucket(p Params) *Bucket {
	return &Bucket{params: p, lim: rate.NewLimiter(p.limit(), p.capacity())}
}

func (b *Bucket) Params() Params { return b.params }

// AllowAt consumes one token if at least one is available at now.
func (b *Bucket) AllowAt(now time.Time) bool {
	return b.lim.AllowN(now, 1)
}

// TokensAt reports available tokens at now without consuming any.
func (b *Bucket) TokensAt(now time.Time) float64 {
	if b.params.Unlimited() {
		return float64(b.params.capacity())
	}
	return b.lim.TokensAt(now)
}

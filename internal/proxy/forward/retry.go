package forward

import (
	"math/rand"
	"time"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// RetryPolicy is the parameterized backoff schedule for transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Cap         time.Duration
	Jitter      bool
}

// DefaultRetryPolicy matches the system-wide retry contract: up to 3
// attempts, exponential backoff with jitter, base 100ms, multiplier 2,
// capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		Cap:         2 * time.Second,
		Jitter:      true,
	}
}

// PolicyFor overlays a path's retry configuration on the defaults.
func PolicyFor(cfg models.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.CapMs > 0 {
		p.Cap = time.Duration(cfg.CapMs) * time.Millisecond
	}
	return p
}

// Delay returns how long to wait after the given 1-based attempt number.
// With jitter enabled the delay is drawn from [d/2, d).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Cap) {
			break
		}
	}
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if p.Jitter {
		half := d / 2
		d = half + rand.Float64()*half
	}
	return time.Duration(d)
}

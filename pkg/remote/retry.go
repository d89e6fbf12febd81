package remote

import (
	"math"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy bounds connect attempts. The delay before attempt n+1 is
// BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// Delay returns the wait after the given failed attempt (0-based)
func (p RetryPolicy) Delay(attempt uint) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
}

func (p RetryPolicy) attempts() uint {
	if p.MaxAttempts < 1 {
		return 1
	}
	return uint(p.MaxAttempts)
}

// options converts the policy into retry-go options
func (p RetryPolicy) options() []retry.Option {
	return []retry.Option{
		retry.Attempts(p.attempts()),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return p.Delay(n)
		}),
		retry.LastErrorOnly(true),
	}
}

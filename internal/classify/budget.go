package classify

import "time"

const (
	DefaultTimeout = 60 * time.Second

	primaryFloor   = 3 * time.Second
	primaryCeiling = 12 * time.Second
	fallbackFloor  = 2 * time.Second
	attemptFloor   = 500 * time.Millisecond

	// fallbacks are skipped once this little of the budget is left
	minRemaining = time.Second
)

// PrimaryCap is half the total budget, held between 3s and 12s.
func PrimaryCap(total time.Duration) time.Duration {
	return max(primaryFloor, min(total/2, primaryCeiling))
}

// FallbackCap is 60% of what remains, held between 2s and ceiling.
func FallbackCap(remaining, ceiling time.Duration) time.Duration {
	return max(fallbackFloor, min(time.Duration(float64(remaining)*0.6), ceiling))
}

// AttemptTimeout bounds one provider call by its configured timeout, its cap
// and the remaining budget, never going below half a second. A zero
// configured timeout defers to the cap.
func AttemptTimeout(configured, capped, remaining time.Duration) time.Duration {
	d := min(capped, remaining)
	if configured > 0 {
		d = min(d, configured)
	}
	return max(attemptFloor, d)
}

// Budget tracks one shared classification deadline.
type Budget struct {
	total    time.Duration
	deadline time.Time
	now      func() time.Time
}

func NewBudget(total time.Duration, now func() time.Time) *Budget {
	if total <= 0 {
		total = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Budget{total: total, deadline: now().Add(total), now: now}
}

func (b *Budget) Total() time.Duration { return b.total }

// Remaining never goes below zero.
func (b *Budget) Remaining() time.Duration {
	return max(0, b.deadline.Sub(b.now()))
}

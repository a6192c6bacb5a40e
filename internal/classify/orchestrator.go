package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRPS is the global provider call rate.
const DefaultRPS = 3

type Options struct {
	Providers  []Provider
	Cache      *Cache
	Timeout    time.Duration
	RPS        float64
	Thresholds Thresholds
	Now        func() time.Time
	Logger     *slog.Logger
	// OnExhausted is called when every provider failed for a message.
	OnExhausted func(attempts []Attempt)
}

// Orchestrator runs the provider chain under one shared deadline and turns
// the first usable reply into a validated Result.
type Orchestrator struct {
	providers   []Provider
	cache       *Cache
	limiter     *rate.Limiter
	timeout     time.Duration
	th          Thresholds
	now         func() time.Time
	logger      *slog.Logger
	onExhausted func([]Attempt)
}

func New(opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = NewCache(DefaultCacheTTL, DefaultCacheSize, opts.Now)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		providers:   opts.Providers,
		cache:       opts.Cache,
		limiter:     rate.NewLimiter(rate.Limit(opts.RPS), 1),
		timeout:     opts.Timeout,
		th:          opts.Thresholds,
		now:         opts.Now,
		logger:      opts.Logger,
		onExhausted: opts.OnExhausted,
	}
}

// Thresholds returns the confidence gates in effect.
func (o *Orchestrator) Thresholds() Thresholds { return o.th }

// Providers returns the names of the chain in call order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Classify never fails: when no provider answers it returns a non-relevant
// result naming the last error. The attempts list is empty on a cache hit.
func (o *Orchestrator) Classify(ctx context.Context, req Request) (Result, []Attempt) {
	cats := req.Categories
	if len(cats) == 0 {
		cats = DefaultCategories
	}
	text := Compact(req.Text)
	key := CacheKey(text, cats, req.Regions)
	if r, ok := o.cache.Get(key); ok {
		return o.finish(r, req), nil
	}

	prompt := BuildPrompt(text, cats, req.Regions)
	budget := NewBudget(o.timeout, o.now)
	ctx, cancel := context.WithTimeout(ctx, budget.Total())
	defer cancel()

	var attempts []Attempt
	var lastErr error
	for i, p := range o.providers {
		remaining := budget.Remaining()
		if remaining <= 0 || (i > 0 && remaining <= minRemaining) {
			attempts = append(attempts, Attempt{Provider: p.Name(), Skipped: true, Err: ErrBudgetExhausted})
			lastErr = ErrBudgetExhausted
			continue
		}

		raw, elapsed, err := o.call(ctx, p, prompt, budget.Total(), remaining)
		var m map[string]any
		if err == nil {
			m, err = ParseJSON(raw)
			var pe *ParseError
			if errors.As(err, &pe) {
				o.logger.Warn("unparseable classifier reply", "provider", p.Name(), "raw", truncateRunes(pe.Raw, 300))
			}
		}
		attempts = append(attempts, Attempt{Provider: p.Name(), Elapsed: elapsed, Err: err})
		if err != nil {
			lastErr = err
			o.logger.Debug("provider failed", "provider", p.Name(), "elapsed", elapsed, "error", err)
			if ctx.Err() != nil && budget.Remaining() <= 0 {
				lastErr = fmt.Errorf("%w: %v", ErrBudgetExhausted, err)
			}
			continue
		}

		r := Decode(m, o.th)
		r.Provider = p.Name()
		o.cache.Put(key, r)
		return o.finish(r, req), attempts
	}

	if o.onExhausted != nil && len(o.providers) > 0 {
		o.onExhausted(attempts)
	}
	return o.fallback(lastErr), attempts
}

func (o *Orchestrator) call(ctx context.Context, p Provider, prompt Prompt, total, remaining time.Duration) (string, time.Duration, error) {
	actx, cancel := context.WithTimeout(ctx, p.Cap(total, remaining))
	defer cancel()

	start := o.now()
	if err := o.limiter.Wait(actx); err != nil {
		return "", o.now().Sub(start), fmt.Errorf("rate limiter: %w", err)
	}
	raw, err := p.Complete(actx, prompt)
	return raw, o.now().Sub(start), err
}

// finish applies overrides and calibration to a decoded reply.
func (o *Orchestrator) finish(r Result, req Request) Result {
	r = ApplyOverrides(r, strings.ToLower(req.Text), req.Hint)
	r.Confidence = Calibrate(r.Confidence)
	return Sanitize(r, o.th)
}

func (o *Orchestrator) fallback(err error) Result {
	if err == nil {
		err = errors.New("no providers configured")
	}
	return Sanitize(Result{Explanation: "Ошибка классификации: " + err.Error()}, o.th)
}

// TimedOut reports whether any attempt ended on a deadline.
func TimedOut(attempts []Attempt) bool {
	for _, a := range attempts {
		if errors.Is(a.Err, context.DeadlineExceeded) || errors.Is(a.Err, ErrBudgetExhausted) {
			return true
		}
	}
	return false
}

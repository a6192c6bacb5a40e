// Package classify decides whether a chat message is a service request and
// which category it belongs to, using a chain of hosted language models.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBudgetExhausted is reported when the shared deadline ran out before any
// provider produced a usable answer.
var ErrBudgetExhausted = errors.New("classification budget exhausted")

// Result is the validated classification of one message.
type Result struct {
	Relevant    bool    `json:"relevant"`
	Category    string  `json:"category,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Region      string  `json:"region,omitempty"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
	Accepted    bool    `json:"accepted"`
	Borderline  bool    `json:"borderline"`
	Provider    string  `json:"provider,omitempty"`
}

// Request is one classification call.
type Request struct {
	Text       string
	Categories []string
	Regions    []string
	// Hint is the category guessed from keywords before classification.
	Hint string
}

// Prompt is what a provider sends to its model.
type Prompt struct {
	System string
	User   string
}

// Provider is one model endpoint in the fallback chain.
type Provider interface {
	Name() string
	// Cap returns the longest this provider may run given the total budget
	// and what is left of it.
	Cap(total, remaining time.Duration) time.Duration
	// Complete returns the raw model output for p.
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Attempt records the outcome of one provider call.
type Attempt struct {
	Provider string        `json:"provider"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      error         `json:"-"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// ParseError keeps the raw model output that could not be decoded.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("unparseable classifier output %q: %v", raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Thresholds are the confidence gates shared by classification and delivery.
type Thresholds struct {
	Deliver float64
	Discard float64
}

// DefaultThresholds deliver at 0.79 and discard below 0.70.
var DefaultThresholds = Thresholds{Deliver: 0.79, Discard: 0.70}

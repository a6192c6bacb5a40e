// Package supervisor keeps Telegram connections alive: it connects with
// backoff, honours flood waits, gives up on rejected credentials and
// re-checks connections periodically.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/leadbot/internal/retry"
	"github.com/kalambet/leadbot/internal/telegram"
)

// ErrFatalAuth marks a connection whose credentials were rejected too often.
// It is not retried automatically.
var ErrFatalAuth = errors.New("authentication failed permanently")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

const (
	DefaultMaxRetries     = 10
	DefaultConnectTimeout = 30 * time.Second
	DefaultMonitorEvery   = 60 * time.Second

	// auth errors are retried this many times before the connection fails
	maxAuthRetries = 3
)

// DefaultPolicy is the reconnect backoff.
var DefaultPolicy = retry.Policy{
	MaxAttempts: DefaultMaxRetries,
	BaseDelay:   time.Second,
	MaxDelay:    300 * time.Second,
	MinDelay:    time.Second,
	Jitter:      0.25,
	MaxExponent: 8,
}

// Pinger verifies a connection. telegram.Client satisfies it through getMe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is a point-in-time view of one connection.
type Status struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	State     State     `json:"state"`
	Retries   int       `json:"retries"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

type Options struct {
	Policy         retry.Policy
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	// OnStateChange fires on every transition.
	OnStateChange func(name string, from, to State)
	// OnFatal fires once when the connection enters StateFailed.
	OnFatal func(name string, err error)
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Connection supervises one client.
type Connection struct {
	name   string
	role   string
	client Pinger
	opts   Options
	logger *slog.Logger

	// connectMu serializes ConnectWithRetry between the monitor and callers.
	connectMu sync.Mutex

	mu      sync.Mutex
	state   State
	retries int
	lastErr error
	since   time.Time
}

func NewConnection(name, role string, client Pinger, opts Options) *Connection {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultPolicy
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	return &Connection{
		name:   name,
		role:   role,
		client: client,
		opts:   opts,
		logger: opts.Logger.With("connection", name),
		state:  StateDisconnected,
		since:  time.Now(),
	}
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Name: c.name, Role: c.role, State: c.state, Retries: c.retries, Since: c.since}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Connection) setState(to State, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	if err != nil {
		c.lastErr = err
	}
	if from != to {
		c.since = time.Now()
	}
	c.mu.Unlock()

	if from != to {
		c.logger.Info("connection state changed", "from", from, "to", to)
		if c.opts.OnStateChange != nil {
			c.opts.OnStateChange(c.name, from, to)
		}
	}
}

// ConnectWithRetry pings until the connection answers, backing off between
// failures. Flood waits sleep the server-given duration without using up an
// attempt. Auth errors fail the connection permanently after three retries.
func (c *Connection) ConnectWithRetry(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.State() == StateFailed {
		return fmt.Errorf("%s: %w", c.name, ErrFatalAuth)
	}
	c.setState(StateConnecting, nil)

	c.mu.Lock()
	c.retries = 0
	c.mu.Unlock()

	for {
		err := c.ping(ctx)
		if err == nil {
			c.mu.Lock()
			c.retries = 0
			c.lastErr = nil
			c.mu.Unlock()
			c.setState(StateConnected, nil)
			return nil
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected, err)
			return ctx.Err()
		}

		if wait, ok := telegram.FloodWait(err); ok {
			c.logger.Warn("flood wait", "wait", wait)
			if !c.opts.Sleep(ctx, wait) {
				c.setState(StateDisconnected, err)
				return ctx.Err()
			}
			continue
		}

		c.mu.Lock()
		c.retries++
		n := c.retries
		c.lastErr = err
		c.mu.Unlock()

		if telegram.IsAuth(err) && n > maxAuthRetries {
			fatal := fmt.Errorf("%s: %w: %v", c.name, ErrFatalAuth, err)
			c.setState(StateFailed, fatal)
			c.logger.Error("connection failed permanently", "error", err)
			if c.opts.OnFatal != nil {
				c.opts.OnFatal(c.name, fatal)
			}
			return fatal
		}
		if n >= c.opts.Policy.MaxAttempts {
			c.setState(StateDisconnected, err)
			return fmt.Errorf("%s: giving up after %d attempts: %w", c.name, n, err)
		}

		delay := c.opts.Policy.Delay(n)
		c.logger.Warn("connect failed, retrying", "attempt", n, "delay", delay, "error", err)
		if !c.opts.Sleep(ctx, delay) {
			c.setState(StateDisconnected, err)
			return ctx.Err()
		}
	}
}

func (c *Connection) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	return c.client.Ping(ctx)
}

// Check pings a connected connection and reconnects it when the ping fails.
// Failed connections are left alone.
func (c *Connection) Check(ctx context.Context) error {
	switch c.State() {
	case StateFailed:
		return nil
	case StateConnected:
		err := c.ping(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("health check failed", "error", err)
		c.setState(StateDisconnected, err)
	}
	return c.ConnectWithRetry(ctx)
}

// Monitor runs Check every interval until ctx is done.
func (c *Connection) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMonitorEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Check(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("reconnect failed", "error", err)
			}
		}
	}
}

// Lost records that a client call failed outside a ping, so the next
// ConnectWithRetry starts from a disconnected state.
func (c *Connection) Lost(err error) {
	if c.State() != StateFailed {
		c.setState(StateDisconnected, err)
	}
}

// Disconnect marks the connection disconnected unless it already failed.
func (c *Connection) Disconnect() {
	if c.State() != StateFailed {
		c.setState(StateDisconnected, nil)
	}
}

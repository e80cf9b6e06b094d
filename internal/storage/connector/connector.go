// Package connector owns the lifecycle of the single shared store session:
// lazy connect, liveness probing, bounded-retry reconnection and handoff of
// a ready handle through Acquire.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultOperationTimeout = 5 * time.Second
)

// Session is one open connection to a backend.
type Session[H any] interface {
	Handle() H
	// Ping is a minimal round trip used as the liveness probe.
	Ping(ctx context.Context) error
	// EnsureIndexes creates the uniqueness constraint on the key field. It
	// must be safe to repeat.
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// DialFunc opens a new session. It is called with a context bounded by the
// connect timeout.
type DialFunc[H any] func(ctx context.Context) (Session[H], error)

type Options struct {
	MaxRetries       int
	RetryDelay       time.Duration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	return o
}

// Status describes what Acquire did. The connector never logs; callers
// decide what to report.
type Status struct {
	// Reused is set when the cached session passed the liveness probe.
	Reused bool
	// Connected is set when a new session was established for this call.
	Connected bool
	// Shared is set when the caller waited on a connect started by another caller.
	Shared bool
	// Attempts is the number of dial attempts made by the connect sequence.
	Attempts int
	// ProbeErr is the liveness failure that invalidated the cached session.
	ProbeErr error
	// AttemptErrs holds one error per failed attempt.
	AttemptErrs []error
}

type connectResult[H any] struct {
	session  Session[H]
	attempts int
	errs     []error
}

type Connector[H any] struct {
	dial DialFunc[H]
	opts Options

	mu      sync.Mutex
	current Session[H]

	group singleflight.Group
	sleep func(ctx context.Context, d time.Duration) error
}

func New[H any](dial DialFunc[H], opts Options) *Connector[H] {
	return &Connector[H]{
		dial:  dial,
		opts:  opts.withDefaults(),
		sleep: sleepContext,
	}
}

func (c *Connector[H]) Options() Options { return c.opts }

// Acquire returns a ready handle, connecting or reconnecting as needed.
// It fails with ierr.ErrStoreUnavailable once the retry budget is spent.
func (c *Connector[H]) Acquire(ctx context.Context) (H, Status, error) {
	var zero H
	var status Status

	if s := c.cached(); s != nil {
		probeCtx, cancel := c.OpContext(ctx)
		err := s.Ping(probeCtx)
		cancel()
		if err == nil {
			status.Reused = true
			return s.Handle(), status, nil
		}
		status.ProbeErr = err
		c.invalidate(s)
	}

	// The connect sequence is shared by every waiting caller, so it must not
	// be cut short by whichever caller happened to start it. A caller that
	// gives up stops waiting; the sequence keeps running for the others.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan("connect", func() (any, error) {
		return c.connect(detached), nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return zero, status, fmt.Errorf("%w: gave up waiting for connect: %w", ierr.ErrStoreUnavailable, ctx.Err())
	}
	if r.Err != nil {
		return zero, status, fmt.Errorf("%w: %v", ierr.ErrStoreUnavailable, r.Err)
	}

	res := r.Val.(*connectResult[H])
	shared := r.Shared
	status.Shared = shared
	status.Attempts = res.attempts
	status.AttemptErrs = res.errs

	if res.session == nil {
		return zero, status, fmt.Errorf("%w: %d connect attempts failed: %w",
			ierr.ErrStoreUnavailable, res.attempts, errors.Join(res.errs...))
	}

	if res.attempts == 0 {
		status.Reused = true
	} else {
		status.Connected = !shared
	}
	return res.session.Handle(), status, nil
}

func (c *Connector[H]) connect(ctx context.Context) *connectResult[H] {
	// A concurrent connect may have finished between our probe and this call.
	if s := c.cached(); s != nil {
		return &connectResult[H]{session: s}
	}

	res := &connectResult[H]{}
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		res.attempts = attempt

		s, err := c.open(ctx)
		if err == nil {
			c.mu.Lock()
			c.current = s
			c.mu.Unlock()
			res.session = s
			return res
		}
		res.errs = append(res.errs, fmt.Errorf("attempt %d: %w", attempt, err))

		if attempt < c.opts.MaxRetries {
			if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
				res.errs = append(res.errs, err)
				return res
			}
		}
	}
	return res
}

func (c *Connector[H]) open(ctx context.Context) (Session[H], error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	s, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	err = s.Ping(opCtx)
	cancel()
	if err != nil {
		c.closeQuietly(s)
		return nil, fmt.Errorf("ping: %w", err)
	}

	opCtx, cancel = context.WithTimeout(ctx, c.opts.OperationTimeout)
	err = s.EnsureIndexes(opCtx)
	cancel()
	if err != nil {
		c.closeQuietly(s)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return s, nil
}

func (c *Connector[H]) cached() Session[H] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// invalidate drops s if it is still the cached session. Other callers may
// have already replaced it.
func (c *Connector[H]) invalidate(s Session[H]) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	} else {
		s = nil
	}
	c.mu.Unlock()

	if s != nil {
		go c.closeQuietly(s)
	}
}

func (c *Connector[H]) closeQuietly(s Session[H]) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.OperationTimeout)
	defer cancel()
	_ = s.Close(ctx)
}

// OpContext bounds a single store round trip by the operation timeout. The
// returned context ignores the caller's cancellation: once sent, a store
// operation runs to completion or timeout.
func (c *Connector[H]) OpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.opts.OperationTimeout)
}

// Ping is the health probe. A cached session is pinged and dropped if it
// fails. Without one, Ping starts (or joins) a connect and waits at most one
// attempt's budget for it, so a recovered store is picked up by health
// checks alone.
func (c *Connector[H]) Ping(ctx context.Context) error {
	s := c.cached()
	if s == nil {
		waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout+2*c.opts.OperationTimeout)
		defer cancel()
		_, _, err := c.Acquire(waitCtx)
		return err
	}
	probeCtx, cancel := c.OpContext(ctx)
	defer cancel()
	if err := s.Ping(probeCtx); err != nil {
		c.invalidate(s)
		return fmt.Errorf("%w: %v", ierr.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the cached session, if any.
func (c *Connector[H]) Close(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

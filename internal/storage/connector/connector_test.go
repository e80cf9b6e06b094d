package connector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("connection refused")

type fakeSession struct {
	id        int
	pingErr   atomic.Pointer[error]
	indexErr  error
	closed    atomic.Bool
	indexRuns atomic.Int32
}

func (s *fakeSession) Handle() int { return s.id }

func (s *fakeSession) Ping(ctx context.Context) error {
	if p := s.pingErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *fakeSession) EnsureIndexes(ctx context.Context) error {
	s.indexRuns.Add(1)
	return s.indexErr
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) breakPing(err error) { s.pingErr.Store(&err) }

// fakeBackend simulates a store that refuses connections while down.
type fakeBackend struct {
	mu       sync.Mutex
	down     int // number of upcoming dials that fail
	dials    int
	sessions []*fakeSession
	delay    time.Duration
}

func (b *fakeBackend) dial(ctx context.Context) (Session[int], error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down > 0 {
		b.down--
		return nil, errDown
	}
	s := &fakeSession{id: len(b.sessions) + 1}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBackend) setDown(n int) {
	b.mu.Lock()
	b.down = n
	b.mu.Unlock()
}

func (b *fakeBackend) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func newTestConnector(b *fakeBackend) *Connector[int] {
	return New[int](b.dial, Options{
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
		ConnectTimeout:   time.Second,
		OperationTimeout: time.Second,
	})
}

func TestAcquire_LazyConnectThenReuse(t *testing.T) {
	b := &fakeBackend{}
	c := newTestConnector(b)
	assert.Equal(t, 0, b.dialCount(), "no dial before first Acquire")

	h, st, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h)
	assert.True(t, st.Connected)
	assert.Equal(t, 1, st.Attempts)
	assert.EqualValues(t, 1, b.sessions[0].indexRuns.Load())

	h, st, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h)
	assert.True(t, st.Reused)
	assert.False(t, st.Connected)
	assert.Equal(t, 1, b.dialCount())
}

func TestAcquire_OutageShorterThanBudgetRecovers(t *testing.T) {
	b := &fakeBackend{down: 2}
	c := newTestConnector(b)

	h, st, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h)
	assert.Equal(t, 3, st.Attempts)
	assert.Len(t, st.AttemptErrs, 2)
	assert.True(t, st.Connected)
}

func TestAcquire_OutageLongerThanBudgetFailsThenRecovers(t *testing.T) {
	b := &fakeBackend{down: 5}
	c := newTestConnector(b)

	_, st, err := c.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ierr.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, st.Attempts)
	assert.Nil(t, c.cached(), "no partial state is cached after exhaustion")

	b.setDown(0)

	h, st, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h)
	assert.True(t, st.Connected)
	assert.Equal(t, 1, st.Attempts)
}

func TestAcquire_DeadSessionIsReplaced(t *testing.T) {
	b := &fakeBackend{}
	c := newTestConnector(b)

	_, _, err := c.Acquire(context.Background())
	require.NoError(t, err)

	first := b.sessions[0]
	first.breakPing(errDown)

	h, st, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h)
	assert.ErrorIs(t, st.ProbeErr, errDown)
	assert.True(t, st.Connected)

	assert.Eventually(t, first.closed.Load, time.Second, 5*time.Millisecond)
}

func TestAcquire_EnsureIndexFailureDiscardsSession(t *testing.T) {
	indexErr := errors.New("index build failed")
	var dials int
	c := New[int](func(ctx context.Context) (Session[int], error) {
		dials++
		return &fakeSession{id: dials, indexErr: indexErr}, nil
	}, Options{MaxRetries: 2, RetryDelay: time.Millisecond})

	_, st, err := c.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, indexErr)
	assert.Equal(t, 2, st.Attempts)
	assert.Nil(t, c.cached())
}

func TestAcquire_ConcurrentCallersShareOneConnect(t *testing.T) {
	b := &fakeBackend{delay: 50 * time.Millisecond}
	c := newTestConnector(b)

	const callers = 32
	var wg sync.WaitGroup
	var connected, shared atomic.Int32
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, st, err := c.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if h != 1 {
				errs <- errors.New("unexpected handle")
			}
			if st.Connected {
				connected.Add(1)
			}
			if st.Shared {
				shared.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, b.dialCount(), "concurrent acquires collapse into one dial")
	assert.LessOrEqual(t, connected.Load(), int32(1))
}

func TestAcquire_CallerCancellationDoesNotAbortConnect(t *testing.T) {
	b := &fakeBackend{down: 1}
	c := New[int](b.dial, Options{MaxRetries: 3, RetryDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, _, err := c.Acquire(ctx)
	assert.ErrorIs(t, err, ierr.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "cancelled caller returns without waiting out the retry delay")

	h, _, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h)
	assert.Equal(t, 2, b.dialCount(), "the abandoned connect kept going and was reused")
}

func TestAcquire_WaitingCallerCanGiveUp(t *testing.T) {
	b := &fakeBackend{delay: 200 * time.Millisecond}
	c := newTestConnector(b)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Acquire(context.Background())
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-done)
	assert.Equal(t, 1, b.dialCount())
}

func TestPingAndClose(t *testing.T) {
	b := &fakeBackend{}
	c := newTestConnector(b)

	require.NoError(t, c.Ping(context.Background()), "ping connects when nothing is cached")
	assert.Equal(t, 1, b.dialCount())
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 1, b.dialCount(), "healthy session is reused")

	b.sessions[0].breakPing(errDown)
	assert.ErrorIs(t, c.Ping(context.Background()), ierr.ErrStoreUnavailable)
	assert.Nil(t, c.cached(), "failed ping invalidates the session")

	require.NoError(t, c.Ping(context.Background()), "next ping reconnects")
	assert.Equal(t, 2, b.dialCount())

	require.NoError(t, c.Close(context.Background()))
	assert.True(t, b.sessions[1].closed.Load())
	assert.Nil(t, c.cached())
}

func TestPing_RecoversAfterStoreWasDownAtStartup(t *testing.T) {
	b := &fakeBackend{down: 3}
	c := newTestConnector(b)

	_, _, err := c.Acquire(context.Background())
	require.ErrorIs(t, err, ierr.ErrStoreUnavailable)
	assert.Equal(t, 3, b.dialCount())

	b.setDown(0)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 4, b.dialCount())
	assert.NotNil(t, c.cached())

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Ping(context.Background()))
	}
	assert.Equal(t, 4, b.dialCount())
}

func TestOpContext_IgnoresCallerCancellation(t *testing.T) {
	c := New[int](nil, Options{OperationTimeout: 50 * time.Millisecond})

	parent, cancel := context.WithCancel(context.Background())
	opCtx, opCancel := c.OpContext(parent)
	defer opCancel()
	cancel()

	assert.NoError(t, opCtx.Err())
	deadline, ok := opCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
}

func TestOptions_Defaults(t *testing.T) {
	c := New[int](nil, Options{})
	opts := c.Options()
	assert.Equal(t, DefaultMaxRetries, opts.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, opts.RetryDelay)
	assert.Equal(t, DefaultConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, DefaultOperationTimeout, opts.OperationTimeout)
}

func TestReport_DoesNotPanic(t *testing.T) {
	logger := zap.NewNop()
	Report(logger, Status{Reused: true}, nil)
	Report(logger, Status{Connected: true, Attempts: 2, AttemptErrs: []error{errDown}}, nil)
	Report(logger, Status{Shared: true}, nil)
	Report(logger, Status{Attempts: 3, ProbeErr: errDown}, ierr.ErrStoreUnavailable)
}

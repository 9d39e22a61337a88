package beacon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock fires every After immediately and advances Now by the wait
type stepClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.UnixMilli(1700000000000)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// frozenClock never fires; Now stands still
type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time                       { return c.now }
func (c frozenClock) After(time.Duration) <-chan time.Time { return nil }

type received struct {
	header  http.Header
	payload Payload
}

func newCollector(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p Payload
		assert.NoError(t, json.Unmarshal(body, &p))
		mu.Lock()
		got = append(got, received{header: r.Header.Clone(), payload: p})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func TestRunSendsAllBursts(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)
	clock := newStepClock()

	s := NewSender(
		WithClock(clock),
		WithIdentity(Identity{Model: "lab-host", PlatformVersion: "linux/amd64"}),
	)
	rep := s.Run(context.Background(), srv.URL, 3, 100*time.Millisecond)

	require.Len(t, rep.Attempts, 3)
	assert.Equal(t, 3, rep.Delivered())
	assert.False(t, rep.Cancelled)
	assert.Equal(t, StateDone, s.State())

	// Waits only between bursts
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, clock.waits)

	reqs := got()
	require.Len(t, reqs, 3)
	var last int64
	for _, r := range reqs {
		assert.Equal(t, UserAgent, r.header.Get("User-Agent"))
		assert.Equal(t, ContentType, r.header.Get("Content-Type"))
		assert.Equal(t, "lab-host", r.payload.Model)
		assert.Equal(t, "linux/amd64", r.payload.PlatformVersion)
		assert.Equal(t, StatusEncrypted, r.payload.Status)
		assert.Greater(t, r.payload.Nonce, last)
		last = r.payload.Nonce
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)

	// Clock that never advances still yields distinct nonces
	s := NewSender(WithClock(frozenClock{now: time.UnixMilli(42)}))
	for i := 0; i < 3; i++ {
		s.Run(context.Background(), srv.URL, 1, 0)
	}

	reqs := got()
	require.Len(t, reqs, 3)
	assert.Equal(t, int64(42), reqs[0].payload.Nonce)
	assert.Equal(t, int64(43), reqs[1].payload.Nonce)
	assert.Equal(t, int64(44), reqs[2].payload.Nonce)
}

func TestRunAllFailingStillCompletes(t *testing.T) {
	srv, got := newCollector(t, http.StatusInternalServerError)

	s := NewSender(WithClock(newStepClock()))
	rep := s.Run(context.Background(), srv.URL, 3, time.Second)

	require.Len(t, rep.Attempts, 3)
	assert.Equal(t, 0, rep.Delivered())
	assert.False(t, rep.Cancelled)
	assert.Equal(t, StateDone, s.State())
	for _, a := range rep.Attempts {
		assert.ErrorIs(t, a.Err, ErrBadStatus)
		assert.Equal(t, http.StatusInternalServerError, a.StatusCode)
	}
	assert.Len(t, got(), 3)
}

func TestRunUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewSender(WithClock(newStepClock()), WithTimeout(time.Second))
	rep := s.Run(context.Background(), url, 2, time.Second)

	require.Len(t, rep.Attempts, 2)
	for _, a := range rep.Attempts {
		assert.Error(t, a.Err)
		assert.Zero(t, a.StatusCode)
	}
	assert.Equal(t, StateDone, s.State())
}

func TestRunTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewSender(WithClock(newStepClock()), WithTimeout(50*time.Millisecond))
	rep := s.Run(context.Background(), srv.URL, 1, 0)

	require.Len(t, rep.Attempts, 1)
	assert.ErrorIs(t, rep.Attempts[0].Err, context.DeadlineExceeded)
}

func TestTaskCancelDuringWait(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)

	s := NewSender(WithClock(frozenClock{now: time.Now()}))
	task := s.Start(context.Background(), srv.URL, 5, time.Hour)

	require.Eventually(t, func() bool { return len(got()) == 1 }, 5*time.Second, 10*time.Millisecond)
	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Task did not stop after Cancel")
	}

	rep := task.Wait()
	assert.True(t, rep.Cancelled)
	assert.Len(t, rep.Attempts, 1)
	assert.Equal(t, StateCancelled, s.State())
	assert.Len(t, got(), 1)
}

// cancelOnDoer answers 200 and cancels the run while sending burst n
type cancelOnDoer struct {
	n      int
	calls  int
	cancel context.CancelFunc
}

func (d *cancelOnDoer) Do(*http.Request) (*http.Response, error) {
	d.calls++
	if d.calls == d.n {
		d.cancel()
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func TestCancelDuringLastBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doer := &cancelOnDoer{n: 2, cancel: cancel}

	s := NewSender(WithClient(doer), WithClock(newStepClock()))
	rep := s.Run(ctx, "http://collector.invalid/", 2, time.Second)

	assert.False(t, rep.Cancelled, "all bursts went out")
	assert.Equal(t, 2, rep.Delivered())
	assert.Equal(t, StateDone, s.State())
}

func TestCancelDuringEarlierBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doer := &cancelOnDoer{n: 1, cancel: cancel}

	s := NewSender(WithClient(doer), WithClock(newStepClock()))
	rep := s.Run(ctx, "http://collector.invalid/", 3, time.Second)

	assert.True(t, rep.Cancelled)
	assert.Len(t, rep.Attempts, 1)
	assert.Equal(t, StateCancelled, s.State())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := NewSender().Run(ctx, srv.URL, 3, time.Second)
	assert.True(t, rep.Cancelled)
	assert.Empty(t, rep.Attempts)
	assert.Empty(t, got())
}

func TestDefaultIdentity(t *testing.T) {
	id := DefaultIdentity()
	assert.NotEmpty(t, id.Model)
	assert.Contains(t, id.PlatformVersion, "/")
}

package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/illarion/lockersim/internal/logging"
)

const (
	UserAgent       = "Locker-Beacon/1.0 (SIMULATION)"
	ContentType     = "application/json; charset=utf-8"
	StatusEncrypted = "encrypted"

	DefaultBursts   = 5
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 5 * time.Second

	maxDrain = 64 << 10
)

var ErrBadStatus = errors.New("unexpected response status")

// State of a Sender
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// Payload is the JSON body of one beacon
type Payload struct {
	Model           string `json:"model"`
	PlatformVersion string `json:"platform_version"`
	Status          string `json:"status"`
	Nonce           int64  `json:"nonce"`
}

// Identity describes the sending host
type Identity struct {
	Model           string
	PlatformVersion string
}

// DefaultIdentity uses the host name and GOOS/GOARCH
func DefaultIdentity() Identity {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return Identity{
		Model:           host,
		PlatformVersion: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Doer sends HTTP requests; *http.Client satisfies it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Attempt is the outcome of one burst
type Attempt struct {
	Burst      int
	Nonce      int64
	StatusCode int
	Err        error
	Sent       time.Time
	Duration   time.Duration
}

// OK reports whether the collector acknowledged the beacon
func (a Attempt) OK() bool {
	return a.Err == nil
}

// Report summarizes one Run
type Report struct {
	URL       string
	Attempts  []Attempt
	Cancelled bool
	Started   time.Time
	Finished  time.Time
}

// Delivered counts acknowledged bursts
func (r *Report) Delivered() int {
	n := 0
	for _, a := range r.Attempts {
		if a.OK() {
			n++
		}
	}
	return n
}

// Sender posts beacons on a schedule
type Sender struct {
	client   Doer
	clock    Clock
	logger   logging.Logger
	identity Identity
	timeout  time.Duration

	mu        sync.Mutex
	state     State
	lastNonce int64
}

type Option func(*Sender)

func WithClient(c Doer) Option {
	return func(s *Sender) { s.client = c }
}

func WithClock(c Clock) Option {
	return func(s *Sender) { s.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

func WithIdentity(id Identity) Option {
	return func(s *Sender) { s.identity = id }
}

// WithTimeout bounds each POST
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client:   http.DefaultClient,
		clock:    RealClock(),
		logger:   logging.Nop(),
		identity: DefaultIdentity(),
		timeout:  DefaultTimeout,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// nextNonce returns clock milliseconds, bumped to stay strictly increasing
func (s *Sender) nextNonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.clock.Now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

// Run sends bursts beacons to url, waiting interval between them. It
// returns when all bursts were attempted or ctx is cancelled.
func (s *Sender) Run(ctx context.Context, url string, bursts int, interval time.Duration) *Report {
	rep := &Report{URL: url, Started: s.clock.Now()}
	log := s.logger.With("url", url)

	log.Info(ctx, "beacon started", "bursts", bursts, "interval", interval)

loop:
	for i := 0; i < bursts; i++ {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}

		s.setState(StateSending)
		a := s.send(ctx, url, i)
		rep.Attempts = append(rep.Attempts, a)
		s.setState(StateIdle)

		if a.OK() {
			log.Info(ctx, "beacon delivered", "burst", i+1, "nonce", a.Nonce, "status", a.StatusCode)
		} else {
			log.Warn(ctx, "beacon failed", "burst", i+1, "nonce", a.Nonce, "err", a.Err)
		}

		if i == bursts-1 {
			break
		}
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}

		select {
		case <-ctx.Done():
			rep.Cancelled = true
			break loop
		case <-s.clock.After(interval):
		}
	}

	rep.Finished = s.clock.Now()
	if rep.Cancelled {
		s.setState(StateCancelled)
		log.Info(ctx, "beacon cancelled", "sent", len(rep.Attempts), "delivered", rep.Delivered())
	} else {
		s.setState(StateDone)
		log.Info(ctx, "beacon finished", "sent", len(rep.Attempts), "delivered", rep.Delivered())
	}

	return rep
}

func (s *Sender) send(ctx context.Context, url string, burst int) Attempt {
	a := Attempt{
		Burst: burst,
		Nonce: s.nextNonce(),
		Sent:  s.clock.Now(),
	}

	body, err := json.Marshal(Payload{
		Model:           s.identity.Model,
		PlatformVersion: s.identity.PlatformVersion,
		Status:          StatusEncrypted,
		Nonce:           a.Nonce,
	})
	if err != nil {
		a.Err = fmt.Errorf("failed to encode payload: %w", err)
		return a
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		a.Err = fmt.Errorf("failed to build request: %w", err)
		return a
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", UserAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	a.Duration = time.Since(start)
	if err != nil {
		a.Err = fmt.Errorf("failed to send beacon: %w", err)
		return a
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	a.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.Err = fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}
	return a
}

// Task is a Run executing on its own goroutine
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	report *Report
}

// Start runs the schedule in the background. Cancelling ctx or calling
// Task.Cancel stops it.
func (s *Sender) Start(ctx context.Context, url string, bursts int, interval time.Duration) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()
		t.report = s.Run(ctx, url, bursts, interval)
	}()

	return t
}

// Cancel stops the task; further bursts are not sent
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task finishes
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its report
func (t *Task) Wait() *Report {
	<-t.done
	return t.report
}

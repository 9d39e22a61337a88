// Package collector is the lab-side receiver for beacons. Every POST is
// appended to a JSON Lines evidence log.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/illarion/lockersim/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAddr     = ":8000"
	DefaultLogPath  = "beacons.jsonl"
	MaxBodySize     = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Record is one line of the evidence log
type Record struct {
	TS        int64  `json:"ts"`
	Type      string `json:"type"`
	Path      string `json:"path"`
	Remote    string `json:"remote"`
	UserAgent string `json:"user_agent"`
	Body      any    `json:"body"`
}

// Server receives beacons over HTTP
type Server struct {
	addr    string
	logPath string
	logger  logging.Logger
	now     func() time.Time

	mu sync.Mutex // serializes appends to logPath
}

type Option func(*Server)

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(addr, logPath string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		logPath: logPath,
		logger:  logging.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w)
	})
	mux.HandleFunc("POST /", s.handleBeacon)
	// any other GET path answers ok, never 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w)
	})
	return mux
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		s.logger.Warn(ctx, "failed to read beacon body", "remote", r.RemoteAddr, "err", err)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = map[string]string{"_raw": string(raw)}
	}

	rec := Record{
		TS:        s.now().UnixMilli(),
		Type:      "beacon",
		Path:      r.URL.RequestURI(),
		Remote:    remoteHost(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Body:      body,
	}

	if err := s.append(rec); err != nil {
		s.logger.Error(ctx, "failed to write evidence log", "path", s.logPath, "err", err)
	}
	s.logger.Info(ctx, "beacon received",
		"remote", rec.Remote,
		"path", rec.Path,
		"user_agent", rec.UserAgent,
		"bytes", len(raw))

	writeOK(w)
}

func (s *Server) append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.logPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info(ctx, "collector listening", "addr", ln.Addr().String(), "log", s.logPath)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.logger.Info(ctx, "collector shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

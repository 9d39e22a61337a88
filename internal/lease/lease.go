// Package lease serializes batch operations on a directory, both between
// goroutines of one process and between lockersim processes.
package lease

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ErrBusy = errors.New("directory is busy")

var (
	leaseBucket = []byte("lease")
	holderKey   = []byte("holder")
)

// Holder identifies the process owning a lease
type Holder struct {
	PID     int       `json:"pid"`
	Op      string    `json:"op"`
	Dir     string    `json:"dir"`
	Started time.Time `json:"started"`
}

// Manager hands out per-directory leases
type Manager struct {
	leaseDir string
	timeout  time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewManager keeps lease files under <stateDir>/leases. timeout bounds how
// long Acquire waits for another holder.
func NewManager(stateDir string, timeout time.Duration) *Manager {
	return &Manager{
		leaseDir: filepath.Join(stateDir, "leases"),
		timeout:  timeout,
		slots:    make(map[string]chan struct{}),
	}
}

func (m *Manager) slot(dir string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[dir]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[dir] = s
	}
	return s
}

// Acquire takes the lease for dir. The returned release must be called
// exactly once. ErrBusy is returned when the lease is not obtained within
// the manager timeout.
func (m *Manager) Acquire(ctx context.Context, dir, op string) (func(), error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	s := m.slot(absDir)
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrBusy, absDir)
	}

	db, err := m.lockFile(absDir, op)
	if err != nil {
		<-s
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			db.Close()
			<-s
		})
	}, nil
}

func (m *Manager) path(absDir string) string {
	sum := sha256.Sum256([]byte(absDir))
	return filepath.Join(m.leaseDir, hex.EncodeToString(sum[:8])+".lease")
}

func (m *Manager) lockFile(absDir, op string) (*bolt.DB, error) {
	if err := os.MkdirAll(m.leaseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lease directory: %w", err)
	}

	db, err := bolt.Open(m.path(absDir), 0600, &bolt.Options{Timeout: m.timeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, absDir)
		}
		return nil, fmt.Errorf("failed to open lease: %w", err)
	}

	holder := Holder{PID: os.Getpid(), Op: op, Dir: absDir, Started: time.Now().UTC()}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(leaseBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(holder)
		if err != nil {
			return err
		}
		return b.Put(holderKey, data)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record lease holder: %w", err)
	}

	return db, nil
}

// LastHolder returns the most recent holder recorded for dir. It waits for
// a current holder to finish, bounded by the manager timeout.
func (m *Manager) LastHolder(dir string) (*Holder, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	path := m.path(absDir)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: m.timeout, ReadOnly: true})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, absDir)
		}
		return nil, err
	}
	defer db.Close()

	var h *Holder
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(leaseBucket)
		if b == nil {
			return nil
		}
		data := b.Get(holderKey)
		if data == nil {
			return nil
		}
		h = &Holder{}
		return json.Unmarshal(data, h)
	})
	return h, err
}

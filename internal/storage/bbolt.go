package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	DBFileName    = "lockersim.db"
	SchemaVersion = "1"
	DirPermSecure = 0700
	FilePerm      = 0600
)

// Bucket names
var (
	ConfigBucket = []byte("config") // schema version, timestamps
	KeysBucket   = []byte("keys")   // wrapped key records by alias
	RunsBucket   = []byte("runs")   // batch journal, sequence-keyed
)

// Config keys
var (
	ConfigVersion = []byte("version")
	ConfigCreated = []byte("created")
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrNotInitialized = errors.New("state database not initialized")
)

// Storage provides BBolt-based state storage for lockersim
type Storage struct {
	db   *bolt.DB
	opts *bolt.Options
}

// Open opens or creates the state database at path and makes sure the
// bucket structure exists. timeout bounds the wait for the file lock held
// by another process.
func Open(path string, timeout time.Duration) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	opts := &bolt.Options{Timeout: timeout}
	db, err := bolt.Open(path, FilePerm, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db, opts: opts}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates missing buckets and stamps the schema version.
// Safe to call on an existing database.
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, KeysBucket, RunsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte(SchemaVersion)); err != nil {
			return err
		}
		created, _ := time.Now().MarshalBinary()
		return config.Put(ConfigCreated, created)
	})
}

// GetCreated returns the database creation time
func (s *Storage) GetCreated() (time.Time, error) {
	var created time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		data := config.Get(ConfigCreated)
		if data == nil {
			return ErrNotInitialized
		}
		return created.UnmarshalBinary(data)
	})
	return created, err
}

// KeyRecord is a persisted key wrapped under a passphrase-derived key
type KeyRecord struct {
	Alias      string    `json:"alias"`
	Salt       []byte    `json:"salt"`
	Iterations int       `json:"iterations"`
	Wrapped    []byte    `json:"wrapped"`
	Created    time.Time `json:"created"`
}

// GetKeyRecord returns the record stored under alias
func (s *Storage) GetKeyRecord(alias string) (*KeyRecord, error) {
	var rec *KeyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		keys := tx.Bucket(KeysBucket)
		if keys == nil {
			return ErrNotInitialized
		}
		data := keys.Get([]byte(alias))
		if data == nil {
			return ErrKeyNotFound
		}
		rec = &KeyRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetOrCreateKeyRecord returns the record under alias, or stores the one
// produced by create. Lookup and insert run in one write transaction, so
// concurrent callers (in this or another process) never both create.
func (s *Storage) GetOrCreateKeyRecord(alias string, create func() (*KeyRecord, error)) (*KeyRecord, bool, error) {
	var (
		rec     *KeyRecord
		created bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		keys := tx.Bucket(KeysBucket)
		if keys == nil {
			return ErrNotInitialized
		}

		if data := keys.Get([]byte(alias)); data != nil {
			rec = &KeyRecord{}
			return json.Unmarshal(data, rec)
		}

		newRec, err := create()
		if err != nil {
			return err
		}
		newRec.Alias = alias
		data, err := json.Marshal(newRec)
		if err != nil {
			return err
		}
		if err := keys.Put([]byte(alias), data); err != nil {
			return err
		}
		rec, created = newRec, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return rec, created, nil
}

// DeleteKeyRecord removes the record under alias
func (s *Storage) DeleteKeyRecord(alias string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		keys := tx.Bucket(KeysBucket)
		if keys == nil {
			return ErrNotInitialized
		}
		if keys.Get([]byte(alias)) == nil {
			return ErrKeyNotFound
		}
		return keys.Delete([]byte(alias))
	})
}

// RunFailure is one per-file failure inside a Run
type RunFailure struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Run is a journal entry for one batch operation
type Run struct {
	ID          string       `json:"id"`
	Op          string       `json:"op"`
	Dir         string       `json:"dir"`
	Started     time.Time    `json:"started"`
	Finished    time.Time    `json:"finished"`
	Transformed int          `json:"transformed"`
	Skipped     int          `json:"skipped"`
	Failures    []RunFailure `json:"failures,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// AppendRun stores run after all existing entries
func (s *Storage) AppendRun(run Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(RunsBucket)
		if runs == nil {
			return ErrNotInitialized
		}
		seq, err := runs.NextSequence()
		if err != nil {
			return err
		}
		// keep keys monotonic even if the sequence was reset
		if last, _ := runs.Cursor().Last(); last != nil {
			if prev := binary.BigEndian.Uint64(last); seq <= prev {
				seq = prev + 1
				if err := runs.SetSequence(seq); err != nil {
					return err
				}
			}
		}
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return runs.Put(seqKey(seq), data)
	})
}

// ListRuns returns up to limit runs, newest first. An empty dir matches all
// directories; limit <= 0 means no limit.
func (s *Storage) ListRuns(dir string, limit int) ([]Run, error) {
	var out []Run
	err := s.db.View(func(tx *bolt.Tx) error {
		runs := tx.Bucket(RunsBucket)
		if runs == nil {
			return ErrNotInitialized
		}
		c := runs.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("corrupt run %x: %w", k, err)
			}
			if dir != "" && run.Dir != dir {
				continue
			}
			out = append(out, run)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// PruneRuns deletes all but the newest keep runs and returns how many were removed
func (s *Storage) PruneRuns(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(RunsBucket)
		if runs == nil {
			return ErrNotInitialized
		}
		var stale [][]byte
		seen := 0
		c := runs.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := runs.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Compact rewrites the database into a fresh file, reclaiming space freed
// by pruned runs or forgotten keys.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, FilePerm, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, FilePerm, s.opts)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}

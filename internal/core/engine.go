package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illarion/lockersim/internal/crypto"
	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/illarion/lockersim/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	LockedSuffix   = ".gcm"
	NoteName       = "READ_ME_SIMULATION.txt"
	DefaultWorkers = 1
)

const noteText = "Your lockersim demo files were encrypted (SIMULATION).\n" +
	"Nothing has left this machine. Run `lockersim unlock <dir>` to restore them.\n"

// KeyProvider hands out the cipher used for every file
type KeyProvider interface {
	GetOrCreateKey(ctx context.Context) (*crypto.Cipher, error)
}

// Directory is the flat directory the engine works on
type Directory interface {
	Path() string
	List(ctx context.Context) ([]fsdir.Entry, error)
	Read(name string) ([]byte, error)
	// Write must fail with fsdir.ErrExists when overwrite is false and name exists
	Write(name string, data []byte, overwrite bool) error
	Delete(name string) error
}

// Leaser serializes batches on the same directory
type Leaser interface {
	Acquire(ctx context.Context, dir, op string) (release func(), err error)
}

// Journal records finished batches
type Journal interface {
	Record(ctx context.Context, res *Result) error
}

// Engine locks and unlocks directories
type Engine struct {
	keys     KeyProvider
	logger   logging.Logger
	leaser   Leaser
	journal  Journal
	workers  int
	conflict ConflictPolicy
	note     bool
	now      func() time.Time
}

type Option func(*Engine)

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithLeaser(l Leaser) Option {
	return func(e *Engine) { e.leaser = l }
}

func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithWorkers sets how many files are transformed concurrently
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithConflictPolicy(p ConflictPolicy) Option {
	return func(e *Engine) { e.conflict = p }
}

// WithNote toggles the READ_ME_SIMULATION.txt note after a lock
func WithNote(enabled bool) Option {
	return func(e *Engine) { e.note = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(keys KeyProvider, opts ...Option) *Engine {
	e := &Engine{
		keys:     keys,
		logger:   logging.Nop(),
		workers:  DefaultWorkers,
		conflict: ConflictSkip,
		note:     true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsLocked reports whether name is a locked blob
func IsLocked(name string) bool {
	return strings.HasSuffix(name, LockedSuffix)
}

// IsReserved reports names the engine may create itself: the note and
// its temp files.
func IsReserved(name string) bool {
	return name == NoteName || fsdir.IsTemp(name)
}

// IsNote reports whether data is the note written after a lock
func IsNote(data []byte) bool {
	return bytes.Equal(data, []byte(noteText))
}

// ownNote reports whether ent is the engine's note. A user file that
// happens to carry the note's name is ordinary plaintext.
func ownNote(dir Directory, ent fsdir.Entry) bool {
	if ent.Name != NoteName || !ent.Regular || ent.Size != int64(len(noteText)) {
		return false
	}
	data, err := dir.Read(ent.Name)
	return err == nil && IsNote(data)
}

func (e *Engine) cipher(ctx context.Context) (*crypto.Cipher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := e.keys.GetOrCreateKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return c, nil
}

// EncryptOne seals plaintext with a fresh random nonce, authenticating aad.
// The result is nonce || ciphertext || tag.
func (e *Engine) EncryptOne(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	c, err := e.cipher(ctx)
	if err != nil {
		return nil, err
	}
	return c.Seal(plaintext, aad)
}

// DecryptOne opens a blob produced by EncryptOne with the same aad.
func (e *Engine) DecryptOne(ctx context.Context, blob, aad []byte) ([]byte, error) {
	c, err := e.cipher(ctx)
	if err != nil {
		return nil, err
	}
	return c.Open(blob, aad)
}

// LockDirectory replaces every plaintext file in dir with <name>.gcm.
func (e *Engine) LockDirectory(ctx context.Context, dir Directory) (*Result, error) {
	return e.run(ctx, dir, OpLock)
}

// UnlockDirectory restores every <name>.gcm in dir to <name>.
func (e *Engine) UnlockDirectory(ctx context.Context, dir Directory) (*Result, error) {
	return e.run(ctx, dir, OpUnlock)
}

// LockPath opens the directory at path and locks it
func (e *Engine) LockPath(ctx context.Context, path string) (*Result, error) {
	d, err := fsdir.Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return e.LockDirectory(ctx, d)
}

// UnlockPath opens the directory at path and unlocks it
func (e *Engine) UnlockPath(ctx context.Context, path string) (*Result, error) {
	d, err := fsdir.Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return e.UnlockDirectory(ctx, d)
}

type outcome struct {
	t    Transformed
	err  error
	done bool
}

func (e *Engine) run(ctx context.Context, dir Directory, op Op) (*Result, error) {
	c, err := e.cipher(ctx)
	if err != nil {
		return nil, err
	}

	if e.leaser != nil {
		release, err := e.leaser.Acquire(ctx, dir.Path(), string(op))
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease: %w", err)
		}
		defer release()
	}

	entries, err := dir.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir.Path(), err)
	}

	res := &Result{
		RunID:   uuid.NewString(),
		Op:      op,
		Dir:     dir.Path(),
		Started: e.now(),
	}
	log := e.logger.With("run", res.RunID, "op", string(op), "dir", dir.Path())

	var todo []string
	for _, ent := range entries {
		switch {
		case fsdir.IsTemp(ent.Name), ownNote(dir, ent):
			res.Skipped = append(res.Skipped, ent.Name)
		case ent.Regular && IsLocked(ent.Name) == (op == OpUnlock):
			todo = append(todo, ent.Name)
		default:
			res.Skipped = append(res.Skipped, ent.Name)
		}
	}

	fn := func(name string) (Transformed, error) { return e.lockOne(dir, c, name) }
	if op == OpUnlock {
		fn = func(name string) (Transformed, error) { return e.unlockOne(dir, c, name) }
	}

	outcomes := e.process(ctx, todo, fn)
	for i, o := range outcomes {
		switch {
		case !o.done:
			res.Interrupted = true
		case o.err != nil:
			f := Failure{Name: todo[i], Kind: classify(o.err), Err: o.err}
			res.Failures = append(res.Failures, f)
			log.Warn(ctx, "file failed", "name", f.Name, "kind", string(f.Kind), "err", f.Err)
		default:
			res.Transformed = append(res.Transformed, o.t)
			log.Debug(ctx, "file transformed", "from", o.t.From, "to", o.t.To, "identical", o.t.Identical)
		}
	}

	switch op {
	case OpLock:
		if e.note && res.Count() > 0 {
			e.writeNote(ctx, dir, log)
		}
	case OpUnlock:
		e.removeNote(context.WithoutCancel(ctx), dir, log)
	}

	res.Finished = e.now()
	log.Info(ctx, "batch finished",
		"transformed", res.Count(),
		"failed", len(res.Failures),
		"skipped", len(res.Skipped),
		"interrupted", res.Interrupted)

	if e.journal != nil {
		if err := e.journal.Record(context.WithoutCancel(ctx), res); err != nil {
			log.Warn(ctx, "failed to record run", "err", err)
		}
	}

	if res.Interrupted {
		return res, ctx.Err()
	}
	return res, nil
}

// process applies fn to names, concurrently when workers > 1. Outcomes keep
// the order of names. Once ctx is done no new file is started.
func (e *Engine) process(ctx context.Context, names []string, fn func(string) (Transformed, error)) []outcome {
	out := make([]outcome, len(names))

	if e.workers <= 1 {
		for i, name := range names {
			if ctx.Err() != nil {
				break
			}
			t, err := fn(name)
			out[i] = outcome{t: t, err: err, done: true}
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			t, err := fn(name)
			out[i] = outcome{t: t, err: err, done: true}
			return nil
		})
	}
	g.Wait()

	return out
}

func (e *Engine) lockOne(dir Directory, c *crypto.Cipher, name string) (Transformed, error) {
	data, err := dir.Read(name)
	if err != nil {
		return Transformed{}, fmt.Errorf("failed to read: %w", err)
	}

	blob, err := c.Seal(data, []byte(name))
	if err != nil {
		return Transformed{}, err
	}
	crypto.ClearBytes(data)

	target := name + LockedSuffix
	if err := e.publish(dir, target, blob); err != nil {
		return Transformed{}, err
	}

	if err := dir.Delete(name); err != nil {
		return Transformed{}, fmt.Errorf("locked but failed to remove plaintext: %w", err)
	}

	return Transformed{From: name, To: target}, nil
}

// publish writes data under name, applying the conflict policy when the
// name is taken. keep-both has no meaning for blobs and acts as skip.
func (e *Engine) publish(dir Directory, name string, data []byte) error {
	err := dir.Write(name, data, false)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fsdir.ErrExists) {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if e.conflict != ConflictOverwrite {
		return fmt.Errorf("%w: %s", ErrTargetExists, name)
	}
	if err := dir.Write(name, data, true); err != nil {
		return fmt.Errorf("failed to overwrite %s: %w", name, err)
	}
	return nil
}

func (e *Engine) unlockOne(dir Directory, c *crypto.Cipher, name string) (Transformed, error) {
	orig := strings.TrimSuffix(name, LockedSuffix)
	if orig == "" {
		return Transformed{}, fmt.Errorf("%w: no original name", crypto.ErrMalformedBlob)
	}

	blob, err := dir.Read(name)
	if err != nil {
		return Transformed{}, fmt.Errorf("failed to read: %w", err)
	}

	plaintext, err := c.Open(blob, []byte(orig))
	if err != nil {
		return Transformed{}, err
	}

	t := Transformed{From: name, To: orig}
	err = dir.Write(orig, plaintext, false)
	switch {
	case err == nil:
	case errors.Is(err, fsdir.ErrExists):
		if t, err = e.resolveUnlock(dir, name, orig, plaintext); err != nil {
			return Transformed{}, err
		}
	default:
		return Transformed{}, fmt.Errorf("failed to write %s: %w", orig, err)
	}

	if err := dir.Delete(name); err != nil {
		return Transformed{}, fmt.Errorf("restored but failed to remove blob: %w", err)
	}

	return t, nil
}

func (e *Engine) resolveUnlock(dir Directory, blobName, orig string, plaintext []byte) (Transformed, error) {
	t := Transformed{From: blobName, To: orig}

	existing, err := dir.Read(orig)
	if err == nil && CompareFiles(existing, plaintext) {
		t.Identical = true
		return t, nil
	}
	// the note took the place of a locked user file of the same name
	if err == nil && orig == NoteName && IsNote(existing) {
		if err := dir.Write(orig, plaintext, true); err != nil {
			return t, fmt.Errorf("failed to replace note with %s: %w", orig, err)
		}
		return t, nil
	}

	switch e.conflict {
	case ConflictOverwrite:
		if err := dir.Write(orig, plaintext, true); err != nil {
			return t, fmt.Errorf("failed to overwrite %s: %w", orig, err)
		}
		return t, nil

	case ConflictKeepBoth:
		for _, alt := range keepBothNames(orig) {
			err := dir.Write(alt, plaintext, false)
			if err == nil {
				t.To = alt
				return t, nil
			}
			if !errors.Is(err, fsdir.ErrExists) {
				return t, fmt.Errorf("failed to write %s: %w", alt, err)
			}
		}
		return t, fmt.Errorf("%w: %s (too many %s copies)", ErrTargetExists, orig, KeepBothSuffix)

	default:
		return t, fmt.Errorf("%w: %s", ErrTargetExists, orig)
	}
}

// writeNote writes the note unless something already holds its name
func (e *Engine) writeNote(ctx context.Context, dir Directory, log logging.Logger) {
	err := dir.Write(NoteName, []byte(noteText), false)
	switch {
	case err == nil:
	case errors.Is(err, fsdir.ErrExists):
		log.Debug(ctx, "note name taken, not writing note")
	default:
		log.Warn(ctx, "failed to write note", "err", err)
	}
}

// removeNote deletes the note once no locked blob remains. Only a file
// holding the note text is removed.
func (e *Engine) removeNote(ctx context.Context, dir Directory, log logging.Logger) {
	data, err := dir.Read(NoteName)
	if err != nil || !IsNote(data) {
		return
	}

	entries, err := dir.List(ctx)
	if err != nil {
		log.Warn(ctx, "failed to list for note cleanup", "err", err)
		return
	}
	for _, ent := range entries {
		if ent.Regular && IsLocked(ent.Name) {
			return
		}
	}

	if err := dir.Delete(NoteName); err != nil {
		log.Warn(ctx, "failed to remove note", "err", err)
	}
}

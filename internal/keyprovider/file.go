package keyprovider

import (
	"errors"
	"fmt"
	"time"

	"github.com/illarion/lockersim/internal/crypto"
	"github.com/illarion/lockersim/internal/storage"
)

var ErrWrongPassphrase = errors.New("wrong passphrase")

// PassphraseFunc supplies the passphrase protecting the file store.
// confirm is true when a new key is about to be created.
type PassphraseFunc func(confirm bool) ([]byte, error)

// FileStore keeps the key in the state database, wrapped with AES-256-GCM
// under a PBKDF2-derived key-encryption key.
type FileStore struct {
	db         *storage.Storage
	passphrase PassphraseFunc
	iterations int
}

func NewFileStore(db *storage.Storage, passphrase PassphraseFunc) *FileStore {
	return &FileStore{
		db:         db,
		passphrase: passphrase,
		iterations: crypto.DefaultIters,
	}
}

// WithIterations overrides the PBKDF2 iteration count for newly created keys.
func (f *FileStore) WithIterations(n int) *FileStore {
	f.iterations = n
	return f
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) Exists(alias string) (bool, error) {
	_, err := f.db.GetKeyRecord(alias)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (f *FileStore) Load(alias string) ([]byte, error) {
	rec, err := f.db.GetKeyRecord(alias)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	pass, err := f.passphrase(false)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(pass)

	return unwrapKey(rec, pass)
}

// GenerateAndStore behaves like GetOrCreate; an existing key is never replaced.
func (f *FileStore) GenerateAndStore(alias string) ([]byte, error) {
	key, _, err := f.GetOrCreate(alias)
	return key, err
}

// GetOrCreate fetches or creates the key inside one bbolt write transaction.
func (f *FileStore) GetOrCreate(alias string) ([]byte, bool, error) {
	exists, err := f.Exists(alias)
	if err != nil {
		return nil, false, err
	}

	pass, err := f.passphrase(!exists)
	if err != nil {
		return nil, false, err
	}
	defer crypto.ClearBytes(pass)

	var key []byte
	rec, created, err := f.db.GetOrCreateKeyRecord(alias, func() (*storage.KeyRecord, error) {
		newKey, err := crypto.GenerateRandom(crypto.KeySize)
		if err != nil {
			return nil, err
		}
		rec, err := f.wrapKey(alias, newKey, pass)
		if err != nil {
			crypto.ClearBytes(newKey)
			return nil, err
		}
		key = newKey
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		return key, true, nil
	}

	key, err = unwrapKey(rec, pass)
	return key, false, err
}

func (f *FileStore) Delete(alias string) error {
	if err := f.db.DeleteKeyRecord(alias); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (f *FileStore) wrapKey(alias string, key, pass []byte) (*storage.KeyRecord, error) {
	kdf, err := crypto.NewKDF()
	if err != nil {
		return nil, err
	}
	kdf.Iterations = f.iterations

	kek := kdf.DeriveKey(pass)
	defer crypto.ClearBytes(kek)

	c, err := crypto.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	wrapped, err := c.Seal(key, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}

	return &storage.KeyRecord{
		Alias:      alias,
		Salt:       kdf.Salt,
		Iterations: kdf.Iterations,
		Wrapped:    wrapped,
		Created:    time.Now().UTC(),
	}, nil
}

func unwrapKey(rec *storage.KeyRecord, pass []byte) ([]byte, error) {
	kdf := &crypto.KDF{Salt: rec.Salt, Iterations: rec.Iterations}
	kek := kdf.DeriveKey(pass)
	defer crypto.ClearBytes(kek)

	c, err := crypto.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	key, err := c.Open(rec.Wrapped, []byte(rec.Alias))
	if err != nil {
		if errors.Is(err, crypto.ErrAuthFailed) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("failed to unwrap key: %w", err)
	}
	return key, nil
}

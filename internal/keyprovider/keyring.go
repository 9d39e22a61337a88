package keyprovider

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/illarion/lockersim/internal/crypto"
	"github.com/zalando/go-keyring"
)

const serviceName = "lockersim"

// KeyringStore keeps the key in the OS secret service, base64 encoded,
// under service "lockersim" and user = alias.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (k *KeyringStore) Name() string { return "keyring" }

func (k *KeyringStore) Load(alias string) ([]byte, error) {
	encoded, err := keyring.Get(serviceName, alias)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt keyring entry: %w", err)
	}
	if len(key) != crypto.KeySize {
		crypto.ClearBytes(key)
		return nil, fmt.Errorf("corrupt keyring entry: %w", crypto.ErrInvalidKey)
	}
	return key, nil
}

func (k *KeyringStore) GenerateAndStore(alias string) ([]byte, error) {
	key, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(serviceName, alias, base64.StdEncoding.EncodeToString(key)); err != nil {
		crypto.ClearBytes(key)
		return nil, fmt.Errorf("failed to save to keyring: %w", err)
	}
	return key, nil
}

func (k *KeyringStore) Delete(alias string) error {
	if err := keyring.Delete(serviceName, alias); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// Exists checks for the entry without decoding it
func (k *KeyringStore) Exists(alias string) (bool, error) {
	_, err := keyring.Get(serviceName, alias)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, keyring.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to read keyring: %w", err)
	}
}

package keyprovider

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/lockersim/internal/crypto"
	"golang.org/x/term"
)

const PassphraseEnv = "LOCKERSIM_PASSPHRASE"

var ErrNoPassphrase = errors.New("no passphrase: set " + PassphraseEnv + " or run on a terminal")

// ReadPassphrase reads a passphrase from the terminal without echoing
func ReadPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return pass, nil
}

// ReadPassphraseConfirm reads a passphrase twice and ensures they match
func ReadPassphraseConfirm() ([]byte, error) {
	p1, err := ReadPassphrase("New passphrase: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(p1)

	p2, err := ReadPassphrase("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(p2)

	if !crypto.ConstantTimeCompare(p1, p2) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	if len(p1) == 0 {
		return nil, fmt.Errorf("passphrase must not be empty")
	}

	return append([]byte(nil), p1...), nil
}

// PassphraseFromEnv returns a copy of LOCKERSIM_PASSPHRASE, or nil when unset
func PassphraseFromEnv() []byte {
	pass := os.Getenv(PassphraseEnv)
	if pass == "" {
		return nil
	}
	return []byte(pass)
}

// DefaultPassphrase prefers the environment and falls back to a terminal prompt.
func DefaultPassphrase(confirm bool) ([]byte, error) {
	if pass := PassphraseFromEnv(); pass != nil {
		return pass, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, ErrNoPassphrase
	}
	if confirm {
		return ReadPassphraseConfirm()
	}
	return ReadPassphrase("Passphrase: ")
}

// StaticPassphrase returns a PassphraseFunc that always yields pass.
func StaticPassphrase(pass string) PassphraseFunc {
	return func(bool) ([]byte, error) {
		return []byte(pass), nil
	}
}

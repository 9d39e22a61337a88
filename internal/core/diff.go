package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/illarion/lockersim/internal/crypto"
)

// FileDiff compares one locked blob with the plaintext next to it
type FileDiff struct {
	Name      string // plaintext name
	Identical bool
	Text      string // unified diff, empty when identical
	Err       error  // set when the blob could not be opened
}

// Diff decrypts every <name>.gcm whose <name> also exists and compares the
// two. Nothing is written.
func (e *Engine) Diff(ctx context.Context, dir Directory) ([]FileDiff, error) {
	c, err := e.cipher(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := dir.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir.Path(), err)
	}

	plain := make(map[string]bool, len(entries))
	for _, ent := range entries {
		if ent.Regular && !IsLocked(ent.Name) {
			plain[ent.Name] = true
		}
	}

	var diffs []FileDiff
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return diffs, err
		}
		if !ent.Regular || !IsLocked(ent.Name) {
			continue
		}
		name := strings.TrimSuffix(ent.Name, LockedSuffix)
		if !plain[name] {
			continue
		}

		d := FileDiff{Name: name}
		locked, err := openBlob(dir, c, ent.Name, name)
		if err != nil {
			d.Err = err
			diffs = append(diffs, d)
			continue
		}
		current, err := dir.Read(name)
		if err != nil {
			d.Err = fmt.Errorf("failed to read: %w", err)
			diffs = append(diffs, d)
			continue
		}

		d.Text = GenerateUnifiedDiff(name, locked, current)
		d.Identical = d.Text == ""
		diffs = append(diffs, d)
	}

	return diffs, nil
}

func openBlob(dir Directory, c *crypto.Cipher, blobName, name string) ([]byte, error) {
	blob, err := dir.Read(blobName)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}
	return c.Open(blob, []byte(name))
}

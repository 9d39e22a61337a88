package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/illarion/lockersim/internal/fsdir"
)

const (
	DefaultSeedText   = 12
	DefaultSeedBinary = 3
	SeedBinarySize    = 2048
)

// SeedText returns the content of the i-th dummy text file
func SeedText(i int, createdMs int64) []byte {
	return fmt.Appendf(nil, "Dummy file #%d\ncreated=%d\n", i, createdMs)
}

// SeedBinary returns the content of the i-th dummy binary file
func SeedBinary(i int) []byte {
	b := make([]byte, SeedBinarySize)
	for j := range b {
		b[j] = byte((j*31 + i) % 251)
	}
	return b
}

// Seed fills dir with nText text files (file_00.txt..) and nBin binary
// files (blob_00.bin..), replacing files of the same name. It returns the
// names written.
func (e *Engine) Seed(ctx context.Context, dir Directory, nText, nBin int) ([]string, error) {
	created := e.now().UnixMilli()

	var written []string
	write := func(name string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dir.Write(name, data, true); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, name)
		return nil
	}

	for i := 0; i < nText; i++ {
		if err := write(fmt.Sprintf("file_%02d.txt", i), SeedText(i, created)); err != nil {
			return written, err
		}
	}
	for i := 0; i < nBin; i++ {
		if err := write(fmt.Sprintf("blob_%02d.bin", i), SeedBinary(i)); err != nil {
			return written, err
		}
	}

	e.logger.Info(ctx, "seeded directory", "dir", dir.Path(), "files", len(written))
	return written, nil
}

// Import copies the file at srcPath into dir under its base name. A path
// without a usable base name is stored as import_<unix ms>.
func (e *Engine) Import(ctx context.Context, dir Directory, srcPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", srcPath, err)
	}

	name := filepath.Base(srcPath)
	if fsdir.ValidateName(name) != nil || IsReserved(name) {
		name = fmt.Sprintf("import_%d", e.now().UnixMilli())
	}

	err = dir.Write(name, data, e.conflict == ConflictOverwrite)
	if errors.Is(err, fsdir.ErrExists) {
		return "", fmt.Errorf("%w: %s", ErrTargetExists, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	e.logger.Info(ctx, "imported file", "src", srcPath, "name", name, "bytes", len(data))
	return name, nil
}

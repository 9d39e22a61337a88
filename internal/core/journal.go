package core

import (
	"context"

	"github.com/illarion/lockersim/internal/storage"
)

// StorageJournal records batch results in the state database
type StorageJournal struct {
	db *storage.Storage
}

func NewStorageJournal(db *storage.Storage) *StorageJournal {
	return &StorageJournal{db: db}
}

func (j *StorageJournal) Record(_ context.Context, res *Result) error {
	return j.db.AppendRun(RunFromResult(res))
}

// RunFromResult converts a Result into its journal form
func RunFromResult(res *Result) storage.Run {
	run := storage.Run{
		ID:          res.RunID,
		Op:          string(res.Op),
		Dir:         res.Dir,
		Started:     res.Started,
		Finished:    res.Finished,
		Transformed: res.Count(),
		Skipped:     len(res.Skipped),
	}
	for _, f := range res.Failures {
		run.Failures = append(run.Failures, storage.RunFailure{
			Name:    f.Name,
			Kind:    string(f.Kind),
			Message: f.Err.Error(),
		})
	}
	if res.Interrupted {
		run.Error = "interrupted"
	}
	return run
}

package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/lockersim/internal/config"
	"github.com/illarion/lockersim/internal/core"
	"github.com/illarion/lockersim/internal/keyprovider"
	"github.com/illarion/lockersim/internal/lease"
	"github.com/illarion/lockersim/internal/logging"
	"github.com/illarion/lockersim/internal/storage"
	"github.com/spf13/cobra"
)

// app carries what a command needs. Storage and the key provider are opened
// on first use so that commands like serve never touch the state database.
type app struct {
	cfg    *config.Config
	logger logging.Logger
	db     *storage.Storage
	keys   *keyprovider.Provider
}

// newApp loads the configuration layers, applies the global flags that were
// set, lets the command override its own settings, then validates.
func newApp(cmd *cobra.Command, override func(cfg *config.Config)) (*app, error) {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("state-dir") {
		cfg.StateDir = stateDirFlag
	}
	if flags.Changed("key-backend") {
		cfg.KeyBackend = keyBackendArg
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormatFlag
	}
	if override != nil {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) storage() (*storage.Storage, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(a.cfg.DBPath(), a.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) provider() (*keyprovider.Provider, error) {
	if a.keys != nil {
		return a.keys, nil
	}

	var store keyprovider.Store
	switch a.cfg.KeyBackend {
	case "keyring":
		store = keyprovider.NewKeyringStore()
	case "memory":
		store = keyprovider.NewMemoryStore()
	case "file":
		db, err := a.storage()
		if err != nil {
			return nil, err
		}
		store = keyprovider.NewFileStore(db, keyprovider.DefaultPassphrase)
	default:
		return nil, fmt.Errorf("unknown key backend %q", a.cfg.KeyBackend)
	}

	a.keys = keyprovider.New(store,
		keyprovider.WithAlias(a.cfg.KeyAlias),
		keyprovider.WithLogger(a.logger.With("component", "keyprovider")),
	)
	return a.keys, nil
}

func (a *app) leases() *lease.Manager {
	return lease.NewManager(a.cfg.StateDir, a.cfg.LockTimeout)
}

func (a *app) engine() (*core.Engine, error) {
	keys, err := a.provider()
	if err != nil {
		return nil, err
	}
	db, err := a.storage()
	if err != nil {
		return nil, err
	}
	policy, err := core.ParseConflictPolicy(a.cfg.Conflict)
	if err != nil {
		return nil, err
	}

	return core.NewEngine(keys,
		core.WithLogger(a.logger.With("component", "engine")),
		core.WithLeaser(a.leases()),
		core.WithJournal(core.NewStorageJournal(db)),
		core.WithWorkers(a.cfg.Workers),
		core.WithConflictPolicy(policy),
		core.WithNote(a.cfg.Note),
	), nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"horarios/internal/bundled"
	"horarios/internal/cache"
	"horarios/internal/config"
	"horarios/internal/db"
	"horarios/internal/schedule"
	"horarios/internal/source"
)

// errValidation makes the process exit with status 1 without usage output.
var errValidation = errors.New("validation failed")

type env struct {
	cfg   *config.Config
	store *cache.Store
	sqlDB *sql.DB
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
		e.store = nil
	}
	if e.sqlDB != nil {
		e.sqlDB.Close()
		e.sqlDB = nil
	}
}

func (e *env) cache(ctx context.Context) (*cache.Store, error) {
	if e.store == nil {
		s, err := cache.Open(ctx, e.cfg.CachePath)
		if err != nil {
			return nil, err
		}
		e.store = s
	}
	return e.store, nil
}

// remote returns nil when no remote store is configured.
func (e *env) remote() (*sql.DB, error) {
	if !e.cfg.RemoteEnabled() {
		return nil, nil
	}
	if e.sqlDB == nil {
		dsn := e.cfg.DatabaseURL
		if e.cfg.RemoteDBName != "" {
			var err error
			if dsn, err = db.WithDBName(dsn, e.cfg.RemoteDBName); err != nil {
				return nil, err
			}
		}
		sqlDB, err := db.Open(dsn)
		if err != nil {
			return nil, err
		}
		e.sqlDB = sqlDB
	}
	return e.sqlDB, nil
}

func (e *env) chain(ctx context.Context) (*source.Chain, error) {
	store, err := e.cache(ctx)
	if err != nil {
		return nil, err
	}
	c := &source.Chain{Cache: store, Timeout: e.cfg.RemoteTimeout}
	if e.cfg.BundledFallback {
		c.Bundled = bundled.Fallback()
	}
	sqlDB, err := e.remote()
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		c.Remote = db.NewLineStore(sqlDB)
	}
	return c, nil
}

// dataset loads lines from one named tier, or from the whole chain for "chain".
func (e *env) dataset(ctx context.Context, from string) (schedule.Dataset, schedule.Provenance, error) {
	switch from {
	case "chain", "":
		c, err := e.chain(ctx)
		if err != nil {
			return nil, "", err
		}
		res := c.Load(ctx)
		return res.Dataset, res.Provenance, nil
	case "remote":
		sqlDB, err := e.remote()
		if err != nil {
			return nil, "", err
		}
		if sqlDB == nil {
			return nil, "", errors.New("remote store not configured (set DATABASE_URL)")
		}
		c := &source.Chain{Remote: db.NewLineStore(sqlDB), Timeout: e.cfg.RemoteTimeout}
		res := c.Load(ctx)
		if res.Provenance != schedule.ProvenanceRemote {
			return nil, "", fmt.Errorf("remote store: %v", res.Failures[0].Err)
		}
		return res.Dataset, res.Provenance, nil
	case "bundled":
		ds, err := bundled.Load()
		return ds, schedule.ProvenanceBundled, err
	case "cache":
		store, err := e.cache(ctx)
		if err != nil {
			return nil, "", err
		}
		snap, err := store.LoadSnapshot(ctx)
		return snap.Dataset, schedule.ProvenanceCache, err
	default:
		return nil, "", fmt.Errorf("unknown source %q (want chain, remote, bundled or cache)", from)
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "horariosctl",
		Short:         "Inspect and maintain the departure board data sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			e.cfg = cfg
			return nil
		},
	}
	root.AddCommand(
		newStatusCmd(e),
		newCacheCmd(e),
		newValidateCmd(e),
		newNextCmd(e),
		newDBCmd(e),
	)
	return root
}

// execute runs root and releases whatever the command opened, also when it fails.
func execute(ctx context.Context, root *cobra.Command, e *env) error {
	defer e.close()
	return root.ExecuteContext(ctx)
}

func main() {
	// keep stdout for tables
	log.SetOutput(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e := &env{}
	if err := execute(ctx, newRootCmd(e), e); err != nil {
		if !errors.Is(err, errValidation) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

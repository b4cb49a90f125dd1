// Package persistence opens the bun database the auth repositories
// run on and drives its migrations through go-persistence-bun.
// Postgres and sqlite DSNs are supported.
package persistence

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	gopersistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	auth "github.com/service-laboratory/lab-auth"
)

const (
	MigrationsDir      = "data/sql/migrations"
	SeedsDir           = "data/sql/seeds"
	DefaultPingTimeout = 5 * time.Second
	OtelIdentifier     = "lab-auth"
)

// Config implements gopersistence.Config
type Config struct {
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

func (c Config) GetDebug() bool {
	return c.Debug
}

func (c Config) GetDriver() string {
	if isPostgres(c.DSN) {
		return "postgres"
	}
	return sqliteshim.ShimName
}

func (c Config) GetServer() string {
	return c.DSN
}

func (c Config) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return DefaultPingTimeout
	}
	return c.PingTimeout
}

func (c Config) GetOtelIdentifier() string {
	return OtelIdentifier
}

var registerModels sync.Once

// Store owns the persistence client and the bun database behind it
type Store struct {
	client *gopersistence.Client
}

// New opens cfg.DSN, checks the connection and registers the bundled
// dialect migrations. Nothing is migrated yet.
func New(ctx context.Context, cfg Config) (*Store, error) {
	sqldb, dia, err := open(cfg.DSN)
	if err != nil {
		return nil, err
	}

	registerModels.Do(func() {
		for _, m := range auth.Models() {
			gopersistence.RegisterModel(m)
		}
	})

	client, err := gopersistence.New(cfg, sqldb, dia)
	if err != nil {
		_ = sqldb.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to create persistence client")
	}

	store := &Store{client: client}

	if err := store.prepare(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	migrations, err := fs.Sub(auth.GetMigrationsFS(), MigrationsDir)
	if err != nil {
		_ = store.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read bundled migrations")
	}

	client.RegisterDialectMigrations(
		migrations,
		gopersistence.WithDialectSourceLabel(MigrationsDir),
		gopersistence.WithValidationTargets("postgres", "sqlite"),
	)

	return store, nil
}

func (s *Store) prepare(ctx context.Context) error {
	db := s.DB()
	auth.RegisterModels(db)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to connect to database")
	}

	if db.Dialect().Name() == dialect.SQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enable foreign keys")
		}
	}

	return nil
}

// DB returns the bun database the repositories should use
func (s *Store) DB() *bun.DB {
	return s.client.DB()
}

// Migrate checks that every dialect ships the same migrations, then
// applies the pending ones.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.client.ValidateDialects(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "migration dialects diverge")
	}

	if err := s.client.Migrate(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}
	return nil
}

// Rollback reverts the last applied migration group
func (s *Store) Rollback(ctx context.Context) error {
	if err := s.client.Rollback(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to roll back migrations")
	}
	return nil
}

// Report describes the last migration group, empty when nothing ran
func (s *Store) Report() string {
	report := s.client.Report()
	if report == nil || report.IsZero() {
		return ""
	}
	return report.String()
}

// SeedRoles loads the default role catalog when the roles table is
// empty. It reports whether anything was written.
func (s *Store) SeedRoles(ctx context.Context) (bool, error) {
	n, err := s.DB().NewSelect().Model((*auth.Role)(nil)).Count(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count roles")
	}

	if n > 0 {
		return false, nil
	}

	seeds, err := fs.Sub(auth.GetSeedsFS(), SeedsDir)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read bundled seeds")
	}

	s.client.RegisterFixtures(seeds)

	if err := s.client.Seed(ctx); err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to seed roles")
	}
	return true, nil
}

func (s *Store) Close() error {
	return s.DB().Close()
}

// Open picks the driver from the dsn scheme. Nothing is dialed yet.
func Open(dsn string) (*bun.DB, error) {
	sqldb, dia, err := open(dsn)
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, dia)
	auth.RegisterModels(db)
	return db, nil
}

func open(dsn string) (*sql.DB, schema.Dialect, error) {
	switch {
	case isPostgres(dsn):
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return sqldb, pgdialect.New(), nil

	case strings.HasPrefix(dsn, "sqlite://"):
		return open("file:" + strings.TrimPrefix(dsn, "sqlite://"))

	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		// sqlite allows a single writer
		sqldb.SetMaxOpenConns(1)
		return sqldb, sqlitedialect.New(), nil
	}

	return nil, nil, goerrors.New("unsupported database uri", goerrors.CategoryBadInput).
		WithMetadata(map[string]any{"scheme": scheme(dsn)})
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func scheme(dsn string) string {
	if i := strings.Index(dsn, ":"); i > 0 {
		return dsn[:i]
	}
	return ""
}

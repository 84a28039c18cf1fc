package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ai-hotline/internal/config"
	"ai-hotline/internal/observability"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Import the pgx stdlib for sqlx
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("database unavailable")
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres persistence layer. A Store whose database could not be reached is still
// usable: every query returns ErrUnavailable so callers can fall back to in-memory state.
type Store struct {
	db        *sqlx.DB
	logger    *observability.Logger
	available atomic.Bool
}

// New opens the database and pings it. It never fails: an unreachable database produces an
// unavailable Store and a warning.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) *Store {
	s := &Store{logger: logger}

	dsn := cfg.ConnectionString()
	if dsn == "" {
		logger.Warn(ctx, "database not configured, running without persistence")
		return s
	}

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		logger.WarnWithError(ctx, "failed to open database, running without persistence", err)
		return s
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	s.db = db

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		logger.WarnWithError(ctx, "database unreachable, running without persistence", err)
		return s
	}

	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			logger.WarnWithError(ctx, "failed to apply migrations", err)
		}
	}
	logger.Info(ctx, "database connected")
	return s
}

// NewWithDB wraps an existing connection, e.g. a sqlmock one in tests.
func NewWithDB(db *sqlx.DB, logger *observability.Logger) *Store {
	s := &Store{db: db, logger: logger}
	s.available.Store(db != nil)
	return s
}

// DB returns the underlying database connection
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Available reports whether the last ping succeeded.
func (s *Store) Available() bool {
	return s != nil && s.db != nil && s.available.Load()
}

// Ping checks the connection and updates Available.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	err := s.db.PingContext(ctx)
	s.available.Store(err == nil)
	return err
}

// Version returns the server version string.
func (s *Store) Version(ctx context.Context) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}
	var version string
	if err := s.db.GetContext(ctx, &version, "SELECT version()"); err != nil {
		return "", err
	}
	return version, nil
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate() error {
	if s.db == nil {
		return ErrUnavailable
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(s.db.DB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if !s.Available() {
		return ErrUnavailable
	}
	return nil
}

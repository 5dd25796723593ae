// Package database provides database connection and initialization functionality.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a Postgres connection pool with production-grade configuration.
type DB struct {
	pool *pgxpool.Pool
	name string // friendly name for logging, e.g. "batch-core"
}

// Config holds database configuration.
type Config struct {
	DSN string
	// Name is a friendly name used in logs and error messages.
	Name string
	// MaxConns bounds the pool size; defaults to 10 if zero.
	MaxConns int32
}

// New creates a new Postgres connection pool with production-grade configuration.
func New(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if cfg.Name == "" {
		cfg.Name = "batch-core"
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN for %s: %w", cfg.Name, err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{pool: pool, name: cfg.Name}, nil
}

// findSchemaDirectory locates the schema directory using the source code location.
// Schemas are part of the source tree, not the database file, so resolving relative
// to this file's own location works regardless of the process's working directory.
func findSchemaDirectory() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	absFile, err := filepath.Abs(currentFile)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path of source file: %w", err)
	}

	schemaDir := filepath.Join(filepath.Dir(absFile), "schema")
	if info, err := os.Stat(schemaDir); err != nil {
		return "", fmt.Errorf("schema directory not found at %s: %w", schemaDir, err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("schema path exists but is not a directory: %s", schemaDir)
	}

	return schemaDir, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying pgx connection pool. Used by repositories to execute queries.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Name returns the database name for logging.
func (db *DB) Name() string {
	return db.name
}

// Migrate applies every *.sql file in the schema directory, in filename order,
// tolerating "already exists" errors so migrations are idempotent across restarts.
func (db *DB) Migrate(ctx context.Context) error {
	schemaDir, err := findSchemaDirectory()
	if err != nil {
		// No schema directory bundled with this build; assume tables already exist.
		return nil
	}

	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return fmt.Errorf("failed to read schema directory %s: %w", schemaDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		path := filepath.Join(schemaDir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", entry.Name(), err)
		}

		if err := db.applySchemaFile(ctx, entry.Name(), string(content)); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) applySchemaFile(ctx context.Context, name, sql string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema %s: %w", name, err)
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		_ = tx.Rollback(ctx)

		errStr := err.Error()
		if strings.Contains(errStr, "already exists") || strings.Contains(errStr, "duplicate column") {
			return nil
		}
		return fmt.Errorf("failed to execute schema %s: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema %s: %w", name, err)
	}

	return nil
}

// WithTransaction executes fn within a database transaction. It handles begin, commit,
// rollback, and panic recovery automatically. If fn returns an error or panics, the
// transaction is rolled back; otherwise it is committed.
func WithTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) (err error) {
	if pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck performs a connectivity and pool-saturation check on the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	stat := db.pool.Stat()
	if stat.AcquiredConns() >= stat.MaxConns() {
		return fmt.Errorf("connection pool for %s is saturated: %d/%d in use", db.name, stat.AcquiredConns(), stat.MaxConns())
	}

	return nil
}

// Stats returns connection pool statistics, analogous to the teacher's SQLite file-size
// stats but scoped to what a pooled Postgres connection actually exposes locally.
type Stats struct {
	AcquiredConns int32
	IdleConns     int32
	MaxConns      int32
	TotalConns    int32
}

// GetStats retrieves connection pool statistics.
func (db *DB) GetStats() *Stats {
	stat := db.pool.Stat()
	return &Stats{
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		MaxConns:      stat.MaxConns(),
		TotalConns:    stat.TotalConns(),
	}
}

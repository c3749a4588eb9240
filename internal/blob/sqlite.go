package blob

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps blobs in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("blob database path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping blob database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run blob migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE namespace = ? AND path = ?`, namespace, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s/%s: %w", namespace, path, err)
	}
	return data, nil
}

func (s *SQLiteStore) Put(ctx context.Context, namespace, path string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (namespace, path, data, size, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, path) DO UPDATE SET data = excluded.data, size = excluded.size, updated_at = excluded.updated_at`,
		namespace, path, data, len(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put blob %s/%s: %w", namespace, path, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE namespace = ? AND path = ?`, namespace, path)
	if err != nil {
		return fmt.Errorf("delete blob %s/%s: %w", namespace, path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM blobs WHERE namespace = ? AND substr(path, 1, ?) = ? ORDER BY path`,
		namespace, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list blobs %s/%s: %w", namespace, prefix, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)

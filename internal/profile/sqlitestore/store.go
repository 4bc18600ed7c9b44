// Package sqlitestore keeps cookie jars in a single SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LinuxSuRen/wechaty/internal/profile"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS cookies (
		profile TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		expires REAL NOT NULL DEFAULT 0,
		http_only INTEGER NOT NULL DEFAULT 0,
		secure INTEGER NOT NULL DEFAULT 0,
		same_site TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (profile, position)
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		updated_at INTEGER NOT NULL
	)`,
}

// Store persists cookies in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ profile.Store = (*Store)(nil)

// Open opens a SQLite-backed cookie store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := sqlDB.Exec(stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate sqlite store: %w", err)
		}
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Load(ctx context.Context, name string) ([]webschema.Cookie, error) {
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, value, domain, path, expires, http_only, secure, same_site
		 FROM cookies WHERE profile = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", name, err)
	}
	defer rows.Close()

	var cookies []webschema.Cookie
	for rows.Next() {
		var c webschema.Cookie
		var httpOnly, secure int
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &c.Expires, &httpOnly, &secure, &c.SameSite); err != nil {
			return nil, fmt.Errorf("scan cookie: %w", err)
		}
		c.HTTPOnly = httpOnly != 0
		c.Secure = secure != 0
		cookies = append(cookies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load profile %s: %w", name, err)
	}
	return cookies, nil
}

// Save replaces the stored jar in a single transaction.
func (s *Store) Save(ctx context.Context, name string, cookies []webschema.Cookie) error {
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cookies WHERE profile = ?`, name); err != nil {
		return fmt.Errorf("clear profile %s: %w", name, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cookies (profile, position, name, value, domain, path, expires, http_only, secure, same_site)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range cookies {
		if _, err := stmt.ExecContext(ctx, name, i, c.Name, c.Value, c.Domain, c.Path, c.Expires,
			boolInt(c.HTTPOnly), boolInt(c.Secure), c.SameSite); err != nil {
			return fmt.Errorf("insert cookie %s: %w", c.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (name, updated_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("touch profile %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cookies WHERE profile = ?`, name); err != nil {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	return tx.Commit()
}

// UpdatedAt returns when the profile was last saved, or the zero time.
func (s *Store) UpdatedAt(ctx context.Context, name string) (time.Time, error) {
	var millis int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT updated_at FROM profiles WHERE name = ?`, name).Scan(&millis)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read profile %s: %w", name, err)
	}
	return time.UnixMilli(millis), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

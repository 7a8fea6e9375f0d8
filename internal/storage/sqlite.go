package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yourusername/account-gateway/internal/users"
)

const userColumns = "id, email, username, first_name, last_name, password_hash, created_at, updated_at, last_login_at"

// SQLiteStore は users.Store の SQLite 実装です。
type SQLiteStore struct {
	db        *sql.DB
	logger    *zap.Logger
	writeLock sync.Mutex // SQLite は同時書き込みができない
	now       func() time.Time
}

var _ users.Store = (*SQLiteStore)(nil)

// OpenSQLite はデータベースを開き、スキーマを作成します。
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initializeDB(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteStore{
		db:     db,
		logger: logger.Named("storage.sqlite").With(zap.String("path", cleanPath)),
		now:    time.Now,
	}, nil
}

func initializeDB(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT    PRIMARY KEY,
			email         TEXT    UNIQUE NOT NULL,
			username      TEXT    UNIQUE NOT NULL,
			first_name    TEXT    NOT NULL DEFAULT '',
			last_name     TEXT    NOT NULL DEFAULT '',
			password_hash BLOB    NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			last_login_at INTEGER
		)
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create は users.Store.Create の実装です。
func (s *SQLiteStore) Create(ctx context.Context, in users.NewUser) (*users.User, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	now := s.now().UTC()
	user := &users.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		CreatedAt:    fromMillis(toMillis(now)),
		UpdatedAt:    fromMillis(toMillis(now)),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", mapConstraintError(err))
	}

	s.logger.Debug("user inserted", zap.String("userId", user.ID))
	return user, nil
}

// FindByID は users.Store.FindByID の実装です。
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*users.User, error) {
	return s.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// FindByUsername は users.Store.FindByUsername の実装です。
func (s *SQLiteStore) FindByUsername(ctx context.Context, username string) (*users.User, error) {
	return s.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// FindByEmail は users.Store.FindByEmail の実装です。
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	return s.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

// FindByCredential は users.Store.FindByCredential の実装です。
func (s *SQLiteStore) FindByCredential(ctx context.Context, credential string) (*users.User, error) {
	return s.queryOne(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?1 OR email = ?1 LIMIT 1",
		credential,
	)
}

// UpdateProfile は users.Store.UpdateProfile の実装です。
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id string, profile users.Profile) (*users.User, error) {
	s.writeLock.Lock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET first_name = ?, last_name = ?, updated_at = ? WHERE id = ?",
		profile.FirstName,
		profile.LastName,
		toMillis(s.now()),
		id,
	)
	s.writeLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, users.ErrUserNotFound
	}

	return s.FindByID(ctx, id)
}

// TouchLogin は users.Store.TouchLogin の実装です。
func (s *SQLiteStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE users SET last_login_at = ? WHERE id = ?", toMillis(at), id)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

// Close はデータベース接続を閉じます。
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*users.User, error) {
	var (
		user        users.User
		createdAt   int64
		updatedAt   int64
		lastLoginAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&createdAt,
		&updatedAt,
		&lastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	if lastLoginAt.Valid {
		at := fromMillis(lastLoginAt.Int64)
		user.LastLoginAt = &at
	}
	return &user, nil
}

// mapConstraintError は UNIQUE 制約違反をドメインのエラーに変換します。
func mapConstraintError(err error) error {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return err
	}
	switch liteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, "users.username"):
			return errors.Join(users.ErrUsernameTaken, err)
		case strings.Contains(msg, "users.email"):
			return errors.Join(users.ErrEmailTaken, err)
		default:
			return errors.Join(users.ErrUserAlreadyExists, err)
		}
	default:
		return err
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

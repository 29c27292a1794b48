// Package store persists per-user refresh tokens in libSQL. Tokens are
// sealed with AES-256-GCM before they reach disk.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowctx/internal/secrets"
)

const saltKey = "kdf_salt"

// TokenStore implements supabase.TokenStore.
type TokenStore struct {
	db     *sql.DB
	sealer *secrets.Sealer
}

// Open opens the libSQL database at dbPath, applies pending migrations and
// derives the sealing key from key. A passphrase without a salt uses the
// salt kept in the database, creating it on first use.
// The path should be a file URI, e.g. "file:/path/to/flowctx.db".
func Open(ctx context.Context, dbPath string, key secrets.KeyConfig) (*TokenStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRowContext(ctx, p).Scan(&result)
	}

	s := &TokenStore{db: db}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if key.Passphrase != "" && len(key.MasterKey) == 0 && len(key.Salt) == 0 {
		salt, err := s.salt(ctx)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		key.Salt = salt
	}
	s.sealer, err = secrets.NewSealer(key)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *TokenStore) Close() error { return s.db.Close() }

func (s *TokenStore) salt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, saltKey).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	salt, err = secrets.NewSalt(16)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, saltKey, salt,
	); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	// Re-read in case another process won the insert.
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, saltKey).Scan(&salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return salt, nil
}

// RefreshToken returns the stored refresh token for userID. The boolean is
// false when none is stored.
func (s *TokenStore) RefreshToken(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed FROM refresh_tokens WHERE user_id = ?`, userID.String(),
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get refresh token: %w", err)
	}
	plain, err := s.sealer.Open(sealed, []byte(userID.String()))
	if err != nil {
		return "", false, fmt.Errorf("refresh token for %s: %w", userID, err)
	}
	return string(plain), true, nil
}

// SaveRefreshToken stores token for userID, replacing any previous one.
func (s *TokenStore) SaveRefreshToken(ctx context.Context, userID uuid.UUID, token string) error {
	sealed, err := s.sealer.Seal([]byte(token), []byte(userID.String()))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, sealed) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET sealed=excluded.sealed, updated_at=CURRENT_TIMESTAMP`,
		userID.String(), sealed,
	)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// DeleteRefreshToken removes the token for userID. Deleting a missing token
// is not an error.
func (s *TokenStore) DeleteRefreshToken(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID.String()); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Users lists the ids holding a stored refresh token.
func (s *TokenStore) Users(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM refresh_tokens ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("stored user id %q: %w", raw, err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

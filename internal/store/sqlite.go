// Package store provides storage backends for orderflow.
//
// This file implements an SQLite-backed store for flow contexts and carts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/carriermax/orderflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// lastActiveKey is the session_index row name for the most recent session.
const lastActiveKey = "last_active"

// SQLiteStore persists session state in a local SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	cartTTL time.Duration
}

// NewSQLiteStore creates a new SQLite store with the given options.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	ttl := cfg.CartTTL
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &SQLiteStore{db: db, cartTTL: ttl}, nil
}

// GetFlowContext retrieves the flow context for a session.
func (s *SQLiteStore) GetFlowContext(sessionID string) (*models.FlowContext, error) {
	var data string
	err := s.db.QueryRow(`SELECT context FROM flow_contexts WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFlowContext not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowContext failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query flow context for %s: %w", sessionID, err)
	}
	var fc models.FlowContext
	if err := json.Unmarshal([]byte(data), &fc); err != nil {
		slog.Error("SQLiteStore GetFlowContext JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode flow context for %s: %w", sessionID, err)
	}
	return &fc, nil
}

// SaveFlowContext upserts the flow context keyed by session id.
func (s *SQLiteStore) SaveFlowContext(fc models.FlowContext) error {
	if fc.SessionID == "" {
		return models.ErrInvalidSessionID
	}
	data, err := json.Marshal(fc)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowContext JSON marshal failed", "error", err, "sessionID", fc.SessionID)
		return fmt.Errorf("failed to encode flow context for %s: %w", fc.SessionID, err)
	}
	_, err = s.db.Exec(`INSERT INTO flow_contexts (session_id, context, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
		fc.SessionID, string(data), time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveFlowContext failed", "error", err, "sessionID", fc.SessionID)
		return fmt.Errorf("failed to save flow context for %s: %w", fc.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveFlowContext succeeded", "sessionID", fc.SessionID)
	return nil
}

// DeleteFlowContext removes the flow context for a session.
func (s *SQLiteStore) DeleteFlowContext(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_contexts WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowContext failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete flow context for %s: %w", sessionID, err)
	}
	return nil
}

// GetCart retrieves the cart for a session, lazily deleting it if expired.
func (s *SQLiteStore) GetCart(sessionID string) (*models.Cart, error) {
	var data string
	err := s.db.QueryRow(`SELECT cart FROM carts WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetCart not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCart failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query cart for %s: %w", sessionID, err)
	}
	var cart models.Cart
	if err := json.Unmarshal([]byte(data), &cart); err != nil {
		slog.Error("SQLiteStore GetCart JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode cart for %s: %w", sessionID, err)
	}
	if cart.Expired(time.Now()) {
		slog.Debug("SQLiteStore GetCart expired, deleting", "sessionID", sessionID, "expiresAt", cart.ExpiresAt)
		if err := s.DeleteCart(sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &cart, nil
}

// SaveCart upserts the cart keyed by session id.
func (s *SQLiteStore) SaveCart(cart models.Cart) error {
	if cart.SessionID == "" {
		return models.ErrInvalidSessionID
	}
	if cart.ExpiresAt.IsZero() {
		cart.ExpiresAt = time.Now().Add(s.cartTTL)
	}
	data, err := json.Marshal(cart)
	if err != nil {
		slog.Error("SQLiteStore SaveCart JSON marshal failed", "error", err, "sessionID", cart.SessionID)
		return fmt.Errorf("failed to encode cart for %s: %w", cart.SessionID, err)
	}
	_, err = s.db.Exec(`INSERT INTO carts (session_id, cart, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET cart = excluded.cart, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		cart.SessionID, string(data), cart.ExpiresAt, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveCart failed", "error", err, "sessionID", cart.SessionID)
		return fmt.Errorf("failed to save cart for %s: %w", cart.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveCart succeeded", "sessionID", cart.SessionID, "total", cart.Total)
	return nil
}

// DeleteCart removes the cart for a session.
func (s *SQLiteStore) DeleteCart(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM carts WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteCart failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete cart for %s: %w", sessionID, err)
	}
	return nil
}

// GetLastActiveSession returns the most recently active session id, or empty.
func (s *SQLiteStore) GetLastActiveSession() (string, error) {
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM session_index WHERE name = ?`, lastActiveKey).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLastActiveSession failed", "error", err)
		return "", fmt.Errorf("failed to query last active session: %w", err)
	}
	return sessionID, nil
}

// SetLastActiveSession records the most recently active session id.
func (s *SQLiteStore) SetLastActiveSession(sessionID string) error {
	_, err := s.db.Exec(`INSERT INTO session_index (name, session_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		lastActiveKey, sessionID, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SetLastActiveSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to set last active session: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

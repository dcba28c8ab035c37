// Package store provides storage backends for orderflow.
//
// This file implements a PostgreSQL-backed store for flow contexts and carts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/carriermax/orderflow/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists session state in PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	cartTTL time.Duration
}

// NewPostgresStore creates a new PostgreSQL store with the given options.
// The DSN must be a libpq connection string or postgres:// URL.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	ttl := cfg.CartTTL
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &PostgresStore{db: db, cartTTL: ttl}, nil
}

// GetFlowContext retrieves the flow context for a session.
func (s *PostgresStore) GetFlowContext(sessionID string) (*models.FlowContext, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT context FROM flow_contexts WHERE session_id = $1`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetFlowContext not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowContext failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query flow context for %s: %w", sessionID, err)
	}
	var fc models.FlowContext
	if err := json.Unmarshal(data, &fc); err != nil {
		slog.Error("PostgresStore GetFlowContext JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode flow context for %s: %w", sessionID, err)
	}
	return &fc, nil
}

// SaveFlowContext upserts the flow context keyed by session id.
func (s *PostgresStore) SaveFlowContext(fc models.FlowContext) error {
	if fc.SessionID == "" {
		return models.ErrInvalidSessionID
	}
	data, err := json.Marshal(fc)
	if err != nil {
		slog.Error("PostgresStore SaveFlowContext JSON marshal failed", "error", err, "sessionID", fc.SessionID)
		return fmt.Errorf("failed to encode flow context for %s: %w", fc.SessionID, err)
	}
	_, err = s.db.Exec(`INSERT INTO flow_contexts (session_id, context, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET context = EXCLUDED.context, updated_at = EXCLUDED.updated_at`,
		fc.SessionID, data, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveFlowContext failed", "error", err, "sessionID", fc.SessionID)
		return fmt.Errorf("failed to save flow context for %s: %w", fc.SessionID, err)
	}
	slog.Debug("PostgresStore SaveFlowContext succeeded", "sessionID", fc.SessionID)
	return nil
}

// DeleteFlowContext removes the flow context for a session.
func (s *PostgresStore) DeleteFlowContext(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_contexts WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowContext failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete flow context for %s: %w", sessionID, err)
	}
	return nil
}

// GetCart retrieves the cart for a session, lazily deleting it if expired.
func (s *PostgresStore) GetCart(sessionID string) (*models.Cart, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT cart FROM carts WHERE session_id = $1`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetCart not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCart failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query cart for %s: %w", sessionID, err)
	}
	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		slog.Error("PostgresStore GetCart JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode cart for %s: %w", sessionID, err)
	}
	if cart.Expired(time.Now()) {
		slog.Debug("PostgresStore GetCart expired, deleting", "sessionID", sessionID, "expiresAt", cart.ExpiresAt)
		if err := s.DeleteCart(sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &cart, nil
}

// SaveCart upserts the cart keyed by session id.
func (s *PostgresStore) SaveCart(cart models.Cart) error {
	if cart.SessionID == "" {
		return models.ErrInvalidSessionID
	}
	if cart.ExpiresAt.IsZero() {
		cart.ExpiresAt = time.Now().Add(s.cartTTL)
	}
	data, err := json.Marshal(cart)
	if err != nil {
		slog.Error("PostgresStore SaveCart JSON marshal failed", "error", err, "sessionID", cart.SessionID)
		return fmt.Errorf("failed to encode cart for %s: %w", cart.SessionID, err)
	}
	_, err = s.db.Exec(`INSERT INTO carts (session_id, cart, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET cart = EXCLUDED.cart, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		cart.SessionID, data, cart.ExpiresAt, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveCart failed", "error", err, "sessionID", cart.SessionID)
		return fmt.Errorf("failed to save cart for %s: %w", cart.SessionID, err)
	}
	slog.Debug("PostgresStore SaveCart succeeded", "sessionID", cart.SessionID, "total", cart.Total)
	return nil
}

// DeleteCart removes the cart for a session.
func (s *PostgresStore) DeleteCart(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM carts WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteCart failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete cart for %s: %w", sessionID, err)
	}
	return nil
}

// GetLastActiveSession returns the most recently active session id, or empty.
func (s *PostgresStore) GetLastActiveSession() (string, error) {
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM session_index WHERE name = $1`, lastActiveKey).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLastActiveSession failed", "error", err)
		return "", fmt.Errorf("failed to query last active session: %w", err)
	}
	return sessionID, nil
}

// SetLastActiveSession records the most recently active session id.
func (s *PostgresStore) SetLastActiveSession(sessionID string) error {
	_, err := s.db.Exec(`INSERT INTO session_index (name, session_id, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET session_id = EXCLUDED.session_id, updated_at = EXCLUDED.updated_at`,
		lastActiveKey, sessionID, time.Now())
	if err != nil {
		slog.Error("PostgresStore SetLastActiveSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to set last active session: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

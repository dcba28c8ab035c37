// Package store provides storage backends for orderflow session state.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backed stores for durable operation. All backends persist flow
// contexts and carts keyed by session id, and maintain the last-active
// session pointer as an explicit stored key rather than process state.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/carriermax/orderflow/internal/models"
)

// DefaultCartTTL is how long a cart lives without being refreshed.
const DefaultCartTTL = 30 * time.Minute

// Store is the persistence contract used by the flow context manager.
//
// GetFlowContext and GetCart return (nil, nil) when no row exists. GetCart
// applies lazy expiry: a cart whose ExpiresAt has passed is deleted and
// reported as absent.
type Store interface {
	GetFlowContext(sessionID string) (*models.FlowContext, error)
	SaveFlowContext(fc models.FlowContext) error
	DeleteFlowContext(sessionID string) error

	GetCart(sessionID string) (*models.Cart, error)
	SaveCart(cart models.Cart) error
	DeleteCart(sessionID string) error

	GetLastActiveSession() (string, error)
	SetLastActiveSession(sessionID string) error

	Close() error
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN     string        // database connection string (file path for SQLite)
	CartTTL time.Duration // cart time-to-live; DefaultCartTTL when zero
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithCartTTL sets the cart time-to-live.
func WithCartTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.CartTTL = ttl
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite3". URL-style and
// key=value connection strings are PostgreSQL; plain file paths are SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a map-backed Store used by tests and development mode.
type InMemoryStore struct {
	mu          sync.RWMutex
	contexts    map[string]models.FlowContext
	carts       map[string]models.Cart
	lastSession string
	now         func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contexts: make(map[string]models.FlowContext),
		carts:    make(map[string]models.Cart),
		now:      time.Now,
	}
}

// GetFlowContext returns the stored context for a session, or nil if absent.
func (s *InMemoryStore) GetFlowContext(sessionID string) (*models.FlowContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fc, ok := s.contexts[sessionID]
	if !ok {
		return nil, nil
	}
	return &fc, nil
}

// SaveFlowContext stores the context keyed by its session id.
func (s *InMemoryStore) SaveFlowContext(fc models.FlowContext) error {
	if fc.SessionID == "" {
		return models.ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[fc.SessionID] = fc
	return nil
}

// DeleteFlowContext removes the context for a session.
func (s *InMemoryStore) DeleteFlowContext(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, sessionID)
	return nil
}

// GetCart returns the stored cart for a session. An expired cart is deleted
// and reported as absent.
func (s *InMemoryStore) GetCart(sessionID string) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[sessionID]
	if !ok {
		return nil, nil
	}
	if cart.Expired(s.now()) {
		delete(s.carts, sessionID)
		return nil, nil
	}
	return &cart, nil
}

// SaveCart stores the cart keyed by its session id.
func (s *InMemoryStore) SaveCart(cart models.Cart) error {
	if cart.SessionID == "" {
		return models.ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[cart.SessionID] = cart
	return nil
}

// DeleteCart removes the cart for a session.
func (s *InMemoryStore) DeleteCart(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}

// GetLastActiveSession returns the most recently active session id, or empty.
func (s *InMemoryStore) GetLastActiveSession() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSession, nil
}

// SetLastActiveSession records the most recently active session id.
func (s *InMemoryStore) SetLastActiveSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSession = sessionID
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/pkg/logging"
)

// Manager owns the bounded conversation history of every session. Writes
// to the same session id are serialized; different sessions never contend.
type Manager struct {
	mu         sync.Mutex
	locks      map[string]*sessionLock
	store      Store
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithStore sets the store for the manager.
func WithStore(s Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithMaxEntries overrides how many exchanges are kept per session.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new session manager with the given options.
//
// Example:
//
//	mgr := session.NewManager(session.WithStore(store.NewInMemoryStore()))
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:      make(map[string]*sessionLock),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("session_manager")
	}
	return m
}

// MaxEntries reports the history bound.
func (m *Manager) MaxEntries() int {
	return m.maxEntries
}

// Create stores an empty session. It fails if the id is already taken.
func (m *Manager) Create(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", ferrors.ErrInvalidInput)
	}
	if err := m.ensureStore(); err != nil {
		return nil, err
	}

	unlock := m.lock(id)
	defer unlock()

	if _, err := m.store.Load(ctx, id); err == nil {
		m.logger.Warn("create session aborted; already exists", "id", id)
		return nil, fmt.Errorf("session %s: %w", id, ferrors.ErrAlreadyExists)
	} else if !ferrors.Is(err, ferrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}

	record := NewRecord(id)
	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("create session persist failed", "id", id, "error", err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	m.logger.Info("session created", "id", id)
	return record.Clone(), nil
}

// Get returns a copy of the session record.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	if err := m.ensureStore(); err != nil {
		return nil, err
	}
	record, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// History returns the stored exchanges oldest first. Unknown sessions have
// an empty history.
func (m *Manager) History(ctx context.Context, id string) ([]Entry, error) {
	if id == "" {
		return nil, nil
	}
	record, err := m.Get(ctx, id)
	if ferrors.Is(err, ferrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Entries, nil
}

// Last returns the latest exchange of a session, if any.
func (m *Manager) Last(ctx context.Context, id string) (Entry, bool, error) {
	entries, err := m.History(ctx, id)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// Append records an exchange, creating the session when needed and evicting
// the oldest entries past the bound.
func (m *Manager) Append(ctx context.Context, id, question, answer string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty: %w", ferrors.ErrInvalidInput)
	}
	if err := m.ensureStore(); err != nil {
		return err
	}

	unlock := m.lock(id)
	defer unlock()

	record, err := m.store.Load(ctx, id)
	switch {
	case ferrors.Is(err, ferrors.ErrNotFound):
		record = NewRecord(id)
	case err != nil:
		m.logger.Error("append load failed", "id", id, "error", err)
		return fmt.Errorf("failed to load session: %w", err)
	}

	before := len(record.Entries)
	record.push(Entry{Question: question, Answer: answer, At: m.now()}, m.maxEntries)
	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("append persist failed", "id", id, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	if evicted := before + 1 - len(record.Entries); evicted > 0 {
		m.logger.Debug("session history trimmed", "id", id, "evicted", evicted)
	}
	return nil
}

// Evict removes a session and its history.
func (m *Manager) Evict(ctx context.Context, id string) error {
	if err := m.ensureStore(); err != nil {
		return err
	}
	unlock := m.lock(id)
	defer unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error("evict session failed", "id", id, "error", err)
		return err
	}
	m.logger.Info("session evicted", "id", id)
	return nil
}

// sessionLock serializes writers of one session id. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) ensureStore() error {
	if m.store == nil {
		return fmt.Errorf("session manager store is not configured")
	}
	return nil
}

// Package state holds the client-side application state: the authenticated
// user and the transaction list, refreshed through a Backend and published to
// subscribers on every change.
package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/backend"
	"github.com/kaiwen/pointlink/internal/domain"
	"github.com/kaiwen/pointlink/internal/session"
)

// Snapshot is an immutable view of the application state at one point in
// time. The User pointer is nil when no session is active.
type Snapshot struct {
	User         *domain.User
	Transactions []domain.Transaction
}

// Listener receives a snapshot after every state change.
type Listener func(Snapshot)

// Store coordinates the session, the backend and the in-memory state. All
// methods are safe for concurrent use.
type Store struct {
	backend  backend.Backend
	sessions session.Store
	logger   *slog.Logger

	mu           sync.RWMutex
	user         *domain.User
	transactions []domain.Transaction
	listeners    []Listener
}

// New builds a store around the given backend and session store.
func New(b backend.Backend, sessions session.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: b, sessions: sessions, logger: logger}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Transactions: append([]domain.Transaction(nil), s.transactions...)}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Subscribe registers a listener for future state changes. There is no
// unsubscribe; the store lives as long as the process.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// apply runs a mutation under the lock, then notifies listeners outside it so
// they may call back into the store.
func (s *Store) apply(mutate func()) {
	s.mu.Lock()
	mutate()
	snap := s.snapshotLocked()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Login authenticates, persists the token and replaces the user wholesale.
func (s *Store) Login(ctx context.Context, email, password string) (domain.User, error) {
	sess, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return domain.User{}, err
	}
	// The backend already stored the token during login; writing it again is
	// harmless and keeps this path correct for backends that do not.
	if err := s.sessions.SetToken(sess.Token); err != nil {
		return domain.User{}, err
	}

	user := sess.User
	s.apply(func() { s.user = &user })

	s.logger.Info("logged in", "userId", sess.User.UserID)
	return sess.User, nil
}

// Logout tears the session down locally regardless of whether the remote
// call succeeded.
func (s *Store) Logout(ctx context.Context) {
	if ok := s.backend.Logout(ctx); !ok {
		s.logger.Warn("remote logout failed, clearing local session anyway")
	}
	if err := s.sessions.Clear(); err != nil {
		s.logger.Warn("clear session", "error", err)
	}

	s.apply(func() {
		s.user = nil
		s.transactions = nil
	})
}

// FetchCurrentUser refreshes the authenticated identity. Without a token it
// clears the user and returns nil. An authentication failure clears the
// session and propagates; any other failure propagates with the session and
// the last known user intact, so a flaky network never logs the user out.
func (s *Store) FetchCurrentUser(ctx context.Context) (*domain.User, error) {
	if _, ok := s.sessions.Token(); !ok {
		s.apply(func() { s.user = nil })
		return nil, nil
	}

	user, err := s.backend.CurrentUser(ctx)
	if err != nil {
		if apierr.IsAuth(err) {
			s.logger.Info("session rejected, clearing token")
			if cerr := s.sessions.Clear(); cerr != nil {
				s.logger.Warn("clear session", "error", cerr)
			}
			s.apply(func() { s.user = nil })
		}
		return nil, err
	}

	// Replace wholesale: a fresh value, never a merge of old and new fields.
	s.apply(func() { s.user = &user })
	u := user
	return &u, nil
}

// FetchTransactions refreshes the transaction list.
func (s *Store) FetchTransactions(ctx context.Context) ([]domain.Transaction, error) {
	txs, err := s.backend.Transactions(ctx)
	if err != nil {
		return nil, err
	}

	s.apply(func() { s.transactions = txs })
	return append([]domain.Transaction(nil), txs...), nil
}

// User returns the current user, or nil when logged out.
func (s *Store) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

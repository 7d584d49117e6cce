package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/backend"
	"github.com/kaiwen/pointlink/internal/domain"
	"github.com/kaiwen/pointlink/internal/session"
)

// stubBackend lets each test script backend responses per call.
type stubBackend struct {
	loginSession backend.Session
	loginErr     error
	logoutOK     bool
	user         domain.User
	userErr      error
	transactions []domain.Transaction
	txErr        error

	currentUserCalls int
}

func (s *stubBackend) Login(context.Context, string, string) (backend.Session, error) {
	return s.loginSession, s.loginErr
}

func (s *stubBackend) Logout(context.Context) bool { return s.logoutOK }

func (s *stubBackend) Register(context.Context, string, string, string) (backend.Registration, error) {
	return backend.Registration{}, nil
}

func (s *stubBackend) CurrentUser(context.Context) (domain.User, error) {
	s.currentUserCalls++
	return s.user, s.userErr
}

func (s *stubBackend) Balance(context.Context) (float64, error) {
	return s.user.Balance, s.userErr
}

func (s *stubBackend) Transactions(context.Context) ([]domain.Transaction, error) {
	return s.transactions, s.txErr
}

func (s *stubBackend) Transaction(context.Context, string) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

func (s *stubBackend) PublicTransaction(context.Context, string) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

func (s *stubBackend) Prepare(context.Context, backend.PrepareInput) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

func (s *stubBackend) Confirm(context.Context, string, string) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

func (s *stubBackend) ConfirmPublic(context.Context, string, string, string) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

func (s *stubBackend) Cancel(context.Context, string) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

var _ backend.Backend = (*stubBackend)(nil)

func TestLoginStoresTokenAndUser(t *testing.T) {
	stub := &stubBackend{
		loginSession: backend.Session{
			Token: "tok-1",
			User:  domain.User{UserID: "u1", Email: "alice@example.com", Balance: 100},
		},
	}
	sessions := session.NewMemoryStore()
	store := New(stub, sessions, nil)

	var published []Snapshot
	store.Subscribe(func(snap Snapshot) { published = append(published, snap) })

	user, err := store.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "u1", user.UserID)

	token, ok := sessions.Token()
	require.True(t, ok)
	require.Equal(t, "tok-1", token)

	require.Len(t, published, 1)
	require.NotNil(t, published[0].User)
	require.Equal(t, "u1", published[0].User.UserID)
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	stub := &stubBackend{loginErr: &apierr.AuthError{Detail: "invalid credentials"}}
	sessions := session.NewMemoryStore()
	store := New(stub, sessions, nil)

	_, err := store.Login(context.Background(), "alice@example.com", "wrong")
	require.True(t, apierr.IsAuth(err))

	_, ok := sessions.Token()
	require.False(t, ok)
	require.Nil(t, store.User())
}

func TestLogoutClearsEverythingEvenWhenRemoteFails(t *testing.T) {
	stub := &stubBackend{
		loginSession: backend.Session{Token: "tok-1", User: domain.User{UserID: "u1"}},
		logoutOK:     false,
	}
	sessions := session.NewMemoryStore()
	store := New(stub, sessions, nil)

	_, err := store.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	store.Logout(context.Background())

	_, ok := sessions.Token()
	require.False(t, ok)
	require.Nil(t, store.User())
	require.Empty(t, store.Snapshot().Transactions)
}

func TestFetchCurrentUserWithoutTokenClearsUser(t *testing.T) {
	stub := &stubBackend{}
	store := New(stub, session.NewMemoryStore(), nil)

	user, err := store.FetchCurrentUser(context.Background())
	require.NoError(t, err)
	require.Nil(t, user)
	require.Zero(t, stub.currentUserCalls)
}

func TestFetchCurrentUserAuthFailureClearsSession(t *testing.T) {
	stub := &stubBackend{
		loginSession: backend.Session{Token: "tok-1", User: domain.User{UserID: "u1"}},
		logoutOK:     true,
	}
	sessions := session.NewMemoryStore()
	store := New(stub, sessions, nil)

	_, err := store.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	stub.userErr = &apierr.AuthError{Detail: "token expired"}
	_, err = store.FetchCurrentUser(context.Background())
	require.True(t, apierr.IsAuth(err))

	_, ok := sessions.Token()
	require.False(t, ok)
	require.Nil(t, store.User())
}

func TestFetchCurrentUserNetworkFailureKeepsSession(t *testing.T) {
	stub := &stubBackend{
		loginSession: backend.Session{Token: "tok-1", User: domain.User{UserID: "u1", Balance: 50}},
	}
	sessions := session.NewMemoryStore()
	store := New(stub, sessions, nil)

	_, err := store.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	stub.userErr = &apierr.NetworkError{Err: errors.New("connection refused")}
	_, err = store.FetchCurrentUser(context.Background())
	var nerr *apierr.NetworkError
	require.ErrorAs(t, err, &nerr)

	// Transient failure: the session and the last known user survive.
	_, ok := sessions.Token()
	require.True(t, ok)
	require.NotNil(t, store.User())
	require.Equal(t, float64(50), store.User().Balance)
}

func TestFetchCurrentUserReplacesWholesale(t *testing.T) {
	stub := &stubBackend{
		loginSession: backend.Session{Token: "tok-1", User: domain.User{UserID: "u1", Name: "Old Name", Balance: 100}},
	}
	sessions := session.NewMemoryStore()
	store := New(stub, sessions, nil)

	_, err := store.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	// The refreshed value has an empty name; the old one must not bleed in.
	stub.user = domain.User{UserID: "u1", Balance: 90}
	refreshed, err := store.FetchCurrentUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(90), refreshed.Balance)
	require.Empty(t, refreshed.Name)
	require.Empty(t, store.User().Name)
}

func TestFetchTransactionsPublishes(t *testing.T) {
	stub := &stubBackend{
		transactions: []domain.Transaction{
			{TransactionID: "tx1", Status: domain.StatusPending},
			{TransactionID: "tx2", Status: domain.StatusCompleted},
		},
	}
	store := New(stub, session.NewMemoryStore(), nil)

	var published []Snapshot
	store.Subscribe(func(snap Snapshot) { published = append(published, snap) })

	txs, err := store.FetchTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2)

	require.Len(t, published, 1)
	require.Len(t, published[0].Transactions, 2)

	stub.txErr = &apierr.NetworkError{Err: errors.New("timeout")}
	_, err = store.FetchTransactions(context.Background())
	require.Error(t, err)
	// Failed refresh keeps the previous list.
	require.Len(t, store.Snapshot().Transactions, 2)
}

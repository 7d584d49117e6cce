package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/domain"
)

// MockToken is the fixed token literal mock-mode logins resolve with.
const MockToken = "mock-token-123456"

// DefaultLatency approximates network round-trip time in mock mode.
const DefaultLatency = 500 * time.Millisecond

// MemoryOptions configures the in-memory backend.
type MemoryOptions struct {
	// Latency delays every operation to exercise loading states. Zero means
	// DefaultLatency; negative disables the delay entirely.
	Latency time.Duration
	// Perturb applies small random balance deltas on identity fetches, purely
	// to exercise reactive consumers. It stays off unless a test or demo asks
	// for it; the HTTP path never does this.
	Perturb bool
	// StateFile, when set, persists the shadow transaction list across
	// process restarts within a session. Logout removes it.
	StateFile string
	// Rand seeds the perturbation and id suffixes; nil uses a time seed.
	Rand *rand.Rand
}

// Memory simulates the transfer service from canned data, no network
// involved. Transactions lists the whole shared dataset rather than scoping
// by user, matching the simulation it replaces; the ledger-backed dev server
// is the component that gets the scoping right.
type Memory struct {
	mu           sync.Mutex
	user         domain.User
	transactions []domain.Transaction

	latency   time.Duration
	perturb   bool
	stateFile string
	rng       *rand.Rand
	now       func() time.Time
}

var _ Backend = (*Memory)(nil)

// NewMemory builds the mock backend seeded with the canned dataset, loading a
// previously persisted shadow list when one exists.
func NewMemory(opts MemoryOptions) *Memory {
	latency := opts.Latency
	if latency == 0 {
		latency = DefaultLatency
	}
	if latency < 0 {
		latency = 0
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	m := &Memory{
		user:      mockUser(),
		latency:   latency,
		perturb:   opts.Perturb,
		stateFile: opts.StateFile,
		rng:       rng,
		now:       time.Now,
	}
	m.transactions = seedTransactions(m.now())
	m.loadSnapshot()
	return m
}

// WithClock overrides the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func mockUser() domain.User {
	return domain.User{
		UserID:  "user123",
		Name:    "Test User",
		Email:   "test@example.com",
		Balance: 1000,
	}
}

func seedTransactions(now time.Time) []domain.Transaction {
	return []domain.Transaction{
		{
			TransactionID: "tx001",
			Amount:        100,
			SenderID:      "user123",
			SenderName:    "Test User",
			ReceiverID:    "user456",
			ReceiverName:  "Alex Wang",
			Status:        domain.StatusCompleted,
			CreatedAt:     now.Add(-24 * time.Hour),
		},
		{
			TransactionID: "tx002",
			Amount:        50,
			SenderID:      "user789",
			SenderName:    "Jamie Lin",
			ReceiverID:    "user123",
			ReceiverName:  "Test User",
			Status:        domain.StatusCompleted,
			CreatedAt:     now.Add(-time.Hour),
		},
	}
}

// wait simulates network latency, honouring cancellation.
func (m *Memory) wait(ctx context.Context) error {
	if m.latency == 0 {
		return nil
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Login implements Backend. Mock mode accepts any credentials and resolves
// with the fixed token and the canned user.
func (m *Memory) Login(ctx context.Context, email, password string) (Session, error) {
	if err := m.wait(ctx); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Session{Token: MockToken, User: m.user}, nil
}

// Logout implements Backend. It ends the mock session by discarding the
// persisted shadow list.
func (m *Memory) Logout(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateFile != "" {
		if err := os.Remove(m.stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}

// Register implements Backend.
func (m *Memory) Register(ctx context.Context, name, email, password string) (Registration, error) {
	if err := m.wait(ctx); err != nil {
		return Registration{}, err
	}
	if name == "" || email == "" || password == "" {
		return Registration{}, &apierr.ValidationError{Detail: "name, email and password are required"}
	}
	return Registration{
		UserID: "mock-user-" + uuid.NewString(),
		Name:   name,
		Email:  email,
	}, nil
}

// CurrentUser implements Backend. Every call returns a fresh copy so
// observers always see a materially new value.
func (m *Memory) CurrentUser(ctx context.Context) (domain.User, error) {
	if err := m.wait(ctx); err != nil {
		return domain.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	user := m.user
	if m.perturb && m.rng.Intn(2) == 1 {
		user.Balance = float64(int(user.Balance*100+m.rng.Float64()*10)) / 100
	}
	return user, nil
}

// Balance implements Backend.
func (m *Memory) Balance(ctx context.Context) (float64, error) {
	user, err := m.CurrentUser(ctx)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Transactions implements Backend.
func (m *Memory) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.transactions...), nil
}

// Transaction implements Backend.
func (m *Memory) Transaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if transactionID == "" {
		return domain.Transaction{}, &apierr.MissingArgumentError{Argument: "transactionId"}
	}
	if err := m.wait(ctx); err != nil {
		return domain.Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.findLocked(transactionID)
	if tx == nil {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	return *tx, nil
}

// PublicTransaction implements Backend.
func (m *Memory) PublicTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	tx, err := m.Transaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Pending() && tx.Expired(m.now()) {
		return domain.Transaction{}, &apierr.ValidationError{Detail: "transaction expired"}
	}
	return tx, nil
}

// Prepare implements Backend.
func (m *Memory) Prepare(ctx context.Context, in PrepareInput) (domain.Transaction, error) {
	if in.Amount <= 0 {
		return domain.Transaction{}, &apierr.ValidationError{Detail: "amount must be greater than zero"}
	}
	if err := m.wait(ctx); err != nil {
		return domain.Transaction{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expires := now.Add(domain.ClaimWindow)
	tx := domain.Transaction{
		TransactionID: "tx-" + uuid.NewString()[:8],
		Amount:        in.Amount,
		Note:          in.Note,
		SenderID:      in.SenderID,
		SenderName:    in.SenderName,
		ReceiverEmail: in.ReceiverEmail,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     &expires,
	}
	m.transactions = append(m.transactions, tx)
	m.saveSnapshotLocked()
	return tx, nil
}

// Confirm implements Backend. The receiver identity is synthesized and the
// display name falls back to the email's local part.
func (m *Memory) Confirm(ctx context.Context, transactionID, receiverEmail string) (domain.Transaction, error) {
	if err := requireConfirmArgs(transactionID, receiverEmail); err != nil {
		return domain.Transaction{}, err
	}
	if err := m.wait(ctx); err != nil {
		return domain.Transaction{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.findLocked(transactionID)
	if tx == nil {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	if !tx.Pending() {
		return domain.Transaction{}, &apierr.AlreadyProcessedError{TransactionID: transactionID}
	}

	now := m.now()
	tx.Status = domain.StatusCompleted
	tx.ReceiverEmail = receiverEmail
	tx.ReceiverID = fmt.Sprintf("user-%05x", m.rng.Intn(1<<20))
	tx.ReceiverName = localPart(receiverEmail)
	tx.CompletedAt = &now
	m.saveSnapshotLocked()
	return *tx, nil
}

// ConfirmPublic implements Backend. Anonymous claims record the sentinel
// receiver id.
func (m *Memory) ConfirmPublic(ctx context.Context, transactionID, email, name string) (domain.Transaction, error) {
	if err := requireConfirmArgs(transactionID, email); err != nil {
		return domain.Transaction{}, err
	}
	if err := m.wait(ctx); err != nil {
		return domain.Transaction{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.findLocked(transactionID)
	if tx == nil {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	if !tx.Pending() {
		return domain.Transaction{}, &apierr.AlreadyProcessedError{TransactionID: transactionID}
	}

	if name == "" {
		name = domain.AnonymousReceiverName
	}
	now := m.now()
	tx.Status = domain.StatusCompleted
	tx.ReceiverID = domain.PublicReceiverID
	tx.ReceiverEmail = email
	tx.ReceiverName = name
	tx.CompletedAt = &now
	m.saveSnapshotLocked()
	return *tx, nil
}

// Cancel implements Backend.
func (m *Memory) Cancel(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if transactionID == "" {
		return domain.Transaction{}, &apierr.MissingArgumentError{Argument: "transactionId"}
	}
	if err := m.wait(ctx); err != nil {
		return domain.Transaction{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.findLocked(transactionID)
	if tx == nil {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	if !tx.Pending() {
		return domain.Transaction{}, &apierr.AlreadyProcessedError{TransactionID: transactionID}
	}

	now := m.now()
	tx.Status = domain.StatusCancelled
	tx.CompletedAt = &now
	m.saveSnapshotLocked()
	return *tx, nil
}

func (m *Memory) findLocked(transactionID string) *domain.Transaction {
	for i := range m.transactions {
		if m.transactions[i].TransactionID == transactionID {
			return &m.transactions[i]
		}
	}
	return nil
}

func localPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// loadSnapshot merges a persisted shadow list over the seeds. Corrupt or
// missing snapshots are ignored; the seeds still apply.
func (m *Memory) loadSnapshot() {
	if m.stateFile == "" {
		return
	}
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return
	}
	var stored []domain.Transaction
	if err := json.Unmarshal(data, &stored); err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]struct{}, len(m.transactions))
	for _, tx := range m.transactions {
		known[tx.TransactionID] = struct{}{}
	}
	for _, tx := range stored {
		if _, ok := known[tx.TransactionID]; !ok {
			m.transactions = append(m.transactions, tx)
		}
	}
}

// saveSnapshotLocked persists the shadow list. Failures are swallowed: the
// snapshot is a convenience, not a contract. Caller holds the lock.
func (m *Memory) saveSnapshotLocked() {
	if m.stateFile == "" {
		return
	}
	data, err := json.Marshal(m.transactions)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(m.stateFile, data, 0o600)
}

package backend

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/domain"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(MemoryOptions{
		Latency: -1,
		Rand:    rand.New(rand.NewSource(1)),
	})
}

func TestMemoryLoginResolvesFixedSession(t *testing.T) {
	m := newTestMemory(t)

	start := time.Now()
	sess, err := m.Login(context.Background(), "anything@example.com", "whatever")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond)

	require.Equal(t, MockToken, sess.Token)
	require.Equal(t, "user123", sess.User.UserID)
	require.Equal(t, "test@example.com", sess.User.Email)
	require.Equal(t, float64(1000), sess.User.Balance)
}

func TestMemoryLatencyHonoursCancellation(t *testing.T) {
	m := NewMemory(MemoryOptions{Latency: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Login(ctx, "a@b.com", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemorySeedsTwoCompletedTransactions(t *testing.T) {
	m := newTestMemory(t)

	txs, err := m.Transactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "tx001", txs[0].TransactionID)
	require.Equal(t, "tx002", txs[1].TransactionID)
	for _, tx := range txs {
		require.Equal(t, domain.StatusCompleted, tx.Status)
	}
}

func TestMemoryPrepareStampsClaimWindow(t *testing.T) {
	m := newTestMemory(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return now })

	tx, err := m.Prepare(context.Background(), PrepareInput{
		Amount:     25,
		Note:       "thanks",
		SenderID:   "user123",
		SenderName: "Test User",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, tx.Status)
	require.Equal(t, now, tx.CreatedAt)
	require.NotNil(t, tx.ExpiresAt)
	require.Equal(t, now.Add(30*time.Minute), *tx.ExpiresAt)

	var verr *apierr.ValidationError
	_, err = m.Prepare(context.Background(), PrepareInput{Amount: 0})
	require.ErrorAs(t, err, &verr)
}

func TestMemoryConfirmDerivesReceiverFromEmail(t *testing.T) {
	m := newTestMemory(t)

	tx, err := m.Prepare(context.Background(), PrepareInput{Amount: 10, SenderID: "user123"})
	require.NoError(t, err)

	confirmed, err := m.Confirm(context.Background(), tx.TransactionID, "casey@example.com")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, confirmed.Status)
	require.Equal(t, "casey", confirmed.ReceiverName)
	require.Equal(t, "casey@example.com", confirmed.ReceiverEmail)
	require.NotEmpty(t, confirmed.ReceiverID)
	require.NotEqual(t, domain.PublicReceiverID, confirmed.ReceiverID)
	require.NotNil(t, confirmed.CompletedAt)

	var aperr *apierr.AlreadyProcessedError
	_, err = m.Confirm(context.Background(), tx.TransactionID, "casey@example.com")
	require.ErrorAs(t, err, &aperr)
}

func TestMemoryConfirmRequiresArgumentsBeforeLookup(t *testing.T) {
	m := newTestMemory(t)

	var merr *apierr.MissingArgumentError
	_, err := m.Confirm(context.Background(), "", "casey@example.com")
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "transactionId", merr.Argument)

	// Missing email wins over the unknown id: no lookup has happened yet.
	_, err = m.Confirm(context.Background(), "no-such-tx", "")
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "receiverEmail", merr.Argument)
}

func TestMemoryConfirmPublicUsesSentinelReceiver(t *testing.T) {
	m := newTestMemory(t)

	tx, err := m.Prepare(context.Background(), PrepareInput{Amount: 10, SenderID: "user123"})
	require.NoError(t, err)

	confirmed, err := m.ConfirmPublic(context.Background(), tx.TransactionID, "guest@example.com", "")
	require.NoError(t, err)
	require.Equal(t, domain.PublicReceiverID, confirmed.ReceiverID)
	require.Equal(t, domain.AnonymousReceiverName, confirmed.ReceiverName)

	named, err := m.Prepare(context.Background(), PrepareInput{Amount: 5, SenderID: "user123"})
	require.NoError(t, err)
	confirmed, err = m.ConfirmPublic(context.Background(), named.TransactionID, "guest@example.com", "Guest Gao")
	require.NoError(t, err)
	require.Equal(t, "Guest Gao", confirmed.ReceiverName)
}

func TestMemoryPublicTransactionRejectsExpiredPending(t *testing.T) {
	m := newTestMemory(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return now })

	tx, err := m.Prepare(context.Background(), PrepareInput{Amount: 10, SenderID: "user123"})
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)

	var verr *apierr.ValidationError
	_, err = m.PublicTransaction(context.Background(), tx.TransactionID)
	require.ErrorAs(t, err, &verr)

	// The authenticated view still sees it.
	_, err = m.Transaction(context.Background(), tx.TransactionID)
	require.NoError(t, err)
}

func TestMemoryCancel(t *testing.T) {
	m := newTestMemory(t)

	tx, err := m.Prepare(context.Background(), PrepareInput{Amount: 10, SenderID: "user123"})
	require.NoError(t, err)

	cancelled, err := m.Cancel(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)

	var aperr *apierr.AlreadyProcessedError
	_, err = m.Cancel(context.Background(), tx.TransactionID)
	require.ErrorAs(t, err, &aperr)

	var nferr *apierr.NotFoundError
	_, err = m.Cancel(context.Background(), "no-such-tx")
	require.ErrorAs(t, err, &nferr)
}

func TestMemoryBalanceStableWithoutPerturbation(t *testing.T) {
	m := newTestMemory(t)

	for i := 0; i < 5; i++ {
		balance, err := m.Balance(context.Background())
		require.NoError(t, err)
		require.Equal(t, float64(1000), balance)
	}
}

func TestMemorySnapshotSurvivesRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "mock-state.json")

	first := NewMemory(MemoryOptions{Latency: -1, StateFile: stateFile})
	tx, err := first.Prepare(context.Background(), PrepareInput{Amount: 10, SenderID: "user123"})
	require.NoError(t, err)

	second := NewMemory(MemoryOptions{Latency: -1, StateFile: stateFile})
	reloaded, err := second.Transaction(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, reloaded.Status)

	// Logout discards the snapshot; a fresh instance is back to the seeds.
	require.True(t, second.Logout(context.Background()))
	third := NewMemory(MemoryOptions{Latency: -1, StateFile: stateFile})
	_, err = third.Transaction(context.Background(), tx.TransactionID)
	var nferr *apierr.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

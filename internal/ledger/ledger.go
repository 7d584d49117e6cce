// Package ledger is an in-memory simulation of the settlement backend: user
// accounts with bcrypt credentials, bearer-token auth, and the
// hold/credit/refund lifecycle of point transfers. It backs the local dev
// server; the production backend is external and owns the real records.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/domain"
)

// InitialBalance is granted to every newly registered account.
const InitialBalance = 100

// PrepareInput carries the sender-supplied fields of a new transfer.
type PrepareInput struct {
	Amount        float64
	Note          string
	ReceiverEmail string
}

type account struct {
	user           domain.User
	hashedPassword []byte
}

// Ledger holds simulated accounts and transfers behind a single mutex, which
// is what makes confirm at-most-once: status check and mutation happen in one
// critical section.
type Ledger struct {
	mu           sync.Mutex
	accounts     map[string]*account // keyed by email
	transactions map[string]*domain.Transaction

	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
	newID    func() string
}

// New builds an empty Ledger signing tokens with secret.
func New(secret string, tokenTTL time.Duration) *Ledger {
	return &Ledger{
		accounts:     make(map[string]*account),
		transactions: make(map[string]*domain.Transaction),
		secret:       []byte(secret),
		tokenTTL:     tokenTTL,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// WithClock overrides the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithIDGenerator overrides the identifier source, for tests.
func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.newID = gen
	return l
}

// Seed installs the canonical development dataset: one account with two
// pending transfers, mirroring what the client's mock mode expects to find.
func (l *Ledger) Seed() error {
	user, err := l.Register("Test User", "test@example.com", "password123")
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.accounts[user.Email].user.Balance = 1000
	l.mu.Unlock()

	if _, err := l.Prepare(user.Email, PrepareInput{Amount: 100, Note: "Seed transfer 1"}); err != nil {
		return err
	}
	if _, err := l.Prepare(user.Email, PrepareInput{Amount: 50, Note: "Seed transfer 2"}); err != nil {
		return err
	}
	return nil
}

// Register creates an account with the starting balance. Duplicate emails are
// rejected.
func (l *Ledger) Register(name, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return domain.User{}, &apierr.ValidationError{Detail: "name, email and password are required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[email]; exists {
		return domain.User{}, &apierr.ValidationError{Detail: "this email has already been registered"}
	}

	user := domain.User{
		UserID:    l.newID(),
		Name:      name,
		Email:     email,
		Balance:   InitialBalance,
		CreatedAt: l.now(),
	}
	l.accounts[email] = &account{user: user, hashedPassword: hash}
	return user, nil
}

// Authenticate checks credentials and mints a signed bearer token.
func (l *Ledger) Authenticate(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	l.mu.Lock()
	acct, ok := l.accounts[email]
	l.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acct.hashedPassword, []byte(password)) != nil {
		return "", &apierr.AuthError{Detail: "email or password is incorrect"}
	}

	now := l.now()
	claims := jwt.MapClaims{
		"sub":   acct.user.UserID,
		"email": acct.user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(l.tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// UserByToken resolves a bearer token to the live account state.
func (l *Ledger) UserByToken(token string) (domain.User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return l.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return l.now() }))
	if err != nil || !parsed.Valid {
		return domain.User{}, &apierr.AuthError{Detail: "authentication failed"}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, &apierr.AuthError{Detail: "authentication failed"}
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return domain.User{}, &apierr.AuthError{Detail: "authentication failed"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[email]
	if !ok {
		return domain.User{}, &apierr.AuthError{Detail: "authentication failed"}
	}
	return acct.user, nil
}

// Prepare creates a pending transfer, holds the amount from the sender's
// balance and stamps the claim window.
func (l *Ledger) Prepare(senderEmail string, in PrepareInput) (domain.Transaction, error) {
	if in.Amount <= 0 {
		return domain.Transaction{}, &apierr.ValidationError{Detail: "amount must be greater than zero"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sender, ok := l.accounts[strings.ToLower(senderEmail)]
	if !ok {
		return domain.Transaction{}, &apierr.AuthError{Detail: "authentication failed"}
	}
	if sender.user.Balance < in.Amount {
		return domain.Transaction{}, &apierr.ValidationError{Detail: "insufficient balance"}
	}

	tx := domain.Transaction{
		TransactionID: l.newID(),
		Amount:        in.Amount,
		Note:          in.Note,
		SenderID:      sender.user.UserID,
		SenderEmail:   sender.user.Email,
		SenderName:    sender.user.Name,
		Status:        domain.StatusPending,
		CreatedAt:     l.now(),
	}
	expires := tx.CreatedAt.Add(domain.ClaimWindow)
	tx.ExpiresAt = &expires

	if in.ReceiverEmail != "" {
		receiver, ok := l.accounts[strings.ToLower(in.ReceiverEmail)]
		if !ok {
			return domain.Transaction{}, &apierr.NotFoundError{Detail: "receiver not found: " + in.ReceiverEmail}
		}
		tx.ReceiverID = receiver.user.UserID
		tx.ReceiverEmail = receiver.user.Email
		tx.ReceiverName = receiver.user.Name
	}

	sender.user.Balance -= in.Amount
	l.transactions[tx.TransactionID] = &tx
	return tx, nil
}

// Confirm claims a pending transfer for the authenticated receiver. It is the
// authoritative at-most-once completion point: a second confirm of the same id
// fails with AlreadyProcessedError and leaves the record untouched.
func (l *Ledger) Confirm(receiverEmail, transactionID string) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	receiver, ok := l.accounts[strings.ToLower(receiverEmail)]
	if !ok {
		return domain.Transaction{}, &apierr.AuthError{Detail: "authentication failed"}
	}

	tx, err := l.claimableLocked(transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.ReceiverEmail != "" && tx.ReceiverEmail != receiver.user.Email {
		return domain.Transaction{}, &apierr.AuthError{Detail: "you are not the designated receiver of this transaction"}
	}

	l.completeLocked(tx, receiver)
	return *tx, nil
}

// ConfirmPublic claims a transfer through a shared link. The claimant must
// still map to a registered account; the display name comes from the request.
func (l *Ledger) ConfirmPublic(transactionID, email, name string) (domain.Transaction, error) {
	if email == "" {
		return domain.Transaction{}, &apierr.MissingArgumentError{Argument: "email"}
	}
	if name == "" {
		name = domain.AnonymousReceiverName
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.claimableLocked(transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.ReceiverEmail != "" && tx.ReceiverEmail != strings.ToLower(email) {
		return domain.Transaction{}, &apierr.AuthError{Detail: "you are not the designated receiver of this transaction"}
	}

	receiver, ok := l.accounts[strings.ToLower(email)]
	if !ok {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "user_not_found"}
	}

	l.completeLocked(tx, receiver)
	tx.ReceiverName = name
	return *tx, nil
}

// Cancel withdraws a pending transfer and refunds the hold. Only the sender
// may cancel.
func (l *Ledger) Cancel(senderEmail, transactionID string) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[transactionID]
	if !ok {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	if tx.SenderEmail != strings.ToLower(senderEmail) {
		return domain.Transaction{}, &apierr.AuthError{Detail: "only the sender can cancel a transaction"}
	}
	if !tx.Pending() {
		return domain.Transaction{}, &apierr.AlreadyProcessedError{TransactionID: transactionID}
	}

	l.cancelLocked(tx)
	return *tx, nil
}

// TransactionsFor lists transfers the account participates in, newest first.
func (l *Ledger) TransactionsFor(email string) ([]domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[strings.ToLower(email)]
	if !ok {
		return nil, &apierr.AuthError{Detail: "authentication failed"}
	}

	var txs []domain.Transaction
	for _, tx := range l.transactions {
		if tx.SenderID == acct.user.UserID || tx.ReceiverID == acct.user.UserID {
			txs = append(txs, *tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	return txs, nil
}

// Transaction returns a transfer by id.
func (l *Ledger) Transaction(transactionID string) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[transactionID]
	if !ok {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	return *tx, nil
}

// PublicTransaction returns a transfer for the unauthenticated claim page,
// rejecting expired ones.
func (l *Ledger) PublicTransaction(transactionID string) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[transactionID]
	if !ok {
		return domain.Transaction{}, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	if tx.Pending() && tx.Expired(l.now()) {
		return domain.Transaction{}, &apierr.ValidationError{Detail: "transaction expired"}
	}
	return *tx, nil
}

// claimableLocked fetches a transfer and verifies it can still be claimed,
// expiring it (with refund) when the window has closed. Caller holds the lock.
func (l *Ledger) claimableLocked(transactionID string) (*domain.Transaction, error) {
	tx, ok := l.transactions[transactionID]
	if !ok {
		return nil, &apierr.NotFoundError{Detail: "transaction not found"}
	}
	if !tx.Pending() {
		return nil, &apierr.AlreadyProcessedError{TransactionID: transactionID}
	}
	if tx.Expired(l.now()) {
		l.cancelLocked(tx)
		return nil, &apierr.ValidationError{Detail: "transaction expired"}
	}
	return tx, nil
}

func (l *Ledger) completeLocked(tx *domain.Transaction, receiver *account) {
	now := l.now()
	tx.Status = domain.StatusCompleted
	tx.ReceiverID = receiver.user.UserID
	tx.ReceiverEmail = receiver.user.Email
	tx.ReceiverName = receiver.user.Name
	tx.CompletedAt = &now
	receiver.user.Balance += tx.Amount
}

func (l *Ledger) cancelLocked(tx *domain.Transaction) {
	now := l.now()
	tx.Status = domain.StatusCancelled
	tx.CompletedAt = &now
	if sender, ok := l.accounts[tx.SenderEmail]; ok {
		sender.user.Balance += tx.Amount
	}
}

// Package backend defines the capability the rest of the client is written
// against: one interface, two implementations. The HTTP implementation talks
// to the real service; the memory implementation simulates it locally. The
// choice is made once at construction, never per call.
package backend

import (
	"context"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/domain"
)

// Session is the result of a successful login: the bearer token and the
// identity fetched with it.
type Session struct {
	Token string
	User  domain.User
}

// Registration is the confirmation payload of a successful account creation.
type Registration struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// PrepareInput carries the sender-supplied fields of a new transfer. An empty
// ReceiverEmail leaves the transfer claimable by anyone holding the link.
type PrepareInput struct {
	Amount        float64
	Note          string
	SenderID      string
	SenderName    string
	ReceiverEmail string
}

// TokenSource exposes the current bearer token. Implemented by
// session.Store; the token is read per request, so a login or logout racing
// an in-flight call may be observed by that call.
type TokenSource interface {
	Token() (string, bool)
}

// Backend is the transfer service capability consumed by the state store and
// the CLI.
type Backend interface {
	// Login exchanges credentials for a bearer token and the caller identity.
	Login(ctx context.Context, email, password string) (Session, error)
	// Logout is best-effort: it reports failure but never raises it. Clearing
	// local session state is the caller's job.
	Logout(ctx context.Context) bool
	// Register creates an account.
	Register(ctx context.Context, name, email, password string) (Registration, error)
	// CurrentUser fetches the authenticated identity, bypassing caches.
	CurrentUser(ctx context.Context) (domain.User, error)
	// Balance is the fast-path fetch of the balance alone, same auth and
	// freshness rules as CurrentUser.
	Balance(ctx context.Context) (float64, error)
	// Transactions lists transfers visible to the current session.
	Transactions(ctx context.Context) ([]domain.Transaction, error)
	// Transaction fetches a single transfer.
	Transaction(ctx context.Context, transactionID string) (domain.Transaction, error)
	// PublicTransaction fetches a transfer without authentication, for the
	// shared-link claim flow.
	PublicTransaction(ctx context.Context, transactionID string) (domain.Transaction, error)
	// Prepare creates a pending transfer with a 30-minute claim window.
	Prepare(ctx context.Context, in PrepareInput) (domain.Transaction, error)
	// Confirm claims a pending transfer for the identified receiver.
	Confirm(ctx context.Context, transactionID, receiverEmail string) (domain.Transaction, error)
	// ConfirmPublic claims a transfer anonymously via a shared link.
	ConfirmPublic(ctx context.Context, transactionID, email, name string) (domain.Transaction, error)
	// Cancel withdraws a pending transfer.
	Cancel(ctx context.Context, transactionID string) (domain.Transaction, error)
}

// requireConfirmArgs enforces the client-side confirm preconditions shared by
// every implementation. It runs before any lookup or I/O.
func requireConfirmArgs(transactionID, receiverEmail string) error {
	if transactionID == "" {
		return &apierr.MissingArgumentError{Argument: "transactionId"}
	}
	if receiverEmail == "" {
		return &apierr.MissingArgumentError{Argument: "receiverEmail"}
	}
	return nil
}

package domain

import "time"

// TransactionStatus enumerates the lifecycle states of a transfer.
type TransactionStatus string

const (
	// StatusPending marks a transfer prepared by a sender and not yet claimed.
	StatusPending TransactionStatus = "pending"
	// StatusCompleted marks a transfer claimed by a receiver.
	StatusCompleted TransactionStatus = "completed"
	// StatusCancelled marks a transfer withdrawn by its sender or expired.
	StatusCancelled TransactionStatus = "cancelled"
)

// ClaimWindow is how long a pending transfer stays claimable after creation.
const ClaimWindow = 30 * time.Minute

// PublicReceiverID is the sentinel receiver identity recorded for anonymous
// link-based claims.
const PublicReceiverID = "public-user"

// AnonymousReceiverName is the display name used when a public claim supplies
// no name.
const AnonymousReceiverName = "Unnamed user"

// Transaction models a point transfer between two users.
type Transaction struct {
	TransactionID string            `json:"transactionId"`
	Amount        float64           `json:"amount"`
	Note          string            `json:"note,omitempty"`
	SenderID      string            `json:"senderId"`
	SenderEmail   string            `json:"senderEmail,omitempty"`
	SenderName    string            `json:"senderName"`
	ReceiverID    string            `json:"receiverId,omitempty"`
	ReceiverEmail string            `json:"receiverEmail,omitempty"`
	ReceiverName  string            `json:"receiverName,omitempty"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}

// Pending reports whether the transfer is still claimable by status.
func (t Transaction) Pending() bool {
	return t.Status == StatusPending
}

// Expired reports whether the claim window has closed at the given instant.
func (t Transaction) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

package deal

import (
	"context"
	"time"
)

// ClientRecord is a mirrored CRM contact.
type ClientRecord struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone"`
	Email    string    `json:"email,omitempty"`
	SyncedAt time.Time `json:"synced_at"`
}

// ClientDeal pairs a stored raw deal with its owning client.
type ClientDeal struct {
	ClientID int64
	Phone    string
	Deal     RawDeal
}

// DealRepository persists the mirror of CRM contacts and their leads.  Raw
// records are stored so that engine settings apply at read time.
type DealRepository interface {
	UpsertClient(ctx context.Context, c ClientRecord) error
	// UpsertDeals writes deals without touching the client's other deals.
	UpsertDeals(ctx context.Context, clientID int64, deals []RawDeal) error
	// ReplaceDeals makes deals the client's complete deal set: they are
	// upserted and every other stored deal of the client is removed, in one
	// transaction.
	ReplaceDeals(ctx context.Context, clientID int64, deals []RawDeal) error
	// DeleteDeals removes deals by id and reports how many existed.
	DeleteDeals(ctx context.Context, ids []int64) (int64, error)
	FindClientByPhone(ctx context.Context, phone string) (*ClientRecord, error)
	ListByClient(ctx context.Context, clientID int64) ([]RawDeal, error)
	FindDeal(ctx context.Context, dealID int64) (*ClientDeal, error)
	// ListByStatus pages through deals with the given CRM status label.
	ListByStatus(ctx context.Context, statusName string, limit, offset int) ([]ClientDeal, error)
}

// NotificationState is the persisted delivery state of one notification.
type NotificationState struct {
	ClientID       int64
	NotificationID string
	DealID         int64
	Delivered      bool
	Read           bool
	PublishedAt    *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// NotificationStateRepository tracks which generated notifications have been
// published, shown and read.  Notifications themselves are never stored:
// they are regenerated and matched by their stable id.
type NotificationStateRepository interface {
	States(ctx context.Context, clientID int64) (map[string]NotificationState, error)
	MarkDelivered(ctx context.Context, clientID int64, ids []string, at time.Time) error
	MarkRead(ctx context.Context, clientID int64, ids []string, at time.Time) (int64, error)
	// MarkPublished records the first publication of a notification and
	// reports false when it had already been published.
	MarkPublished(ctx context.Context, clientID int64, notificationID string, dealID int64, at time.Time) (bool, error)
}

// ChatRepository links clients to messenger chats for outbound delivery.
type ChatRepository interface {
	LinkChat(ctx context.Context, clientID, chatID int64) error
	ChatFor(ctx context.Context, clientID int64) (int64, error)
}

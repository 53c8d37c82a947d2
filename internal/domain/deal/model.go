// Package deal implements the loan-deal lifecycle and deadline engine: it
// turns raw CRM lead records into immutable Deal snapshots, derives review and
// repayment countdowns, accrues overdue penalties and generates the client's
// notification feed.
//
// Every function that depends on time takes "now" explicitly.  Nothing in
// this package reads the wall clock or keeps mutable state between calls, so
// all of it is safe for concurrent use.
package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─────────────────────────────────────────────────────────────────────────────
// Raw CRM records
// ─────────────────────────────────────────────────────────────────────────────

// FieldValue is a single value of a CRM custom field.  Value holds whatever
// the CRM JSON carried: usually a string, sometimes a number.
type FieldValue struct {
	Value interface{} `json:"value"`
}

// CustomField is a sparse named/coded field attached to a lead.
type CustomField struct {
	FieldID   int64        `json:"field_id,omitempty"`
	FieldName string       `json:"field_name"`
	FieldCode string       `json:"field_code"`
	Values    []FieldValue `json:"values"`
}

// RawDeal is a lead as received from the CRM.  CreatedAt and UpdatedAt are
// Unix seconds.  Money is exact decimal; JSON numbers and strings both decode.
type RawDeal struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	StatusID          int64           `json:"status_id,omitempty"`
	StatusName        string          `json:"status_name"`
	StatusColor       string          `json:"status_color"`
	PipelineID        int64           `json:"pipeline_id,omitempty"`
	PipelineName      string          `json:"pipeline_name"`
	ResponsibleUserID int64           `json:"responsible_user_id,omitempty"`
	CreatedAt         int64           `json:"created_at"`
	UpdatedAt         int64           `json:"updated_at"`
	CustomFields      []CustomField   `json:"custom_fields"`
}

// Client is the CRM contact a portal user is identified by, with their leads.
type Client struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
	Email string    `json:"email,omitempty"`
	Leads []RawDeal `json:"leads"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Normalized view model
// ─────────────────────────────────────────────────────────────────────────────

// Deal is the normalized, immutable snapshot of a lead.  A new value is built
// on every sync; nothing mutates a Deal after MapDeal returns it.
type Deal struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Paid              decimal.Decimal `json:"paid"`
	StatusID          int64           `json:"status_id,omitempty"`
	StatusName        string          `json:"status_name"`
	StatusColor       string          `json:"status_color"`
	PipelineID        int64           `json:"pipeline_id,omitempty"`
	PipelineName      string          `json:"pipeline_name"`
	ResponsibleUserID int64           `json:"responsible_user_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CreatedAtText     string          `json:"created_at_text"`
	UpdatedAtText     string          `json:"updated_at_text"`
	TermDays          int             `json:"term_days"`
	Phase             Phase           `json:"lifecycle_phase"`
	PaymentMethod     string          `json:"payment_method"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifications
// ─────────────────────────────────────────────────────────────────────────────

// Kind is the severity of a notification.
type Kind string

const (
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
)

// rank orders kinds for display: warning first.
func (k Kind) rank() int {
	switch k {
	case KindWarning:
		return 0
	case KindInfo:
		return 1
	case KindSuccess:
		return 2
	default:
		return 3
	}
}

// Notification is one entry of the client's feed.  ID is stable for a
// (deal, bucket) pair so read state can be merged across regenerations.
type Notification struct {
	ID      string `json:"id"`
	DealID  int64  `json:"deal_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Date    string `json:"date"`
	Read    bool   `json:"read"`
	Kind    Kind   `json:"type"`
}

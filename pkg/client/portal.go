package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ClientInfo identifies a borrower.
type ClientInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// ReviewCountdown is the state of a deal's review window.  Durations are
// nanoseconds on the wire.
type ReviewCountdown struct {
	Window    time.Duration `json:"window"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
	Progress  float64       `json:"progress"`
}

// ReviewStatus is the display text of a review countdown.
type ReviewStatus struct {
	Title   string `json:"title"`
	Clock   string `json:"clock,omitempty"`
	Message string `json:"message"`
	Warning bool   `json:"warning"`
}

// DueCountdown is the repayment countdown of an approved deal.
type DueCountdown struct {
	DueDate  time.Time `json:"due_date"`
	DaysLeft int       `json:"days_left"`
	Overdue  bool      `json:"overdue"`
}

// PenaltyStatement is the debt of an overdue loan.
type PenaltyStatement struct {
	DueDate     time.Time       `json:"due_date"`
	OverdueDays int             `json:"overdue_days"`
	Principal   decimal.Decimal `json:"principal"`
	Rate        float64         `json:"rate"`
	Penalty     decimal.Decimal `json:"penalty"`
	Total       decimal.Decimal `json:"total_debt"`
}

// Deal is one of a client's deals with its derived state.
type Deal struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Price         decimal.Decimal   `json:"price"`
	Paid          decimal.Decimal   `json:"paid"`
	StatusName    string            `json:"status_name"`
	StatusColor   string            `json:"status_color"`
	PipelineName  string            `json:"pipeline_name"`
	CreatedAt     time.Time         `json:"created_at"`
	CreatedAtText string            `json:"created_at_text"`
	TermDays      int               `json:"term_days"`
	Phase         string            `json:"lifecycle_phase"`
	PaymentMethod string            `json:"payment_method"`
	State         string            `json:"state"`
	Review        *ReviewCountdown  `json:"review,omitempty"`
	ReviewStatus  *ReviewStatus     `json:"review_status,omitempty"`
	Due           *DueCountdown     `json:"due,omitempty"`
	Debt          *PenaltyStatement `json:"debt,omitempty"`
}

// Loan is the repayment summary of an approved deal.
type Loan struct {
	DealID      int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Penalty     decimal.Decimal `json:"penalty"`
	Status      string          `json:"status"`
	Date        string          `json:"date"`
	NextPayment string          `json:"nextPayment"`
	Rate        float64         `json:"rate"`
}

// Notification is one entry of a client's feed.
type Notification struct {
	ID      string `json:"id"`
	DealID  int64  `json:"deal_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Date    string `json:"date"`
	Read    bool   `json:"read"`
	Kind    string `json:"type"`
}

// Dashboard is everything the portal renders for one client.
type Dashboard struct {
	Client         ClientInfo     `json:"client"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Deals          []Deal         `json:"deals"`
	Loans          []Loan         `json:"loans"`
	Notifications  []Notification `json:"notifications"`
	HasApproved    bool           `json:"has_approved"`
	HasRejected    bool           `json:"has_rejected"`
	SubmissionOpen bool           `json:"submission_open"`
}

// NotificationFeed is the capped notification list with its unread count.
type NotificationFeed struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

// Review is the review state of one deal.
type Review struct {
	DealID    int64            `json:"deal_id"`
	Phase     string           `json:"lifecycle_phase"`
	State     string           `json:"state"`
	Countdown *ReviewCountdown `json:"countdown,omitempty"`
	Status    *ReviewStatus    `json:"status,omitempty"`
}

// PenaltyRequest describes a hypothetical loan.  Dates use the CRM format
// "DD.MM.YYYY" or "DD.MM.YYYY HH:MM:SS"; an empty At means now.
type PenaltyRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Paid      decimal.Decimal `json:"paid"`
	CreatedAt string          `json:"created_at"`
	TermDays  int             `json:"term_days,omitempty"`
	At        string          `json:"at,omitempty"`
}

// PenaltyResult is the repayment state of the hypothetical loan.
type PenaltyResult struct {
	Due  DueCountdown     `json:"due"`
	Debt PenaltyStatement `json:"debt"`
}

func clientPath(phone, suffix string) string {
	return "/api/v1/clients/" + url.PathEscape(phone) + suffix
}

// Dashboard fetches the dashboard of the client owning phone.
func (c *Client) Dashboard(ctx context.Context, phone string) (*Dashboard, error) {
	var d Dashboard
	if err := c.get(ctx, clientPath(phone, "/dashboard"), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Deals lists the client's deals.
func (c *Client) Deals(ctx context.Context, phone string) ([]Deal, error) {
	var body struct {
		Deals []Deal `json:"deals"`
	}
	if err := c.get(ctx, clientPath(phone, "/deals"), &body); err != nil {
		return nil, err
	}
	return body.Deals, nil
}

// Notifications fetches the client's notification feed.
func (c *Client) Notifications(ctx context.Context, phone string) (*NotificationFeed, error) {
	var feed NotificationFeed
	if err := c.get(ctx, clientPath(phone, "/notifications"), &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

// MarkRead marks notifications as read and returns how many changed.
func (c *Client) MarkRead(ctx context.Context, phone string, ids ...string) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	if err := c.post(ctx, clientPath(phone, "/notifications/read"), map[string][]string{"ids": ids}, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// Sync refreshes the client from the CRM and returns the new dashboard.
func (c *Client) Sync(ctx context.Context, phone string) (*Dashboard, error) {
	var d Dashboard
	if err := c.post(ctx, clientPath(phone, "/sync"), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Review fetches the review state of a deal.
func (c *Client) Review(ctx context.Context, dealID int64) (*Review, error) {
	var r Review
	if err := c.get(ctx, "/api/v1/deals/"+strconv.FormatInt(dealID, 10)+"/review", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Penalty evaluates a hypothetical loan on the server.
func (c *Client) Penalty(ctx context.Context, req PenaltyRequest) (*PenaltyResult, error) {
	var res PenaltyResult
	if err := c.post(ctx, "/api/v1/calculator/penalty", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ping checks the server's readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/readyz", nil)
}

package deal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
)

// Settings parameterises an Engine.  Zero fields take the package defaults.
type Settings struct {
	ReviewWindow     time.Duration
	ReviewWarnBefore time.Duration
	PenaltyRate      float64
	DefaultTermDays  int
	Location         *time.Location
}

func (s Settings) withDefaults() Settings {
	if s.ReviewWindow <= 0 {
		s.ReviewWindow = DefaultReviewWindow
	}
	if s.ReviewWarnBefore <= 0 {
		s.ReviewWarnBefore = DefaultReviewWarnBefore
	}
	if s.PenaltyRate <= 0 {
		s.PenaltyRate = DefaultPenaltyRate
	}
	if s.DefaultTermDays < 1 {
		s.DefaultTermDays = DefaultTermDays
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	return s
}

// DisplayState is how presentation code renders a deal.
type DisplayState string

const (
	StateUnderReview     DisplayState = "under_review"
	StateAwaitingManager DisplayState = "awaiting_manager"
	StateActive          DisplayState = "active"
	StateOverdue         DisplayState = "overdue"
	StateRejected        DisplayState = "rejected"
	StateOther           DisplayState = "other"
)

// DealView is a Deal with everything derived from it at one instant.
type DealView struct {
	Deal
	State        DisplayState      `json:"state"`
	Review       *ReviewCountdown  `json:"review,omitempty"`
	ReviewStatus *ReviewStatus     `json:"review_status,omitempty"`
	Due          *DueCountdown     `json:"due,omitempty"`
	Debt         *PenaltyStatement `json:"debt,omitempty"`
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

// Snapshot is the full dashboard state of one client at one instant.
type Snapshot struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	Deals          []DealView     `json:"deals"`
	Loans          []Loan         `json:"loans"`
	Notifications  []Notification `json:"notifications"`
	HasApproved    bool           `json:"has_approved"`
	HasRejected    bool           `json:"has_rejected"`
	SubmissionOpen bool           `json:"submission_open"`
}

// Engine bundles the lifecycle functions with configured settings.  It is
// stateless apart from its settings and safe for concurrent use.
type Engine struct {
	settings Settings
	logger   logging.Logger
}

// NewEngine returns an Engine using settings, with defaults for zero fields.
func NewEngine(settings Settings, logger logging.Logger) *Engine {
	return &Engine{
		settings: settings.withDefaults(),
		logger:   logging.OrNop(logger).Named("deal_engine"),
	}
}

// Settings returns the effective settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// ParseDate parses a CRM date string, falling back to fallback on failure.
// Failures are logged since a fallback instant skews every countdown.
func (e *Engine) ParseDate(s string, fallback time.Time) time.Time {
	t, err := ParseCRMDateOr(s, fallback, e.settings.Location)
	if err != nil {
		e.logger.Warn("falling back on unparseable CRM date",
			logging.String("input", s),
			logging.Time("fallback", fallback),
			logging.Err(err))
	}
	return t
}

// Map normalizes one raw deal.
func (e *Engine) Map(raw RawDeal) Deal {
	return mapDeal(raw, e.settings.Location, e.settings.DefaultTermDays)
}

// MapAll normalizes raws in order.
func (e *Engine) MapAll(raws []RawDeal) []Deal {
	out := make([]Deal, 0, len(raws))
	for _, r := range raws {
		out = append(out, e.Map(r))
	}
	return out
}

// Review is the review countdown of d at now using the configured window.
func (e *Engine) Review(d Deal, now time.Time) ReviewCountdown {
	return Review(d.CreatedAt, now, e.settings.ReviewWindow)
}

// Due is the repayment countdown of d at now.
func (e *Engine) Due(d Deal, now time.Time) DueCountdown {
	return Due(d.CreatedAt, d.TermDays, now)
}

// Overdue is the penalty statement of d at now using the configured rate.
func (e *Engine) Overdue(d Deal, now time.Time) PenaltyStatement {
	return Overdue(d, now, e.settings.PenaltyRate)
}

// Notifications generates the notification feed of deals at now.
func (e *Engine) Notifications(deals []Deal, now time.Time) []Notification {
	return GenerateNotifications(deals, now)
}

// View derives the display state of d at now.
func (e *Engine) View(d Deal, now time.Time) DealView {
	v := DealView{Deal: d}
	switch d.Phase {
	case PhaseUnderReview:
		r := e.Review(d, now)
		st := r.Status(e.settings.ReviewWarnBefore)
		v.Review, v.ReviewStatus = &r, &st
		v.State = StateUnderReview
		if r.Expired {
			v.State = StateAwaitingManager
		}
	case PhaseApproved:
		due := e.Due(d, now)
		v.Due = &due
		v.State = StateActive
		if due.Overdue {
			debt := e.Overdue(d, now)
			v.Debt = &debt
			v.State = StateOverdue
		}
	case PhaseRejected:
		v.State = StateRejected
	default:
		v.State = StateOther
	}
	return v
}

// Loans summarises approved deals as loans.
func (e *Engine) Loans(deals []Deal, now time.Time) []Loan {
	out := make([]Loan, 0)
	for _, d := range deals {
		if d.Phase != PhaseApproved {
			continue
		}
		due := e.Due(d, now)
		debt := e.Overdue(d, now)
		status := "active"
		if due.Overdue {
			status = "overdue"
		}
		out = append(out, Loan{
			DealID:      d.ID,
			Amount:      d.Price,
			Paid:        d.Paid,
			Outstanding: debt.Total,
			Penalty:     debt.Penalty,
			Status:      status,
			Date:        FormatCRMDay(d.CreatedAt),
			NextPayment: FormatCRMDay(due.DueDate),
			Rate:        e.settings.PenaltyRate,
		})
	}
	return out
}

// Snapshot maps raws and derives the complete dashboard state at now.
func (e *Engine) Snapshot(raws []RawDeal, now time.Time) Snapshot {
	return e.SnapshotOf(e.MapAll(raws), now)
}

// SnapshotOf derives the dashboard state of already mapped deals.
func (e *Engine) SnapshotOf(deals []Deal, now time.Time) Snapshot {
	views := make([]DealView, 0, len(deals))
	for _, d := range deals {
		views = append(views, e.View(d, now))
	}
	return Snapshot{
		GeneratedAt:    now,
		Deals:          views,
		Loans:          e.Loans(deals, now),
		Notifications:  e.Notifications(deals, now),
		HasApproved:    HasApproved(deals),
		HasRejected:    HasRejected(deals),
		SubmissionOpen: SubmissionOpen(deals),
	}
}

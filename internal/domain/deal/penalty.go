package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPenaltyRate is the daily penalty rate on overdue principal (0.1%).
const DefaultPenaltyRate = 0.001

// OutstandingPrincipal is the single definition of the amount penalties
// accrue on and debt totals start from: the approved amount less whatever
// the CRM records as already paid, never below zero.  Deals with no paid
// amount therefore use the full price.
func OutstandingPrincipal(d Deal) decimal.Decimal {
	p := d.Price.Sub(decimal.Max(d.Paid, decimal.Zero))
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// OverdueDays is the number of whole days today lies past dueDate, zero when
// the due date has not passed.
func OverdueDays(dueDate, now time.Time) int {
	today := Midnight(now.In(dueDate.Location()))
	d := calendarDays(Midnight(dueDate), today)
	if d < 0 {
		return 0
	}
	return d
}

// Penalty returns principal × rate × overdueDays rounded half away from zero
// to whole currency units.  Non-positive inputs contribute nothing.
func Penalty(principal decimal.Decimal, rate float64, overdueDays int) decimal.Decimal {
	if !principal.IsPositive() || rate <= 0 || overdueDays <= 0 {
		return decimal.Zero
	}
	return principal.
		Mul(decimal.NewFromFloat(rate)).
		Mul(decimal.NewFromInt(int64(overdueDays))).
		Round(0)
}

// PenaltyStatement is the overdue debt breakdown of an approved deal.
type PenaltyStatement struct {
	DueDate     time.Time       `json:"due_date"`
	OverdueDays int             `json:"overdue_days"`
	Principal   decimal.Decimal `json:"principal"`
	Rate        float64         `json:"rate"`
	Penalty     decimal.Decimal `json:"penalty"`
	Total       decimal.Decimal `json:"total_debt"`
}

// Overdue builds the penalty statement of d at now.  It is meaningful for
// approved deals; before the due date it reports zero penalty and a total
// equal to the outstanding principal.
func Overdue(d Deal, now time.Time, rate float64) PenaltyStatement {
	due := DueDate(d.CreatedAt, d.TermDays)
	days := OverdueDays(due, now)
	principal := OutstandingPrincipal(d)
	penalty := Penalty(principal, rate, days)
	return PenaltyStatement{
		DueDate:     due,
		OverdueDays: days,
		Principal:   principal,
		Rate:        rate,
		Penalty:     penalty,
		Total:       principal.Add(penalty),
	}
}

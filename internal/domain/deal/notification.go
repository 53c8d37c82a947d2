package deal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket is the urgency class of a repayment notification.
type Bucket struct {
	Prefix string
	Title  string
	Kind   Kind
}

var (
	BucketOverdue  = Bucket{Prefix: "overdue-", Title: "🚨 Просроченный платеж!", Kind: KindWarning}
	BucketUrgent   = Bucket{Prefix: "urgent-", Title: "⚠️ Срочно! Завтра выплата", Kind: KindWarning}
	BucketSoon     = Bucket{Prefix: "soon-", Title: "⏰ Выплата через 3 дня", Kind: KindWarning}
	BucketReminder = Bucket{Prefix: "reminder-", Title: "📅 Напоминание о выплате", Kind: KindInfo}
)

// BucketFor classifies days left until the due date.  The checks run in
// fixed order and the first match wins; beyond a week there is no bucket.
func BucketFor(daysLeft int) (Bucket, bool) {
	switch {
	case daysLeft <= 0:
		return BucketOverdue, true
	case daysLeft == 1:
		return BucketUrgent, true
	case daysLeft <= 3:
		return BucketSoon, true
	case daysLeft <= 7:
		return BucketReminder, true
	default:
		return Bucket{}, false
	}
}

// NotificationID is the stable id of the notification of deal dealID in b.
func NotificationID(b Bucket, dealID int64) string {
	return b.Prefix + strconv.FormatInt(dealID, 10)
}

// ParseNotificationID splits an id produced by NotificationID.
func ParseNotificationID(id string) (Bucket, int64, bool) {
	for _, b := range []Bucket{BucketOverdue, BucketUrgent, BucketSoon, BucketReminder} {
		if rest, ok := strings.CutPrefix(id, b.Prefix); ok {
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return Bucket{}, 0, false
			}
			return b, n, true
		}
	}
	return Bucket{}, 0, false
}

// GenerateNotifications scans approved deals and emits at most one
// notification per deal, ordered warning before info before success with
// input order kept among equals.  The input is not modified and the output
// depends only on the deals and the calendar date of now.
func GenerateNotifications(deals []Deal, now time.Time) []Notification {
	out := make([]Notification, 0)
	for i := range deals {
		d := &deals[i]
		if d.Phase != PhaseApproved {
			continue
		}
		due := Due(d.CreatedAt, d.TermDays, now)
		b, ok := BucketFor(due.DaysLeft)
		if !ok {
			continue
		}
		out = append(out, Notification{
			ID:      NotificationID(b, d.ID),
			DealID:  d.ID,
			Title:   b.Title,
			Message: notificationMessage(b, d, due),
			Date:    FormatCRMDay(now.In(d.CreatedAt.Location())),
			Kind:    b.Kind,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.rank() < out[j].Kind.rank()
	})
	return out
}

func notificationMessage(b Bucket, d *Deal, due DueCountdown) string {
	amount := FormatRub(OutstandingPrincipal(*d))
	day := FormatCRMDay(due.DueDate)
	switch b {
	case BucketOverdue:
		return fmt.Sprintf("Платеж по займу «%s» на сумму %s ₽ просрочен. Срок оплаты: %s. Начисляются пени.", d.Name, amount, day)
	case BucketUrgent:
		return fmt.Sprintf("Завтра, %s, срок выплаты по займу «%s». Сумма к оплате: %s ₽.", day, d.Name, amount)
	case BucketSoon:
		return fmt.Sprintf("До выплаты по займу «%s» осталось дней: %d. Срок оплаты: %s, сумма %s ₽.", d.Name, due.DaysLeft, day, amount)
	default:
		return fmt.Sprintf("Напоминаем: %s срок выплаты по займу «%s» на сумму %s ₽.", day, d.Name, amount)
	}
}

// FormatRub renders an amount rounded to whole units with space-separated
// thousands: 50350 → "50 350".
func FormatRub(v decimal.Decimal) string {
	n := v.Round(0).IntPart()
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	pre := len(s) % 3
	if pre > 0 {
		sb.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if sb.Len() > 0 && !(neg && sb.Len() == 1) {
			sb.WriteByte(' ')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// MergeReadState copies read flags from readIDs onto notifications by id.
func MergeReadState(ns []Notification, readIDs map[string]bool) []Notification {
	out := make([]Notification, len(ns))
	copy(out, ns)
	for i := range out {
		if readIDs[out[i].ID] {
			out[i].Read = true
		}
	}
	return out
}

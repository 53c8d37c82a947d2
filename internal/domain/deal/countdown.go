package deal

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Review countdown
// ─────────────────────────────────────────────────────────────────────────────

// DefaultReviewWindow is the canonical automatic review window.
const DefaultReviewWindow = 1200 * time.Second

// DefaultReviewWarnBefore is the remaining time under which the review
// countdown shows a warning.
const DefaultReviewWarnBefore = 180 * time.Second

// Review display texts.
const (
	ReviewTitle          = "Время рассмотрения"
	ReviewTitleExpired   = "Ожидает проверки"
	ReviewMessageActive  = "Ваша заявка проверяется автоматически"
	ReviewMessageWarning = "Осталось менее 3 минут до завершения проверки"
	ReviewMessageExpired = "Время истекло. Ожидайте решения менеджера."
)

// ReviewCountdown is the state of the automatic review window at one instant.
type ReviewCountdown struct {
	Window    time.Duration `json:"window"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
	// Progress is Remaining/Window in [0,1]; it only decreases as time passes.
	Progress float64 `json:"progress"`
}

// Review computes the review countdown of a deal created at createdAt.
// Elapsed is floored to whole seconds and clamped at zero, so a creation time
// in the future yields a full window.
func Review(createdAt, now time.Time, window time.Duration) ReviewCountdown {
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	elapsed = elapsed.Truncate(time.Second)

	if window <= 0 {
		return ReviewCountdown{Window: window, Elapsed: elapsed, Expired: true}
	}

	remaining := window - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return ReviewCountdown{
		Window:    window,
		Elapsed:   elapsed,
		Remaining: remaining,
		Expired:   remaining == 0,
		Progress:  float64(remaining) / float64(window),
	}
}

// Clock renders Remaining as MM:SS.
func (r ReviewCountdown) Clock() string {
	secs := int64(r.Remaining / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// ReviewStatus is the display text of a review countdown.
type ReviewStatus struct {
	Title   string `json:"title"`
	Clock   string `json:"clock,omitempty"`
	Message string `json:"message"`
	Warning bool   `json:"warning"`
}

// Status returns the display text.  An expired window is a terminal
// "awaiting manual review" state and carries no clock.
func (r ReviewCountdown) Status(warnBefore time.Duration) ReviewStatus {
	if r.Expired {
		return ReviewStatus{Title: ReviewTitleExpired, Message: ReviewMessageExpired}
	}
	if r.Remaining < warnBefore {
		return ReviewStatus{Title: ReviewTitle, Clock: r.Clock(), Message: ReviewMessageWarning, Warning: true}
	}
	return ReviewStatus{Title: ReviewTitle, Clock: r.Clock(), Message: ReviewMessageActive}
}

// ─────────────────────────────────────────────────────────────────────────────
// Due-date countdown
// ─────────────────────────────────────────────────────────────────────────────

// DueCountdown is the repayment countdown of an approved deal.
type DueCountdown struct {
	DueDate  time.Time `json:"due_date"`
	DaysLeft int       `json:"days_left"`
	// Overdue is DaysLeft <= 0.
	Overdue bool `json:"overdue"`
}

// DueDate returns the calendar day, at midnight in createdAt's location, by
// which a loan created at createdAt with the given term must be repaid.
func DueDate(createdAt time.Time, termDays int) time.Time {
	return Midnight(createdAt).AddDate(0, 0, termDays)
}

// Due computes the repayment countdown.  Both instants are truncated to
// midnight in createdAt's location, so DaysLeft is a whole number of days.
func Due(createdAt time.Time, termDays int, now time.Time) DueCountdown {
	due := DueDate(createdAt, termDays)
	today := Midnight(now.In(createdAt.Location()))
	left := calendarDays(today, due)
	return DueCountdown{
		DueDate:  due,
		DaysLeft: left,
		Overdue:  left <= 0,
	}
}

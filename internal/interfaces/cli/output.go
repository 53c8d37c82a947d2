package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/pkg/client"
)

type dealTable []client.Deal

func (t dealTable) TableHeaders() []string {
	return []string{"ID", "NAME", "STATUS", "STATE", "AMOUNT", "CREATED", "COUNTDOWN"}
}

func (t dealTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, d := range t {
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			d.Name,
			d.StatusName,
			d.State,
			deal.FormatRub(d.Price),
			d.CreatedAtText,
			countdownCell(d),
		})
	}
	return rows
}

func countdownCell(d client.Deal) string {
	switch {
	case d.ReviewStatus != nil && d.ReviewStatus.Clock != "":
		return d.ReviewStatus.Clock
	case d.ReviewStatus != nil:
		return d.ReviewStatus.Title
	case d.Debt != nil && d.Debt.OverdueDays > 0:
		return fmt.Sprintf("overdue %dd", d.Debt.OverdueDays)
	case d.Due != nil:
		return fmt.Sprintf("%dd left", d.Due.DaysLeft)
	}
	return ""
}

type notificationTable []client.Notification

func (t notificationTable) TableHeaders() []string {
	return []string{"ID", "TYPE", "DATE", "READ", "TITLE"}
}

func (t notificationTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, n := range t {
		rows = append(rows, []string{n.ID, n.Kind, n.Date, strconv.FormatBool(n.Read), n.Title})
	}
	return rows
}

// dashboardOutput prints a summary as text and the full document as JSON.
type dashboardOutput struct{ *client.Dashboard }

func (d dashboardOutput) MarshalJSON() ([]byte, error) { return json.Marshal(d.Dashboard) }

func (d dashboardOutput) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Client %d  %s  %s\n", d.Client.ID, d.Client.Name, d.Client.Phone)
	fmt.Fprintf(&sb, "Approved: %t  Rejected: %t  New application allowed: %t\n\n", d.HasApproved, d.HasRejected, d.SubmissionOpen)
	sb.WriteString(FormatTable(dealTable(d.Deals).TableHeaders(), dealTable(d.Deals).TableRows()))
	if len(d.Notifications) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatTable(notificationTable(d.Notifications).TableHeaders(), notificationTable(d.Notifications).TableRows()))
	}
	return strings.TrimRight(sb.String(), "\n")
}

type reviewOutput struct{ *client.Review }

func (r reviewOutput) MarshalJSON() ([]byte, error) { return json.Marshal(r.Review) }

func (r reviewOutput) String() string {
	s := fmt.Sprintf("Deal %d: %s", r.DealID, r.State)
	if r.Status != nil {
		s += "\n" + r.Status.Title
		if r.Status.Clock != "" {
			s += " " + r.Status.Clock
		}
		s += "\n" + r.Status.Message
	}
	return s
}

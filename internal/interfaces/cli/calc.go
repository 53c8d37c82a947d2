package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// NewCalcCmd returns "loanctl calc": local evaluations of the deal engine
// that need neither the server nor the database.
func NewCalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Evaluate deadlines and penalties locally",
		Long: `Evaluate the loan engine without contacting the server.

Dates use the CRM format "DD.MM.YYYY" or "DD.MM.YYYY HH:MM:SS" and are read in
the --timezone (or configured) location.  --at defaults to now.`,
	}
	cmd.AddCommand(newCalcPenaltyCmd(), newCalcReviewCmd(), newCalcDateCmd())
	return cmd
}

// calcClock resolves --at against the engine location.
func calcClock(engine *deal.Engine, at string) (time.Time, error) {
	if at == "" {
		return time.Now().In(engine.Settings().Location), nil
	}
	return deal.ParseCRMDate(at, engine.Settings().Location)
}

// PenaltyOutput is the result of "calc penalty".
type PenaltyOutput struct {
	Due  deal.DueCountdown     `json:"due"`
	Debt deal.PenaltyStatement `json:"debt"`
}

func (p PenaltyOutput) String() string {
	s := fmt.Sprintf("Due date:     %s", deal.FormatCRMDay(p.Due.DueDate))
	if !p.Due.Overdue {
		s += fmt.Sprintf(" (%d day(s) left)", p.Due.DaysLeft)
	}
	s += fmt.Sprintf("\nOverdue days: %d\nPrincipal:    %s\nPenalty:      %s\nTotal debt:   %s",
		p.Debt.OverdueDays, deal.FormatRub(p.Debt.Principal), deal.FormatRub(p.Debt.Penalty), deal.FormatRub(p.Debt.Total))
	return s
}

func newCalcPenaltyCmd() *cobra.Command {
	var (
		amount, paid string
		created, at  string
		term         int
	)
	cmd := &cobra.Command{
		Use:   "penalty",
		Short: "Compute the due date, overdue days and penalty of a loan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			price, err := parseMoneyFlag("amount", amount)
			if err != nil {
				return err
			}
			repaid, err := parseMoneyFlag("paid", paid)
			if err != nil {
				return err
			}
			createdAt, err := deal.ParseCRMDate(created, cc.Engine.Settings().Location)
			if err != nil {
				return err
			}
			now, err := calcClock(cc.Engine, at)
			if err != nil {
				return err
			}
			if term == 0 {
				term = cc.Engine.Settings().DefaultTermDays
			}
			if term < 1 {
				return errors.New(errors.ErrCodeTermInvalid, "term must be at least one day")
			}
			d := deal.Deal{Price: price, Paid: repaid, CreatedAt: createdAt, TermDays: term, Phase: deal.PhaseApproved}
			return PrintResult(cmd, PenaltyOutput{Due: cc.Engine.Due(d, now), Debt: cc.Engine.Overdue(d, now)})
		},
	}
	f := cmd.Flags()
	f.StringVar(&amount, "amount", "0", "loan amount")
	f.StringVar(&paid, "paid", "0", "amount already repaid")
	f.StringVar(&created, "created", "", "loan creation date (required)")
	f.IntVar(&term, "term", 0, "loan term in days (default: engine default)")
	f.StringVar(&at, "at", "", "evaluation date")
	_ = cmd.MarkFlagRequired("created")
	return cmd
}

// parseMoneyFlag reads a non-negative amount such as "50000" or "12 500,50".
func parseMoneyFlag(name, raw string) (decimal.Decimal, error) {
	v, ok := deal.ParseAmount(raw)
	if !ok {
		return decimal.Zero, errors.Validation("--" + name + " is not an amount").WithDetail(raw)
	}
	if v.IsNegative() {
		return decimal.Zero, errors.Validation("--" + name + " must not be negative")
	}
	return v, nil
}

// ReviewOutput is the result of "calc review".
type ReviewOutput struct {
	Countdown deal.ReviewCountdown `json:"countdown"`
	Status    deal.ReviewStatus    `json:"status"`
}

func (r ReviewOutput) String() string {
	s := r.Status.Title
	if r.Status.Clock != "" {
		s += " " + r.Status.Clock
	}
	return s + "\n" + r.Status.Message
}

func newCalcReviewCmd() *cobra.Command {
	var created, at string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Compute the review countdown of an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			createdAt, err := deal.ParseCRMDate(created, cc.Engine.Settings().Location)
			if err != nil {
				return err
			}
			now, err := calcClock(cc.Engine, at)
			if err != nil {
				return err
			}
			rc := cc.Engine.Review(deal.Deal{CreatedAt: createdAt}, now)
			return PrintResult(cmd, ReviewOutput{Countdown: rc, Status: rc.Status(cc.Engine.Settings().ReviewWarnBefore)})
		},
	}
	cmd.Flags().StringVar(&created, "created", "", "application creation time (required)")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time")
	_ = cmd.MarkFlagRequired("created")
	return cmd
}

// DateOutput is the result of "calc date".
type DateOutput struct {
	Input   string    `json:"input"`
	Instant time.Time `json:"instant"`
	Unix    int64     `json:"unix"`
}

func (d DateOutput) String() string {
	return fmt.Sprintf("%s  (unix %d)", d.Instant.Format(time.RFC3339), d.Unix)
}

func newCalcDateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "date VALUE",
		Short: "Normalize a CRM date string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			t, err := deal.ParseCRMDate(args[0], cc.Engine.Settings().Location)
			if err != nil {
				return err
			}
			return PrintResult(cmd, DateOutput{Input: args[0], Instant: t, Unix: t.Unix()})
		},
	}
}

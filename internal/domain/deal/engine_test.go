package deal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *testutil.MockLogger) {
	t.Helper()
	log := testutil.NewMockLogger()
	return NewEngine(Settings{Location: msk}, log), log
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(Settings{}, nil)
	s := e.Settings()
	assert.Equal(t, DefaultReviewWindow, s.ReviewWindow)
	assert.Equal(t, DefaultReviewWarnBefore, s.ReviewWarnBefore)
	assert.Equal(t, DefaultPenaltyRate, s.PenaltyRate)
	assert.Equal(t, DefaultTermDays, s.DefaultTermDays)
	assert.Equal(t, time.Local, s.Location)
}

func TestEngine_ParseDate(t *testing.T) {
	e, log := newTestEngine(t)
	fallback := time.Date(2024, time.May, 5, 0, 0, 0, 0, msk)

	got := e.ParseDate("01.03.2024 10:00:00", fallback)
	assert.True(t, got.Equal(time.Date(2024, time.March, 1, 10, 0, 0, 0, msk)))
	assert.Equal(t, 0, log.Count("warn"))

	got = e.ParseDate("31.02.2024", fallback)
	assert.Equal(t, fallback, got)
	assert.True(t, log.HasMessage("warn", "falling back on unparseable CRM date"))
}

func TestEngine_View(t *testing.T) {
	e, _ := newTestEngine(t)
	created := time.Date(2024, time.January, 1, 10, 0, 0, 0, msk)

	t.Run("under review", func(t *testing.T) {
		d := Deal{ID: 1, Phase: PhaseUnderReview, CreatedAt: fixedNow.Add(-10 * time.Minute)}
		v := e.View(d, fixedNow)
		assert.Equal(t, StateUnderReview, v.State)
		require.NotNil(t, v.ReviewStatus)
		assert.Equal(t, "10:00", v.ReviewStatus.Clock)
	})

	t.Run("awaiting manager", func(t *testing.T) {
		d := Deal{ID: 2, Phase: PhaseUnderReview, CreatedAt: fixedNow.Add(-1300 * time.Second)}
		v := e.View(d, fixedNow)
		assert.Equal(t, StateAwaitingManager, v.State)
		assert.Equal(t, ReviewTitleExpired, v.ReviewStatus.Title)
	})

	t.Run("active loan", func(t *testing.T) {
		v := e.View(approvedDeal(3, created, 30, 50000), fixedNow)
		assert.Equal(t, StateActive, v.State)
		require.NotNil(t, v.Due)
		assert.Equal(t, 2, v.Due.DaysLeft)
		assert.Nil(t, v.Debt)
	})

	t.Run("overdue loan", func(t *testing.T) {
		v := e.View(approvedDeal(4, created, 30, 50000), time.Date(2024, time.February, 7, 12, 0, 0, 0, msk))
		assert.Equal(t, StateOverdue, v.State)
		require.NotNil(t, v.Debt)
		assert.Equal(t, "350", v.Debt.Penalty.String())
		assert.Equal(t, "50350", v.Debt.Total.String())
	})

	t.Run("rejected and other", func(t *testing.T) {
		assert.Equal(t, StateRejected, e.View(Deal{Phase: PhaseRejected}, fixedNow).State)
		assert.Equal(t, StateOther, e.View(Deal{Phase: PhaseOther}, fixedNow).State)
	})
}

func TestEngine_Snapshot(t *testing.T) {
	e, _ := newTestEngine(t)
	raws := []RawDeal{
		rawDeal(1, StatusUnderReview, fixedNow.Add(-5*time.Minute), "", 20000),
		rawDeal(2, StatusApproved, time.Date(2024, time.January, 1, 10, 0, 0, 0, msk), "30", 50000),
	}

	snap := e.Snapshot(raws, fixedNow)

	assert.Equal(t, fixedNow, snap.GeneratedAt)
	require.Len(t, snap.Deals, 2)
	assert.Equal(t, StateUnderReview, snap.Deals[0].State)
	assert.Equal(t, StateActive, snap.Deals[1].State)
	require.Len(t, snap.Loans, 1)
	loan := snap.Loans[0]
	assert.Equal(t, int64(2), loan.DealID)
	assert.Equal(t, "50000", loan.Amount.String())
	assert.True(t, loan.Paid.IsZero())
	assert.Equal(t, "50000", loan.Outstanding.String())
	assert.True(t, loan.Penalty.IsZero())
	assert.Equal(t, "active", loan.Status)
	assert.Equal(t, "01.01.2024", loan.Date)
	assert.Equal(t, "31.01.2024", loan.NextPayment)
	assert.Equal(t, DefaultPenaltyRate, loan.Rate)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, "soon-2", snap.Notifications[0].ID)
	assert.True(t, snap.HasApproved)
	assert.False(t, snap.HasRejected)
	assert.False(t, snap.SubmissionOpen)
}

func TestEngine_SnapshotEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	snap := e.Snapshot(nil, fixedNow)
	assert.Empty(t, snap.Deals)
	assert.NotNil(t, snap.Loans)
	assert.NotNil(t, snap.Notifications)
	assert.True(t, snap.SubmissionOpen)
}

func TestEngine_ConfiguredRateAndWindow(t *testing.T) {
	e := NewEngine(Settings{ReviewWindow: 10 * time.Minute, PenaltyRate: 0.002, Location: msk}, nil)
	d := approvedDeal(1, time.Date(2024, time.January, 1, 10, 0, 0, 0, msk), 30, 50000)

	s := e.Overdue(d, time.Date(2024, time.February, 7, 12, 0, 0, 0, msk))
	assert.Equal(t, "700", s.Penalty.String())

	r := e.Review(Deal{CreatedAt: fixedNow.Add(-11 * time.Minute)}, fixedNow)
	assert.True(t, r.Expired)
}

package dashboard

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/testutil"
	"github.com/turtacn/loan-portal/internal/testutil/dealmock"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fixtures and fakes
// ---------------------------------------------------------------------------

const testPhone = "+79001234567"

var (
	created = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	now     = time.Date(2024, time.January, 28, 12, 0, 0, 0, time.UTC)
)

func raw(id int64, status string, at time.Time, term string) deal.RawDeal {
	r := deal.RawDeal{
		ID:         id,
		Name:       "Займ #" + strconv.FormatInt(id, 10),
		Price:      decimal.NewFromInt(50000),
		StatusName: status,
		CreatedAt:  at.Unix(),
		UpdatedAt:  at.Unix(),
	}
	if term != "" {
		r.CustomFields = []deal.CustomField{{FieldName: deal.FieldLoanTerm, Values: []deal.FieldValue{{Value: term}}}}
	}
	return r
}

func testClient() deal.Client {
	return deal.Client{
		ID:    77,
		Name:  "Иван Петров",
		Phone: testPhone,
		Leads: []deal.RawDeal{
			raw(101, deal.StatusApproved, created, "30"),
			raw(102, deal.StatusUnderReview, now.Add(-100*time.Second), ""),
			raw(103, deal.StatusRejected, created, ""),
		},
	}
}

type fetcherFunc func(ctx context.Context, phone string) (*deal.Client, error)

func (f fetcherFunc) FetchClient(ctx context.Context, phone string) (*deal.Client, error) {
	return f(ctx, phone)
}

// memCache is a JSON round-tripping stand-in for the Redis cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error {
	c.mu.Lock()
	data, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		v, err := loader(ctx)
		if err != nil {
			return err
		}
		if data, err = json.Marshal(v); err != nil {
			return err
		}
		c.mu.Lock()
		c.entries[key] = data
		c.mu.Unlock()
	}
	return json.Unmarshal(data, dest)
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func newTestService(store *dealmock.Store, opts ...Option) Service {
	engine := deal.NewEngine(deal.Settings{Location: time.UTC}, nil)
	return NewService(engine, store, store, testutil.NewMockLogger(), opts...)
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

func TestDashboard_FromMirror(t *testing.T) {
	store := dealmock.NewStore().Seed(testClient())
	svc := newTestService(store)

	d, err := svc.Dashboard(context.Background(), "8 (900) 123-45-67", now)
	require.NoError(t, err)

	assert.Equal(t, int64(77), d.Client.ID)
	assert.Equal(t, testPhone, d.Client.Phone)
	assert.True(t, d.HasApproved)
	assert.True(t, d.HasRejected)
	assert.False(t, d.SubmissionOpen)
	require.Len(t, d.Deals, 3)
	require.Len(t, d.Loans, 1)
	assert.Equal(t, int64(101), d.Loans[0].DealID)

	require.Len(t, d.Notifications, 1)
	assert.Equal(t, "soon-101", d.Notifications[0].ID)
	assert.False(t, d.Notifications[0].Read)
	assert.Zero(t, store.Count("MarkDelivered"))
}

func TestDashboard_InvalidPhone(t *testing.T) {
	svc := newTestService(dealmock.NewStore())
	_, err := svc.Dashboard(context.Background(), "12", now)
	assert.True(t, errors.IsCode(err, errors.ErrCodePhoneInvalid))
}

func TestClient_CRMFallbackIsMirrored(t *testing.T) {
	store := dealmock.NewStore()
	var asked string
	crm := fetcherFunc(func(ctx context.Context, phone string) (*deal.Client, error) {
		asked = phone
		c := testClient()
		c.Phone = ""
		return &c, nil
	})
	svc := newTestService(store, WithCRM(crm))

	c, err := svc.Client(context.Background(), "9001234567")
	require.NoError(t, err)
	assert.Equal(t, testPhone, asked)
	assert.Equal(t, testPhone, c.Phone)
	assert.Len(t, c.Leads, 3)

	assert.Equal(t, 1, store.Count("UpsertClient"))
	assert.Equal(t, 1, store.Count("ReplaceDeals"))
	rec, err := store.FindClientByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, int64(77), rec.ID)
}

func TestClient_NotFound(t *testing.T) {
	_, err := newTestService(dealmock.NewStore()).Client(context.Background(), testPhone)
	assert.True(t, errors.IsCode(err, errors.ErrCodeClientNotFound))

	crm := fetcherFunc(func(context.Context, string) (*deal.Client, error) {
		return nil, errors.New(errors.ErrCodeCRMNotFound, "contact not found")
	})
	_, err = newTestService(dealmock.NewStore(), WithCRM(crm)).Client(context.Background(), testPhone)
	assert.True(t, errors.IsCode(err, errors.ErrCodeClientNotFound))
}

func TestClient_CRMFailurePropagates(t *testing.T) {
	crm := fetcherFunc(func(context.Context, string) (*deal.Client, error) {
		return nil, errors.New(errors.ErrCodeCRMUnavailable, "CRM is unavailable")
	})
	_, err := newTestService(dealmock.NewStore(), WithCRM(crm)).Client(context.Background(), testPhone)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCRMUnavailable))
}

func TestClient_MirrorErrorDoesNotFallBack(t *testing.T) {
	store := dealmock.NewStore()
	store.Err = errors.New(errors.ErrCodeDatabaseError, "connection refused")
	called := false
	crm := fetcherFunc(func(context.Context, string) (*deal.Client, error) {
		called = true
		return nil, nil
	})
	_, err := newTestService(store, WithCRM(crm)).Client(context.Background(), testPhone)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	assert.False(t, called)
}

func TestClient_Cached(t *testing.T) {
	store := dealmock.NewStore().Seed(testClient())
	cache := newMemCache()
	svc := newTestService(store, WithCache(cache, time.Minute))

	for i := 0; i < 3; i++ {
		c, err := svc.Client(context.Background(), testPhone)
		require.NoError(t, err)
		assert.Len(t, c.Leads, 3)
	}
	assert.Equal(t, 1, store.Count("FindClientByPhone"))

	require.NoError(t, svc.Invalidate(context.Background(), "89001234567"))
	assert.Equal(t, []string{ClientKey(testPhone)}, cache.deleted)

	_, err := svc.Client(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Count("FindClientByPhone"))
}

func TestDeals_Views(t *testing.T) {
	svc := newTestService(dealmock.NewStore().Seed(testClient()))
	views, err := svc.Deals(context.Background(), testPhone, now)
	require.NoError(t, err)
	require.Len(t, views, 3)

	byID := map[int64]deal.DealView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.Equal(t, deal.StateActive, byID[101].State)
	require.NotNil(t, byID[101].Due)
	assert.Equal(t, 3, byID[101].Due.DaysLeft)
	assert.Equal(t, deal.StateUnderReview, byID[102].State)
	assert.Equal(t, deal.StateRejected, byID[103].State)
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func TestNotifications_MarksDeliveredAndMergesRead(t *testing.T) {
	store := dealmock.NewStore().Seed(testClient())
	svc := newTestService(store)
	ctx := context.Background()

	ns, err := svc.Notifications(ctx, testPhone, now)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.False(t, ns[0].Read)
	st, ok := store.State(77, "soon-101")
	require.True(t, ok)
	assert.True(t, st.Delivered)
	assert.Equal(t, int64(101), st.DealID)

	n, err := svc.MarkRead(ctx, testPhone, []string{"soon-101"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ns, err = svc.Notifications(ctx, testPhone, now)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.True(t, ns[0].Read)

	// The bucket moves on with the calendar, so the new id starts unread.
	ns, err = svc.Notifications(ctx, testPhone, now.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "urgent-101", ns[0].ID)
	assert.False(t, ns[0].Read)
}

func TestNotifications_Capped(t *testing.T) {
	c := deal.Client{ID: 5, Phone: testPhone}
	for i := int64(1); i <= 12; i++ {
		c.Leads = append(c.Leads, raw(i, deal.StatusApproved, created, "30"))
	}
	svc := newTestService(dealmock.NewStore().Seed(c))

	ns, err := svc.Notifications(context.Background(), testPhone, now)
	require.NoError(t, err)
	assert.Len(t, ns, DefaultNotificationLimit)
	assert.Equal(t, "soon-1", ns[0].ID)

	svc = newTestService(dealmock.NewStore().Seed(c), WithNotificationLimit(3))
	ns, err = svc.Notifications(context.Background(), testPhone, now)
	require.NoError(t, err)
	assert.Len(t, ns, 3)
}

func TestNotifications_Empty(t *testing.T) {
	c := deal.Client{ID: 5, Phone: testPhone, Leads: []deal.RawDeal{raw(1, deal.StatusRejected, created, "")}}
	store := dealmock.NewStore().Seed(c)
	ns, err := newTestService(store).Notifications(context.Background(), testPhone, now)
	require.NoError(t, err)
	assert.NotNil(t, ns)
	assert.Empty(t, ns)
	assert.Zero(t, store.Count("MarkDelivered"))
}

func TestMarkRead_Validation(t *testing.T) {
	svc := newTestService(dealmock.NewStore().Seed(testClient()))

	_, err := svc.MarkRead(context.Background(), testPhone, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = svc.MarkRead(context.Background(), testPhone, []string{"soon-101", "later-101"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotificationIDBad))
}

// ---------------------------------------------------------------------------
// Review
// ---------------------------------------------------------------------------

func TestReview(t *testing.T) {
	svc := newTestService(dealmock.NewStore().Seed(testClient()))
	ctx := context.Background()

	r, err := svc.Review(ctx, 102, now)
	require.NoError(t, err)
	assert.Equal(t, deal.PhaseUnderReview, r.Phase)
	require.NotNil(t, r.Countdown)
	assert.Equal(t, 1100*time.Second, r.Countdown.Remaining)
	require.NotNil(t, r.Status)
	assert.Equal(t, "18:20", r.Status.Clock)
	assert.Equal(t, deal.ReviewMessageActive, r.Status.Message)

	r, err = svc.Review(ctx, 102, now.Add(1200*time.Second))
	require.NoError(t, err)
	assert.Equal(t, deal.StateAwaitingManager, r.State)
	assert.Equal(t, deal.ReviewMessageExpired, r.Status.Message)

	r, err = svc.Review(ctx, 101, now)
	require.NoError(t, err)
	assert.Equal(t, deal.PhaseApproved, r.Phase)
	assert.Nil(t, r.Countdown)

	_, err = svc.Review(ctx, 999, now)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDealNotFound))

	_, err = svc.Review(ctx, 0, now)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

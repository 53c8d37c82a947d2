package reminder

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/loan-portal/internal/testutil"
	"github.com/turtacn/loan-portal/internal/testutil/dealmock"
	"github.com/turtacn/loan-portal/pkg/errors"
)

var now = time.Date(2024, time.February, 5, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*kafka.EventEnvelope
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg kafka.Message) error { return p.err }

func (p *recordingPublisher) PublishEvent(ctx context.Context, topic, key string, env *kafka.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, env)
	return nil
}

type sentMessage struct {
	chatID      int64
	title, body string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, title, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID, title, body})
	return nil
}

func raw(id int64, status string, created time.Time, price int64) deal.RawDeal {
	return deal.RawDeal{
		ID:         id,
		Name:       "Займ #" + strconv.FormatInt(id, 10),
		Price:      decimal.NewFromInt(price),
		StatusName: status,
		CreatedAt:  created.Unix(),
		CustomFields: []deal.CustomField{
			{FieldName: deal.FieldLoanTerm, Values: []deal.FieldValue{{Value: "30"}}},
		},
	}
}

func seededStore() *dealmock.Store {
	return dealmock.NewStore().
		Seed(deal.Client{ID: 1, Phone: "+79001234567", Leads: []deal.RawDeal{
			raw(11, deal.StatusApproved, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 50000),
			raw(12, deal.StatusRejected, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 50000),
		}}).
		Seed(deal.Client{ID: 2, Phone: "+79007654321", Leads: []deal.RawDeal{
			raw(21, deal.StatusApproved, time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC), 10000),
			raw(22, deal.StatusApproved, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), 10000),
		}})
}

func newTestService(store *dealmock.Store, pub kafka.Publisher, sender Sender) Service {
	return NewService(Deps{
		Engine:    deal.NewEngine(deal.Settings{Location: time.UTC}, nil),
		Deals:     store,
		States:    store,
		Chats:     store,
		Publisher: pub,
		Sender:    sender,
		PageSize:  2,
	}, testutil.NewMockLogger())
}

// ---------------------------------------------------------------------------
// Scan
// ---------------------------------------------------------------------------

func TestScan_PublishesOnce(t *testing.T) {
	store := seededStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, pub, &fakeSender{})

	res, err := svc.Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deals)
	assert.Equal(t, 2, res.Generated)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, 1, res.Overdue)
	assert.Equal(t, "250", res.PenaltySum.String())

	require.Len(t, pub.events, 2)
	assert.Equal(t, kafka.TopicDealNotification, pub.topics[0])
	var p kafka.NotificationPayload
	require.NoError(t, pub.events[0].DecodePayload(&p))
	assert.Equal(t, "overdue-11", p.NotificationID)
	assert.Equal(t, int64(1), p.ClientID)
	assert.Equal(t, "+79001234567", p.Phone)
	assert.Equal(t, string(deal.KindWarning), p.Kind)
	assert.Equal(t, deal.BucketOverdue.Title, p.Title)
	assert.Equal(t, "05.02.2024", p.Date)

	require.NoError(t, pub.events[1].DecodePayload(&p))
	assert.Equal(t, "soon-21", p.NotificationID)

	res, err = svc.Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Generated)
	assert.Zero(t, res.Published)
	assert.Len(t, pub.events, 2)

	// Next day deal 21 moves to the urgent bucket, a new notification.
	res, err = svc.Scan(context.Background(), now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
}

func TestScan_PublishFailureIsCounted(t *testing.T) {
	pub := &recordingPublisher{err: errors.New(errors.ErrCodeMessagingError, "broker down")}
	res, err := newTestService(seededStore(), pub, &fakeSender{}).Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PublishFails)
	assert.Zero(t, res.Published)
}

func TestScan_RepositoryError(t *testing.T) {
	store := seededStore()
	store.Err = errors.New(errors.ErrCodeDatabaseError, "down")
	_, err := newTestService(store, &recordingPublisher{}, &fakeSender{}).Scan(context.Background(), now)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func notificationMessage(t *testing.T, clientID int64, id string) kafka.Message {
	t.Helper()
	env, err := kafka.NewEventEnvelope(kafka.EventNotificationDue, kafka.NotificationPayload{
		ClientID: clientID, DealID: 11, NotificationID: id, Title: "T", Message: "Body",
	})
	require.NoError(t, err)
	msg, err := env.ToMessage(kafka.TopicDealNotification, strconv.FormatInt(clientID, 10))
	require.NoError(t, err)
	return msg
}

func TestDispatch_Delivers(t *testing.T) {
	store := seededStore()
	require.NoError(t, store.LinkChat(context.Background(), 1, 5005))
	sender := &fakeSender{}
	svc := newTestService(store, &recordingPublisher{}, sender)

	require.NoError(t, svc.Dispatch(context.Background(), notificationMessage(t, 1, "overdue-11")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, sentMessage{5005, "T", "Body"}, sender.sent[0])

	st, ok := store.State(1, "overdue-11")
	require.True(t, ok)
	assert.True(t, st.Delivered)
}

func TestDispatch_NoChatIsNotAnError(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(seededStore(), &recordingPublisher{}, sender)
	require.NoError(t, svc.Dispatch(context.Background(), notificationMessage(t, 2, "soon-21")))
	assert.Empty(t, sender.sent)
}

func TestDispatch_SenderErrors(t *testing.T) {
	store := seededStore()
	require.NoError(t, store.LinkChat(context.Background(), 1, 5005))

	blocked := &fakeSender{err: errors.New(errors.ErrCodeChatNotLinked, "bot was blocked")}
	assert.NoError(t, newTestService(store, nil, blocked).Dispatch(context.Background(), notificationMessage(t, 1, "overdue-11")))

	failing := &fakeSender{err: errors.New(errors.ErrCodeDispatchFailed, "telegram send failed")}
	err := newTestService(store, nil, failing).Dispatch(context.Background(), notificationMessage(t, 1, "overdue-11"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeDispatchFailed))

	_, ok := store.State(1, "overdue-11")
	assert.False(t, ok)
}

func TestDispatch_IgnoresOtherEvents(t *testing.T) {
	env, err := kafka.NewEventEnvelope(kafka.EventDealsSynced, kafka.DealsSyncedPayload{ClientID: 1})
	require.NoError(t, err)
	msg, err := env.ToMessage(kafka.TopicDealSynced, "1")
	require.NoError(t, err)

	sender := &fakeSender{}
	require.NoError(t, newTestService(seededStore(), nil, sender).Dispatch(context.Background(), msg))
	assert.Empty(t, sender.sent)
}

func TestDispatch_BadMessage(t *testing.T) {
	err := newTestService(seededStore(), nil, &fakeSender{}).Dispatch(context.Background(), kafka.Message{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

// ---------------------------------------------------------------------------
// LinkChat
// ---------------------------------------------------------------------------

func TestLinkChat(t *testing.T) {
	store := seededStore()
	svc := newTestService(store, nil, nil)

	require.NoError(t, svc.LinkChat(context.Background(), "8 900 123 45 67", 42))
	id, err := store.ChatFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	err = svc.LinkChat(context.Background(), "+79990000000", 42)
	assert.True(t, errors.IsCode(err, errors.ErrCodeClientNotFound))

	err = svc.LinkChat(context.Background(), "abc", 42)
	assert.True(t, errors.IsCode(err, errors.ErrCodePhoneInvalid))
}

func TestBucketLabel(t *testing.T) {
	assert.Equal(t, "overdue", bucketLabel("overdue-1"))
	assert.Equal(t, "reminder", bucketLabel("reminder-9"))
	assert.Equal(t, "unknown", bucketLabel("x"))
}

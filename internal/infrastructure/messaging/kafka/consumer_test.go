package kafka

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/internal/testutil"
)

// mockKafkaReader serves queued messages and then blocks until cancelled.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaReader) commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingPublisher) PublishEvent(ctx context.Context, topic, key string, env *EventEnvelope) error {
	msg, err := env.ToMessage(topic, key)
	if err != nil {
		return err
	}
	return r.Publish(ctx, msg)
}

func (r *recordingPublisher) published() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func newTestConsumer(r ReaderInterface, dl Publisher, retries int) *Consumer {
	c := newConsumer(r, dl, ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "test-group",
		Topics:  []string{TopicDealNotification},
		Retry:   RetryConfig{MaxRetries: retries, DeadLetterTopic: TopicDeadLetter},
	}, testutil.NewMockLogger())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestValidateConsumerConfig(t *testing.T) {
	valid := ConsumerConfig{Brokers: []string{"b"}, GroupID: "g", Topics: []string{"t"}}
	assert.NoError(t, ValidateConsumerConfig(valid))

	noGroup := valid
	noGroup.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(noGroup))

	noTopics := valid
	noTopics.Topics = nil
	assert.Error(t, ValidateConsumerConfig(noTopics))

	badRetry := valid
	badRetry.Retry.MaxRetries = -1
	assert.Error(t, ValidateConsumerConfig(badRetry))
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicDealNotification, Offset: 1, Value: []byte("a"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		{Topic: TopicDealNotification, Offset: 2, Value: []byte("b")},
	}}
	c := newTestConsumer(reader, nil, 0)

	var mu sync.Mutex
	var seen []string
	c.Subscribe(TopicDealNotification, func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Value))
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	assert.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, seen)
	mu.Unlock()
	assert.True(t, reader.closed)
	assert.Equal(t, int64(2), c.Metrics().MessagesProcessed.Load())
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicDealNotification, Offset: 9, Key: []byte("3"), Value: []byte("bad")},
	}}
	dl := &recordingPublisher{}
	c := newTestConsumer(reader, dl, 2)

	calls := 0
	c.Subscribe(TopicDealNotification, func(context.Context, Message) error {
		calls++
		return stderrors.New("handler failed")
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), c.Metrics().MessagesRetried.Load())
	assert.Equal(t, int64(1), c.Metrics().MessagesDeadLettered.Load())

	got := dl.published()
	require.Len(t, got, 1)
	assert.Equal(t, TopicDeadLetter, got[0].Topic)
	assert.Equal(t, TopicDealNotification, got[0].Headers["original_topic"])
	assert.Equal(t, "9", got[0].Headers["original_offset"])
	assert.Equal(t, "handler failed", got[0].Headers["error_message"])
}

func TestConsumer_RecoversAfterRetry(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: TopicDealNotification, Value: []byte("x")}}}
	dl := &recordingPublisher{}
	c := newTestConsumer(reader, dl, 3)

	calls := 0
	c.Subscribe(TopicDealNotification, func(context.Context, Message) error {
		calls++
		if calls < 2 {
			return stderrors.New("transient")
		}
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, 2, calls)
	assert.Empty(t, dl.published())
}

func TestConsumer_UnroutedTopicIsCommitted(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "other", Value: []byte("x")}}}
	c := newTestConsumer(reader, nil, 0)

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

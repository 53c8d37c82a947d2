// Package kafka publishes and consumes portal events on Kafka through
// segmentio/kafka-go.
package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

var (
	ErrProducerClosed = errors.New(errors.ErrCodeMessagingError, "producer closed")
	ErrEmptyTopic     = errors.New(errors.ErrCodeValidation, "message topic is empty")
	ErrEmptyValue     = errors.New(errors.ErrCodeValidation, "message value is empty")
	ErrMessageTooBig  = errors.New(errors.ErrCodeValidation, "message exceeds max size")
)

const defaultMaxMessageBytes = 1 << 20

// Message is a record read from or written to Kafka.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Publisher writes messages.  Application code depends on this rather than
// on *Producer.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	PublishEvent(ctx context.Context, topic, key string, env *EventEnvelope) error
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// ProducerConfig holds producer parameters.
type ProducerConfig struct {
	Brokers         []string
	ClientID        string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	MaxMessageBytes int
}

// ProducerConfigFrom maps the "kafka" configuration section.
func ProducerConfigFrom(c config.KafkaConfig) ProducerConfig {
	return ProducerConfig{
		Brokers:      c.Brokers,
		ClientID:     c.ClientID,
		BatchSize:    c.BatchSize,
		BatchTimeout: c.BatchTimeout,
		WriteTimeout: c.WriteTimeout,
		MaxRetries:   c.MaxRetries,
	}
}

// ValidateProducerConfig checks cfg before a writer is built.
func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	if cfg.BatchSize < 0 || cfg.MaxRetries < 0 || cfg.MaxMessageBytes < 0 {
		return errors.New(errors.ErrCodeValidation, "kafka producer limits must be >= 0")
	}
	return nil
}

// ProducerMetrics counts producer outcomes.
type ProducerMetrics struct {
	MessagesSent   atomic.Int64
	MessagesFailed atomic.Int64
	BytesSent      atomic.Int64
}

// Producer publishes messages.
type Producer struct {
	writer  WriterInterface
	config  ProducerConfig
	logger  logging.Logger
	closed  atomic.Bool
	metrics *ProducerMetrics
}

// NewProducer builds a Producer on a kafka.Writer.
func NewProducer(cfg ProducerConfig, log logging.Logger) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireAll,
		BatchBytes:   int64(cfg.MaxMessageBytes),
	}
	if cfg.ClientID != "" {
		w.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return newProducer(w, cfg, log), nil
}

func newProducer(w WriterInterface, cfg ProducerConfig, log logging.Logger) *Producer {
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	return &Producer{
		writer:  w,
		config:  cfg,
		logger:  logging.OrNop(log).Named("kafka.producer"),
		metrics: &ProducerMetrics{},
	}
}

func (p *Producer) validate(msg Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}
	if len(msg.Value) == 0 {
		return ErrEmptyValue
	}
	if len(msg.Key)+len(msg.Value) > p.config.MaxMessageBytes {
		return ErrMessageTooBig
	}
	return nil
}

// Publish writes one message synchronously.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if err := p.validate(msg); err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		p.metrics.MessagesFailed.Add(1)
		p.logger.Error("Failed to publish message", logging.String("topic", msg.Topic), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to publish message")
	}
	p.metrics.MessagesSent.Add(1)
	p.metrics.BytesSent.Add(int64(len(msg.Value)))
	return nil
}

// PublishEvent serialises env and publishes it to topic.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, env *EventEnvelope) error {
	msg, err := env.ToMessage(topic, key)
	if err != nil {
		return err
	}
	return p.Publish(ctx, msg)
}

// BatchError is the failure of one message in a batch.
type BatchError struct {
	Index int
	Err   error
}

// BatchResult summarises PublishBatch.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchError
}

// PublishBatch writes msgs in one call.  Invalid messages are reported
// without being sent; a partial write failure is reported per index.
func (p *Producer) PublishBatch(ctx context.Context, msgs []Message) (BatchResult, error) {
	var res BatchResult
	if p.closed.Load() {
		return res, ErrProducerClosed
	}
	idx := make([]int, 0, len(msgs))
	out := make([]kafka.Message, 0, len(msgs))
	for i, m := range msgs {
		if err := p.validate(m); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BatchError{Index: i, Err: err})
			continue
		}
		idx = append(idx, i)
		out = append(out, toKafkaMessage(m))
	}
	if len(out) == 0 {
		return res, nil
	}

	err := p.writer.WriteMessages(ctx, out...)
	if err == nil {
		res.Succeeded += len(out)
		p.metrics.MessagesSent.Add(int64(len(out)))
		return res, nil
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for i, e := range werrs {
			if e == nil {
				res.Succeeded++
				p.metrics.MessagesSent.Add(1)
				continue
			}
			res.Failed++
			p.metrics.MessagesFailed.Add(1)
			res.Errors = append(res.Errors, BatchError{Index: idx[i], Err: e})
		}
		return res, nil
	}
	res.Failed += len(out)
	p.metrics.MessagesFailed.Add(int64(len(out)))
	return res, errors.Wrap(err, errors.ErrCodeMessagingError, "failed to publish batch")
}

// Metrics returns the live counters.
func (p *Producer) Metrics() *ProducerMetrics {
	return p.metrics
}

// Close flushes and closes the writer.  Later calls are no-ops.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to close producer")
	}
	p.logger.Info("Kafka producer closed", logging.Int64("sent", p.metrics.MessagesSent.Load()))
	return nil
}

func toKafkaMessage(m Message) kafka.Message {
	km := kafka.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Time: m.Timestamp}
	for k, v := range m.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return km
}

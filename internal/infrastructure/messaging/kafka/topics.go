package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// Topics carried by the portal.
const (
	TopicDealNotification = "loanportal.deal.notification"
	TopicDealSynced       = "loanportal.deal.synced"
	TopicDeadLetter       = "loanportal.dead_letter"
)

// Event types.
const (
	EventNotificationDue = "deal.notification.due"
	EventDealsSynced     = "deal.synced"
)

const (
	envelopeSchemaVersion = "1"
	envelopeSource        = "loan-portal"
)

// EventEnvelope wraps every payload written by the portal.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType string, payload interface{}) (*EventEnvelope, error) {
	if eventType == "" {
		return nil, errors.New(errors.ErrCodeValidation, "event type required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal event payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        envelopeSource,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: envelopeSchemaVersion,
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "event payload is empty")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode event payload")
	}
	return nil
}

// ToMessage serialises the envelope for topic under key.
func (e *EventEnvelope) ToMessage(topic, key string) (Message, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return Message{}, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	return Message{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
		Headers: map[string]string{
			"event_id":       e.EventID,
			"event_type":     e.EventType,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

// EnvelopeFromMessage decodes a consumed message.
func EnvelopeFromMessage(msg Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// NotificationPayload announces a notification that became due for a client.
type NotificationPayload struct {
	ClientID       int64  `json:"client_id"`
	Phone          string `json:"phone"`
	DealID         int64  `json:"deal_id"`
	NotificationID string `json:"notification_id"`
	Kind           string `json:"type"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Date           string `json:"date"`
}

// Key partitions notifications by client so one client's feed stays ordered.
func (p NotificationPayload) Key() string {
	return strconv.FormatInt(p.ClientID, 10)
}

// DealsSyncedPayload reports one client's refreshed mirror.
type DealsSyncedPayload struct {
	ClientID int64     `json:"client_id"`
	Phone    string    `json:"phone"`
	DealIDs  []int64   `json:"deal_ids"`
	SyncedAt time.Time `json:"synced_at"`
}

// Key partitions sync events by client.
func (p DealsSyncedPayload) Key() string {
	return strconv.FormatInt(p.ClientID, 10)
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicSpec describes a topic to provision.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	Retention         time.Duration
}

// DefaultTopics lists the topics the worker expects to exist.
func DefaultTopics() []TopicSpec {
	return []TopicSpec{
		{Name: TopicDealNotification, NumPartitions: 6, ReplicationFactor: 1, Retention: 3 * 24 * time.Hour},
		{Name: TopicDealSynced, NumPartitions: 3, ReplicationFactor: 1, Retention: 7 * 24 * time.Hour},
		{Name: TopicDeadLetter, NumPartitions: 1, ReplicationFactor: 1, Retention: 30 * 24 * time.Hour},
	}
}

// TopicManager provisions topics.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(brokers []string, log logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessagingError, "failed to dial kafka")
	}
	return newTopicManager(conn, log), nil
}

func newTopicManager(conn ConnInterface, log logging.Logger) *TopicManager {
	return &TopicManager{conn: conn, logger: logging.OrNop(log).Named("kafka.topics")}
}

// TopicExists reports whether name has partitions.
func (m *TopicManager) TopicExists(_ context.Context, name string) bool {
	partitions, err := m.conn.ReadPartitions(name)
	return err == nil && len(partitions) > 0
}

// EnsureTopics creates every missing topic in specs.
func (m *TopicManager) EnsureTopics(ctx context.Context, specs []TopicSpec) error {
	for _, s := range specs {
		if s.Name == "" || s.NumPartitions <= 0 || s.ReplicationFactor <= 0 {
			return errors.Newf(errors.ErrCodeValidation, "invalid topic spec %q", s.Name)
		}
		if m.TopicExists(ctx, s.Name) {
			continue
		}
		cfg := kafka.TopicConfig{
			Topic:             s.Name,
			NumPartitions:     s.NumPartitions,
			ReplicationFactor: s.ReplicationFactor,
		}
		if s.Retention > 0 {
			cfg.ConfigEntries = append(cfg.ConfigEntries, kafka.ConfigEntry{
				ConfigName:  "retention.ms",
				ConfigValue: strconv.FormatInt(s.Retention.Milliseconds(), 10),
			})
		}
		if err := m.conn.CreateTopics(cfg); err != nil {
			return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to create topic").WithDetail(s.Name)
		}
		m.logger.Info("Topic created", logging.String("topic", s.Name))
	}
	return nil
}

// Close closes the broker connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// Package reminder turns repayment deadlines into outbound messages.
//
// Scan runs the notification generator over every stored approved deal and
// publishes each notification the first time it appears.  Dispatch consumes
// those events and delivers them to the client's linked Telegram chat.
package reminder

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// DefaultPageSize is how many stored deals a scan reads per query.
const DefaultPageSize = 200

const channelTelegram = "telegram"

// Sender delivers one rendered notification to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, title, body string) error
}

// ScanResult summarises one scan.
type ScanResult struct {
	Deals        int             `json:"deals"`
	Generated    int             `json:"generated"`
	Published    int             `json:"published"`
	PublishFails int             `json:"publish_failures"`
	Overdue      int             `json:"overdue"`
	PenaltySum   decimal.Decimal `json:"penalty_sum"`
}

// Service schedules and delivers repayment reminders.
type Service interface {
	Scan(ctx context.Context, now time.Time) (*ScanResult, error)
	Dispatch(ctx context.Context, msg kafka.Message) error
	// LinkChat binds a Telegram chat to the client owning phone.
	LinkChat(ctx context.Context, phone string, chatID int64) error
}

// Deps collects the collaborators of a Service.
type Deps struct {
	Engine    *deal.Engine
	Deals     deal.DealRepository
	States    deal.NotificationStateRepository
	Chats     deal.ChatRepository
	Publisher kafka.Publisher
	Sender    Sender
	Metrics   *prometheus.AppMetrics
	PageSize  int
}

type serviceImpl struct {
	Deps
	logger logging.Logger
	clock  func() time.Time
}

// NewService wires a reminder service.
func NewService(deps Deps, logger logging.Logger) Service {
	if deps.PageSize <= 0 {
		deps.PageSize = DefaultPageSize
	}
	return &serviceImpl{Deps: deps, logger: logging.OrNop(logger).Named("reminder"), clock: time.Now}
}

func (s *serviceImpl) Scan(ctx context.Context, now time.Time) (*ScanResult, error) {
	res := &ScanResult{}
	for offset := 0; ; offset += s.PageSize {
		page, err := s.Deals.ListByStatus(ctx, deal.StatusApproved, s.PageSize, offset)
		if err != nil {
			return res, err
		}
		for _, cd := range page {
			if err := s.scanDeal(ctx, cd, now, res); err != nil {
				return res, err
			}
		}
		if len(page) < s.PageSize {
			break
		}
	}

	if s.Metrics != nil {
		s.Metrics.OverdueDeals.WithLabelValues().Set(float64(res.Overdue))
		s.Metrics.OverduePenaltySum.WithLabelValues().Set(res.PenaltySum.InexactFloat64())
	}
	s.logger.Info("Reminder scan finished",
		logging.Int("deals", res.Deals),
		logging.Int("generated", res.Generated),
		logging.Int("published", res.Published),
		logging.Int("overdue", res.Overdue))
	return res, nil
}

func (s *serviceImpl) scanDeal(ctx context.Context, cd deal.ClientDeal, now time.Time, res *ScanResult) error {
	d := s.Engine.Map(cd.Deal)
	if d.Phase != deal.PhaseApproved {
		return nil
	}
	res.Deals++
	if s.Engine.Due(d, now).Overdue {
		res.Overdue++
		res.PenaltySum = res.PenaltySum.Add(s.Engine.Overdue(d, now).Penalty)
	}

	for _, n := range s.Engine.Notifications([]deal.Deal{d}, now) {
		res.Generated++
		bucket := bucketLabel(n.ID)
		if s.Metrics != nil {
			s.Metrics.NotificationsGenerated.WithLabelValues(bucket).Inc()
		}
		fresh, err := s.States.MarkPublished(ctx, cd.ClientID, n.ID, d.ID, now)
		if err != nil {
			return err
		}
		if !fresh || s.Publisher == nil {
			continue
		}
		if err := s.publish(ctx, cd, n); err != nil {
			// Already marked published; a lost event is skipped rather than
			// re-sent to every other client on the next scan.
			res.PublishFails++
			s.logger.Error("Failed to publish notification",
				logging.String("notification_id", n.ID),
				logging.Int64("client_id", cd.ClientID),
				logging.Err(err))
			continue
		}
		res.Published++
		if s.Metrics != nil {
			s.Metrics.NotificationsPublished.WithLabelValues(bucket).Inc()
		}
	}
	return nil
}

func (s *serviceImpl) publish(ctx context.Context, cd deal.ClientDeal, n deal.Notification) error {
	p := kafka.NotificationPayload{
		ClientID:       cd.ClientID,
		Phone:          cd.Phone,
		DealID:         n.DealID,
		NotificationID: n.ID,
		Kind:           string(n.Kind),
		Title:          n.Title,
		Message:        n.Message,
		Date:           n.Date,
	}
	env, err := kafka.NewEventEnvelope(kafka.EventNotificationDue, p)
	if err != nil {
		return err
	}
	return s.Publisher.PublishEvent(ctx, kafka.TopicDealNotification, p.Key(), env)
}

func (s *serviceImpl) Dispatch(ctx context.Context, msg kafka.Message) error {
	env, err := kafka.EnvelopeFromMessage(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafka.EventNotificationDue {
		s.logger.Debug("Ignoring event", logging.String("event_type", env.EventType))
		return nil
	}
	var p kafka.NotificationPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}

	chatID, err := s.Chats.ChatFor(ctx, p.ClientID)
	if errors.IsCode(err, errors.ErrCodeChatNotLinked) {
		s.recordDelivery("no_chat")
		s.logger.Debug("Client has no chat, skipping", logging.Int64("client_id", p.ClientID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.Sender.Send(ctx, chatID, p.Title, p.Message); err != nil {
		if errors.IsCode(err, errors.ErrCodeChatNotLinked) {
			s.recordDelivery("blocked")
			s.logger.Warn("Chat rejected notification", logging.Int64("client_id", p.ClientID), logging.Err(err))
			return nil
		}
		s.recordDelivery("failed")
		return err
	}
	s.recordDelivery("sent")

	if err := s.States.MarkDelivered(ctx, p.ClientID, []string{p.NotificationID}, s.clock()); err != nil {
		s.logger.Warn("Failed to record delivery", logging.String("notification_id", p.NotificationID), logging.Err(err))
	}
	return nil
}

func (s *serviceImpl) recordDelivery(result string) {
	if s.Metrics != nil {
		s.Metrics.NotificationsDelivered.WithLabelValues(channelTelegram, result).Inc()
	}
}

func (s *serviceImpl) LinkChat(ctx context.Context, phone string, chatID int64) error {
	normalized, err := deal.NormalizePhone(phone)
	if err != nil {
		return err
	}
	rec, err := s.Deals.FindClientByPhone(ctx, normalized)
	if err != nil {
		return err
	}
	return s.Chats.LinkChat(ctx, rec.ID, chatID)
}

// bucketLabel turns "soon-42" into "soon".
func bucketLabel(id string) string {
	b, _, ok := deal.ParseNotificationID(id)
	if !ok {
		return "unknown"
	}
	return strings.TrimSuffix(b.Prefix, "-")
}

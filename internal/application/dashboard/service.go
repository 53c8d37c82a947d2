// Package dashboard serves the client-facing read model: the deal snapshot a
// portal user sees after identifying by phone, the notification feed with its
// read state and the review countdown of a single deal.
package dashboard

import (
	"context"
	"time"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// DefaultNotificationLimit caps the feed returned to a client.
const DefaultNotificationLimit = 10

const (
	cacheName     = "client"
	clientKeyBase = "client:"
)

// ClientKey is the cache key of the client bundle of a normalized phone.
func ClientKey(phone string) string {
	return clientKeyBase + phone
}

// ClientFetcher resolves a client with all their leads from the CRM.
type ClientFetcher interface {
	FetchClient(ctx context.Context, phone string) (*deal.Client, error)
}

// Cache is the read-through cache the service keeps client bundles in.
type Cache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
	Delete(ctx context.Context, keys ...string) error
}

// ClientInfo is the contact part of a dashboard.
type ClientInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Dashboard is everything the portal renders for one client.
type Dashboard struct {
	Client ClientInfo `json:"client"`
	deal.Snapshot
}

// ReviewResult is the review state of one deal.
type ReviewResult struct {
	DealID    int64                 `json:"deal_id"`
	Phase     deal.Phase            `json:"lifecycle_phase"`
	State     deal.DisplayState     `json:"state"`
	Countdown *deal.ReviewCountdown `json:"countdown,omitempty"`
	Status    *deal.ReviewStatus    `json:"status,omitempty"`
}

// Service is the dashboard application service.
type Service interface {
	// Client returns the client owning phone with their raw leads.
	Client(ctx context.Context, phone string) (*deal.Client, error)
	Dashboard(ctx context.Context, phone string, now time.Time) (*Dashboard, error)
	Deals(ctx context.Context, phone string, now time.Time) ([]deal.DealView, error)
	// Notifications returns the capped feed and records it as delivered.
	Notifications(ctx context.Context, phone string, now time.Time) ([]deal.Notification, error)
	MarkRead(ctx context.Context, phone string, ids []string) (int64, error)
	Review(ctx context.Context, dealID int64, now time.Time) (*ReviewResult, error)
	// Invalidate drops the cached bundle of phone.
	Invalidate(ctx context.Context, phone string) error
}

// Option configures the service.
type Option func(*serviceImpl)

// WithCache enables the client bundle cache.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *serviceImpl) { s.cache, s.cacheTTL = c, ttl }
}

// WithCRM enables CRM fallback for clients missing from the mirror.
func WithCRM(f ClientFetcher) Option {
	return func(s *serviceImpl) { s.crm = f }
}

// WithMetrics records cache and read metrics.
func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(s *serviceImpl) { s.metrics = m }
}

// WithNotificationLimit overrides DefaultNotificationLimit.
func WithNotificationLimit(n int) Option {
	return func(s *serviceImpl) {
		if n > 0 {
			s.limit = n
		}
	}
}

type serviceImpl struct {
	engine   *deal.Engine
	deals    deal.DealRepository
	states   deal.NotificationStateRepository
	crm      ClientFetcher
	cache    Cache
	cacheTTL time.Duration
	metrics  *prometheus.AppMetrics
	limit    int
	logger   logging.Logger
	clock    func() time.Time
}

// NewService wires the dashboard service.
func NewService(engine *deal.Engine, deals deal.DealRepository, states deal.NotificationStateRepository, logger logging.Logger, opts ...Option) Service {
	s := &serviceImpl{
		engine: engine,
		deals:  deals,
		states: states,
		limit:  DefaultNotificationLimit,
		logger: logging.OrNop(logger).Named("dashboard"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *serviceImpl) Client(ctx context.Context, phone string) (*deal.Client, error) {
	normalized, err := deal.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		return s.loadClient(ctx, normalized)
	}

	var c deal.Client
	hit := true
	err = s.cache.GetOrSet(ctx, ClientKey(normalized), &c, s.cacheTTL, func(ctx context.Context) (interface{}, error) {
		hit = false
		return s.loadClient(ctx, normalized)
	})
	if s.metrics != nil {
		prometheus.RecordCacheAccess(s.metrics, cacheName, hit)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// loadClient reads the mirror first and falls back to the CRM, writing what
// the CRM returned through to the mirror.
func (s *serviceImpl) loadClient(ctx context.Context, phone string) (*deal.Client, error) {
	rec, err := s.deals.FindClientByPhone(ctx, phone)
	switch {
	case err == nil:
		leads, err := s.deals.ListByClient(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		return &deal.Client{ID: rec.ID, Name: rec.Name, Phone: rec.Phone, Email: rec.Email, Leads: leads}, nil
	case !errors.IsCode(err, errors.ErrCodeClientNotFound):
		return nil, err
	case s.crm == nil:
		return nil, err
	}

	c, err := s.crm.FetchClient(ctx, phone)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeCRMNotFound) {
			return nil, errors.New(errors.ErrCodeClientNotFound, "client not found").WithDetail("phone=" + phone)
		}
		return nil, err
	}
	c.Phone = phone
	if err := s.persist(ctx, c); err != nil {
		s.logger.Warn("Failed to mirror CRM client", logging.Int64("client_id", c.ID), logging.Err(err))
	}
	return c, nil
}

func (s *serviceImpl) persist(ctx context.Context, c *deal.Client) error {
	rec := deal.ClientRecord{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email, SyncedAt: s.clock()}
	if err := s.deals.UpsertClient(ctx, rec); err != nil {
		return err
	}
	return s.deals.ReplaceDeals(ctx, c.ID, c.Leads)
}

func (s *serviceImpl) Dashboard(ctx context.Context, phone string, now time.Time) (*Dashboard, error) {
	c, err := s.Client(ctx, phone)
	if err != nil {
		return nil, err
	}
	snap := s.engine.Snapshot(c.Leads, now)
	ns, err := s.feed(ctx, c.ID, snap.Notifications)
	if err != nil {
		return nil, err
	}
	snap.Notifications = ns
	return &Dashboard{
		Client:   ClientInfo{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email},
		Snapshot: snap,
	}, nil
}

func (s *serviceImpl) Deals(ctx context.Context, phone string, now time.Time) ([]deal.DealView, error) {
	c, err := s.Client(ctx, phone)
	if err != nil {
		return nil, err
	}
	deals := s.engine.MapAll(c.Leads)
	out := make([]deal.DealView, 0, len(deals))
	for _, d := range deals {
		out = append(out, s.engine.View(d, now))
	}
	return out, nil
}

func (s *serviceImpl) Notifications(ctx context.Context, phone string, now time.Time) ([]deal.Notification, error) {
	c, err := s.Client(ctx, phone)
	if err != nil {
		return nil, err
	}
	ns, err := s.feed(ctx, c.ID, s.engine.Notifications(s.engine.MapAll(c.Leads), now))
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return ns, nil
	}
	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	if err := s.states.MarkDelivered(ctx, c.ID, ids, s.clock()); err != nil {
		// The feed is still correct; only the delivery bookkeeping is lost.
		s.logger.Warn("Failed to record delivery", logging.Int64("client_id", c.ID), logging.Err(err))
	}
	return ns, nil
}

// feed caps ns and merges persisted read flags into it.
func (s *serviceImpl) feed(ctx context.Context, clientID int64, ns []deal.Notification) ([]deal.Notification, error) {
	if len(ns) > s.limit {
		ns = ns[:s.limit]
	}
	if len(ns) == 0 {
		return ns, nil
	}
	states, err := s.states.States(ctx, clientID)
	if err != nil {
		return nil, err
	}
	read := make(map[string]bool, len(states))
	for id, st := range states {
		if st.Read {
			read[id] = true
		}
	}
	return deal.MergeReadState(ns, read), nil
}

func (s *serviceImpl) MarkRead(ctx context.Context, phone string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.New(errors.ErrCodeValidation, "no notification ids given")
	}
	for _, id := range ids {
		if _, _, ok := deal.ParseNotificationID(id); !ok {
			return 0, errors.New(errors.ErrCodeNotificationIDBad, "malformed notification id").WithDetail(id)
		}
	}
	c, err := s.Client(ctx, phone)
	if err != nil {
		return 0, err
	}
	n, err := s.states.MarkRead(ctx, c.ID, ids, s.clock())
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.NotificationsRead.WithLabelValues().Add(float64(n))
	}
	s.logger.Debug("Marked notifications read", logging.Int64("client_id", c.ID), logging.Int64("count", n))
	return n, nil
}

func (s *serviceImpl) Review(ctx context.Context, dealID int64, now time.Time) (*ReviewResult, error) {
	if dealID <= 0 {
		return nil, errors.InvalidParam("deal id must be positive")
	}
	cd, err := s.deals.FindDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	v := s.engine.View(s.engine.Map(cd.Deal), now)
	return &ReviewResult{
		DealID:    v.ID,
		Phase:     v.Phase,
		State:     v.State,
		Countdown: v.Review,
		Status:    v.ReviewStatus,
	}, nil
}

func (s *serviceImpl) Invalidate(ctx context.Context, phone string) error {
	if s.cache == nil {
		return nil
	}
	normalized, err := deal.NormalizePhone(phone)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, ClientKey(normalized))
}

// Package dealsync mirrors CRM contacts and leads into the local store.
//
// A full sync pages through every lead, groups leads by their main contact,
// resolves each contact's phone and replaces the stored snapshot of that
// client, dropping leads the CRM no longer returns.  A listing cut short by
// the page limit only upserts.  A client sync replaces one phone's snapshot
// on demand, and a lead sync applies CRM webhook changes to single leads.
// All of them drop the cached dashboard bundle of the touched client and
// announce the change on the event bus.
package dealsync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/loan-portal/internal/application/dashboard"
	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/crm/amocrm"
	"github.com/turtacn/loan-portal/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/loan-portal/pkg/errors"
)

const (
	DefaultPageSize    = amocrm.MaxPageSize
	DefaultMaxPages    = 10
	DefaultConcurrency = 4

	ScopeFull   = "full"
	ScopeClient = "client"
	ScopeLeads  = "leads"
)

// CRM is the part of the CRM client a sync needs.
type CRM interface {
	ListLeads(ctx context.Context, page, limit int) ([]amocrm.Lead, bool, error)
	GetLead(ctx context.Context, id int64) (*amocrm.Lead, error)
	GetContact(ctx context.Context, id int64) (*amocrm.Contact, error)
	Pipelines(ctx context.Context) (amocrm.StatusDirectory, error)
	FetchClient(ctx context.Context, phone string) (*deal.Client, error)
}

// Locker guards a full sync against concurrent runs across workers.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// CacheInvalidator drops cached client bundles.
type CacheInvalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

// Result summarises one sync run.
type Result struct {
	Scope     string        `json:"scope"`
	Skipped   bool          `json:"skipped"`
	Truncated bool          `json:"truncated"`
	Pages     int           `json:"pages"`
	Leads     int           `json:"leads"`
	Orphans   int           `json:"orphans"`
	Clients   int           `json:"clients"`
	Deals     int           `json:"deals"`
	Removed   int           `json:"removed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Service synchronises the deal mirror with the CRM.
type Service interface {
	SyncAll(ctx context.Context) (*Result, error)
	SyncClient(ctx context.Context, phone string) (*deal.Client, error)
	// SyncLeads re-fetches changed leads and drops removed ones.  A changed
	// lead the CRM no longer knows counts as removed.
	SyncLeads(ctx context.Context, changed, removed []int64) (*Result, error)
}

// Options tunes a Service.  Zero fields take defaults.
type Options struct {
	PageSize    int
	MaxPages    int
	Concurrency int
	Locker      Locker
	Cache       CacheInvalidator
	Publisher   kafka.Publisher
	Metrics     *prometheus.AppMetrics
}

type serviceImpl struct {
	crm    CRM
	deals  deal.DealRepository
	opts   Options
	logger logging.Logger
	clock  func() time.Time
}

// NewService wires a sync service.
func NewService(crm CRM, deals deal.DealRepository, opts Options, logger logging.Logger) Service {
	if opts.PageSize <= 0 || opts.PageSize > amocrm.MaxPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &serviceImpl{
		crm:    crm,
		deals:  deals,
		opts:   opts,
		logger: logging.OrNop(logger).Named("deal_sync"),
		clock:  time.Now,
	}
}

func (s *serviceImpl) SyncAll(ctx context.Context) (res *Result, err error) {
	start := s.clock()
	res = &Result{Scope: ScopeFull}

	if s.opts.Locker != nil {
		ok, err := s.opts.Locker.TryLock(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Info("Full sync already running elsewhere, skipping")
			res.Skipped = true
			return res, nil
		}
		defer func() {
			// The lease expires on its own if this fails.
			if uerr := s.opts.Locker.Unlock(context.WithoutCancel(ctx)); uerr != nil {
				s.logger.Warn("Failed to release sync lock", logging.Err(uerr))
			}
		}()
	}

	defer func() {
		res.Duration = s.clock().Sub(start)
		if s.opts.Metrics != nil {
			prometheus.RecordSync(s.opts.Metrics, ScopeFull, res.Deals, res.Duration, err)
		}
	}()

	dir, err := s.crm.Pipelines(ctx)
	if err != nil {
		return res, err
	}

	byContact := make(map[int64][]deal.RawDeal)
	order := make([]int64, 0)
	for page := 1; page <= s.opts.MaxPages; page++ {
		leads, more, err := s.crm.ListLeads(ctx, page, s.opts.PageSize)
		if err != nil {
			return res, err
		}
		res.Pages++
		res.Leads += len(leads)
		for _, l := range leads {
			cid := l.MainContactID()
			if cid == 0 {
				res.Orphans++
				continue
			}
			if _, seen := byContact[cid]; !seen {
				order = append(order, cid)
			}
			byContact[cid] = append(byContact[cid], amocrm.ToRawDeal(l, dir))
		}
		if !more {
			break
		}
		if page == s.opts.MaxPages {
			res.Truncated = true
			s.logger.Warn("Lead listing truncated at page limit", logging.Int("max_pages", s.opts.MaxPages))
		}
	}

	replace := !res.Truncated
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, cid := range order {
		cid, leads := cid, byContact[cid]
		g.Go(func() error {
			err := s.syncContact(gctx, cid, leads, replace)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Failed++
				s.logger.Warn("Failed to sync contact", logging.Int64("contact_id", cid), logging.Err(err))
				return nil
			}
			res.Clients++
			res.Deals += len(leads)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	s.logger.Info("Full sync finished",
		logging.Int("pages", res.Pages),
		logging.Int("leads", res.Leads),
		logging.Int("clients", res.Clients),
		logging.Int("failed", res.Failed),
		logging.Int("orphans", res.Orphans))
	return res, nil
}

// syncContact stores leads under their contact.  With replace set they become
// the contact's complete deal set.
func (s *serviceImpl) syncContact(ctx context.Context, contactID int64, leads []deal.RawDeal, replace bool) error {
	ct, err := s.crm.GetContact(ctx, contactID)
	if err != nil {
		return err
	}
	phone, err := deal.NormalizePhone(ct.Phone())
	if err != nil {
		return err
	}
	return s.store(ctx, &deal.Client{ID: ct.ID, Name: ct.Name, Phone: phone, Email: ct.Email(), Leads: leads}, replace)
}

func (s *serviceImpl) SyncClient(ctx context.Context, phone string) (c *deal.Client, err error) {
	start := s.clock()
	defer func() {
		if s.opts.Metrics != nil {
			n := 0
			if c != nil {
				n = len(c.Leads)
			}
			prometheus.RecordSync(s.opts.Metrics, ScopeClient, n, s.clock().Sub(start), err)
		}
	}()

	normalized, err := deal.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	c, err = s.crm.FetchClient(ctx, normalized)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeCRMNotFound) {
			return nil, errors.New(errors.ErrCodeClientNotFound, "client not found").WithDetail("phone=" + normalized)
		}
		return nil, err
	}
	c.Phone = normalized
	if err := s.store(ctx, c, true); err != nil {
		return nil, err
	}
	return c, nil
}

// store writes one client snapshot, then invalidates and announces it.  The
// last two steps are best effort: the mirror is already correct.
func (s *serviceImpl) store(ctx context.Context, c *deal.Client, replace bool) error {
	now := s.clock()
	rec := deal.ClientRecord{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email, SyncedAt: now}
	if err := s.deals.UpsertClient(ctx, rec); err != nil {
		return err
	}
	write := s.deals.UpsertDeals
	if replace {
		write = s.deals.ReplaceDeals
	}
	if err := write(ctx, c.ID, c.Leads); err != nil {
		return err
	}

	s.invalidate(ctx, c.ID, c.Phone)
	if s.opts.Publisher != nil {
		if err := s.announce(ctx, c, now); err != nil {
			s.logger.Warn("Failed to publish sync event", logging.Int64("client_id", c.ID), logging.Err(err))
		}
	}
	return nil
}

func (s *serviceImpl) invalidate(ctx context.Context, clientID int64, phone string) {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.Delete(ctx, dashboard.ClientKey(phone)); err != nil {
		s.logger.Warn("Failed to invalidate client cache", logging.Int64("client_id", clientID), logging.Err(err))
	}
}

func (s *serviceImpl) SyncLeads(ctx context.Context, changed, removed []int64) (res *Result, err error) {
	start := s.clock()
	res = &Result{Scope: ScopeLeads}
	defer func() {
		res.Duration = s.clock().Sub(start)
		if s.opts.Metrics != nil {
			prometheus.RecordSync(s.opts.Metrics, ScopeLeads, res.Deals+res.Removed, res.Duration, err)
		}
	}()

	gone := append([]int64(nil), removed...)
	byContact := make(map[int64][]deal.RawDeal)
	order := make([]int64, 0)
	if len(changed) > 0 {
		dir, err := s.crm.Pipelines(ctx)
		if err != nil {
			return res, err
		}
		for _, id := range changed {
			l, err := s.crm.GetLead(ctx, id)
			if errors.IsCode(err, errors.ErrCodeCRMNotFound) {
				gone = append(gone, id)
				continue
			}
			if err != nil {
				return res, err
			}
			res.Leads++
			cid := l.MainContactID()
			if cid == 0 {
				res.Orphans++
				continue
			}
			if _, seen := byContact[cid]; !seen {
				order = append(order, cid)
			}
			byContact[cid] = append(byContact[cid], amocrm.ToRawDeal(*l, dir))
		}
	}

	for _, cid := range order {
		if err := s.syncContact(ctx, cid, byContact[cid], false); err != nil {
			return res, err
		}
		res.Clients++
		res.Deals += len(byContact[cid])
	}

	if len(gone) > 0 {
		if err := s.remove(ctx, gone, res); err != nil {
			return res, err
		}
	}

	s.logger.Info("Lead sync finished",
		logging.Int("leads", res.Leads),
		logging.Int("deals", res.Deals),
		logging.Int("removed", res.Removed),
		logging.Int("orphans", res.Orphans))
	return res, nil
}

// remove deletes mirrored leads and drops the cached bundles of their owners.
func (s *serviceImpl) remove(ctx context.Context, ids []int64, res *Result) error {
	owners := make(map[int64]string)
	for _, id := range ids {
		cd, err := s.deals.FindDeal(ctx, id)
		if errors.IsCode(err, errors.ErrCodeDealNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		owners[cd.ClientID] = cd.Phone
	}
	if len(owners) == 0 {
		return nil
	}
	n, err := s.deals.DeleteDeals(ctx, ids)
	if err != nil {
		return err
	}
	res.Removed += int(n)
	for clientID, phone := range owners {
		s.invalidate(ctx, clientID, phone)
	}
	return nil
}

func (s *serviceImpl) announce(ctx context.Context, c *deal.Client, at time.Time) error {
	ids := make([]int64, len(c.Leads))
	for i, l := range c.Leads {
		ids[i] = l.ID
	}
	p := kafka.DealsSyncedPayload{ClientID: c.ID, Phone: c.Phone, DealIDs: ids, SyncedAt: at}
	env, err := kafka.NewEventEnvelope(kafka.EventDealsSynced, p)
	if err != nil {
		return err
	}
	return s.opts.Publisher.PublishEvent(ctx, kafka.TopicDealSynced, p.Key(), env)
}

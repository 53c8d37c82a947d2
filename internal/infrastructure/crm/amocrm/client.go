// Package amocrm is the read-only boundary to the amoCRM v4 REST API: contact
// lookup by phone, contact leads, paged lead listing and pipeline labels.
package amocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

const (
	// MaxPageSize is the largest page amoCRM serves.
	MaxPageSize = 250
	// pipelinesTTL bounds how long pipeline labels are reused.
	pipelinesTTL = 10 * time.Minute
)

// Observer receives one call per HTTP exchange.
type Observer func(operation, outcome string, elapsed time.Duration)

// Client calls the amoCRM API with a long-lived bearer token.
type Client struct {
	baseURL      string
	token        string
	userAgent    string
	httpClient   *http.Client
	logger       logging.Logger
	observe      Observer
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration

	mu          sync.Mutex
	directory   *StatusDirectory
	directoryAt time.Time
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver installs a per-request hook, e.g. for metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// WithRetryWait sets the backoff bounds.
func WithRetryWait(min, max time.Duration) Option {
	return func(c *Client) {
		if min > 0 && max >= min {
			c.retryWaitMin, c.retryWaitMax = min, max
		}
	}
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg config.CRMConfig, log logging.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "crm base url must be an http(s) URL").WithDetail(cfg.BaseURL)
	}
	if cfg.AccessToken == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "crm access token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "loan-portal"
	}
	retryWait := cfg.RetryBackoff
	if retryWait <= 0 {
		retryWait = 500 * time.Millisecond
	}
	c := &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		token:        cfg.AccessToken,
		userAgent:    ua,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logging.OrNop(log).Named("amocrm"),
		observe:      func(string, string, time.Duration) {},
		retryMax:     cfg.MaxRetries,
		retryWaitMin: retryWait,
		retryWaitMax: 8 * retryWait,
		now:          time.Now,
	}
	if c.retryMax < 0 {
		c.retryMax = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FindContactByPhone returns the first contact matching phone.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	q := url.Values{"query": {phone}}
	var resp halContacts
	found, err := c.get(ctx, "contacts.search", "/api/v4/contacts", q, &resp)
	if err != nil {
		return nil, err
	}
	if !found || len(resp.Embedded.Contacts) == 0 {
		return nil, errors.New(errors.ErrCodeCRMNotFound, "contact not found").WithDetail(phone)
	}
	ct := resp.Embedded.Contacts[0]
	return &ct, nil
}

// GetContact fetches one contact by id.
func (c *Client) GetContact(ctx context.Context, id int64) (*Contact, error) {
	var ct Contact
	found, err := c.get(ctx, "contacts.get", "/api/v4/contacts/"+strconv.FormatInt(id, 10), nil, &ct)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrCodeCRMNotFound, "contact not found").WithDetail(strconv.FormatInt(id, 10))
	}
	return &ct, nil
}

// GetLead fetches one lead by id with its linked contacts.
func (c *Client) GetLead(ctx context.Context, id int64) (*Lead, error) {
	var l Lead
	q := url.Values{"with": {"contacts"}}
	found, err := c.get(ctx, "leads.get", "/api/v4/leads/"+strconv.FormatInt(id, 10), q, &l)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrCodeCRMNotFound, "lead not found").WithDetail(strconv.FormatInt(id, 10))
	}
	return &l, nil
}

// ContactLeads lists up to one page of leads linked to a contact.
func (c *Client) ContactLeads(ctx context.Context, contactID int64) ([]Lead, error) {
	q := url.Values{
		"filter[contacts][0]": {strconv.FormatInt(contactID, 10)},
		"limit":               {strconv.Itoa(MaxPageSize)},
	}
	var resp halLeads
	if _, err := c.get(ctx, "leads.by_contact", "/api/v4/leads", q, &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Leads, nil
}

// ListLeads returns page (1-based) of all leads with their contacts and
// whether another page follows.
func (c *Client) ListLeads(ctx context.Context, page, limit int) ([]Lead, bool, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
		"with":  {"contacts"},
	}
	var resp halLeads
	found, err := c.get(ctx, "leads.list", "/api/v4/leads", q, &resp)
	if err != nil || !found {
		return nil, false, err
	}
	leads := resp.Embedded.Leads
	more := resp.Links.Next != nil && len(leads) > 0
	return leads, more, nil
}

// Pipelines returns the status directory, reusing a recent fetch.
func (c *Client) Pipelines(ctx context.Context) (StatusDirectory, error) {
	c.mu.Lock()
	if c.directory != nil && c.now().Sub(c.directoryAt) < pipelinesTTL {
		d := *c.directory
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var resp halPipelines
	if _, err := c.get(ctx, "pipelines.list", "/api/v4/leads/pipelines", nil, &resp); err != nil {
		return StatusDirectory{}, err
	}
	d := NewStatusDirectory(resp.Embedded.Pipelines)
	c.mu.Lock()
	c.directory, c.directoryAt = &d, c.now()
	c.mu.Unlock()
	return d, nil
}

// FetchClient resolves the contact owning phone with all its leads mapped to
// raw deals.
func (c *Client) FetchClient(ctx context.Context, phone string) (*deal.Client, error) {
	ct, err := c.FindContactByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	leads, err := c.ContactLeads(ctx, ct.ID)
	if err != nil {
		return nil, err
	}
	dir, err := c.Pipelines(ctx)
	if err != nil {
		return nil, err
	}
	out := &deal.Client{ID: ct.ID, Name: ct.Name, Phone: phone, Email: ct.Email(), Leads: make([]deal.RawDeal, 0, len(leads))}
	for _, l := range leads {
		out.Leads = append(out.Leads, ToRawDeal(l, dir))
	}
	return out, nil
}

// get issues a GET and decodes the body into result.  found is false on
// 204 No Content, which amoCRM answers for empty searches.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, result interface{}) (bool, error) {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		found, ra, err := c.once(ctx, op, full, result)
		if err == nil {
			return found, nil
		}
		if !retryable(err) || attempt >= c.retryMax {
			return false, err
		}
		wait := c.backoff(attempt + 1)
		if ra > 0 {
			wait = ra
			c.logger.Info("CRM rate limited", logging.String("op", op), logging.Duration("retry_after", ra))
		}
		if err := sleep(ctx, wait); err != nil {
			return false, err
		}
	}
}

func (c *Client) once(ctx context.Context, op, full string, result interface{}) (bool, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return false, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to build CRM request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(op, "error", elapsed)
		if ctx.Err() != nil {
			return false, 0, ctx.Err()
		}
		return false, 0, errors.Wrap(err, errors.ErrCodeCRMUnavailable, "CRM request failed").WithDetail(op)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		c.observe(op, "error", elapsed)
		return false, 0, errors.Wrap(err, errors.ErrCodeCRMUnavailable, "failed to read CRM response")
	}
	c.observe(op, strconv.Itoa(resp.StatusCode), elapsed)
	c.logger.Debug("CRM request",
		logging.String("op", op),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", elapsed))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, 0, nil
	case resp.StatusCode == http.StatusOK:
		if result != nil && len(body) > 0 {
			if err := json.Unmarshal(body, result); err != nil {
				return false, 0, errors.Wrap(err, errors.ErrCodeCRMBadResponse, "failed to decode CRM response").WithDetail(op)
			}
		}
		return true, 0, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, 0, nil
	}

	detail := fmt.Sprintf("%s: HTTP %d: %s", op, resp.StatusCode, truncate(string(body), 200))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, 0, errors.New(errors.ErrCodeCRMUnauthorized, "CRM rejected the access token").WithDetail(detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, retryAfter(resp.Header.Get("Retry-After")), errors.New(errors.ErrCodeCRMRateLimited, "CRM rate limit exceeded").WithDetail(detail)
	case resp.StatusCode >= 500:
		return false, 0, errors.New(errors.ErrCodeCRMUnavailable, "CRM is unavailable").WithDetail(detail)
	default:
		return false, 0, errors.New(errors.ErrCodeCRMBadResponse, "unexpected CRM response").WithDetail(detail)
	}
}

func retryable(err error) bool {
	return errors.IsCode(err, errors.ErrCodeCRMUnavailable) || errors.IsCode(err, errors.ErrCodeCRMRateLimited)
}

func (c *Client) backoff(attempt int) time.Duration {
	b := c.retryWaitMin * time.Duration(1<<uint(attempt-1))
	if b > c.retryWaitMax {
		b = c.retryWaitMax
	}
	if q := int64(b / 4); q > 0 {
		b += time.Duration(rand.Int63n(q))
	}
	return b
}

func retryAfter(h string) time.Duration {
	if s, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

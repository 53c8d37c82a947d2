// Package dealmock provides an in-memory implementation of the deal
// repositories for service and handler tests.
package dealmock

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// Store implements deal.DealRepository, deal.NotificationStateRepository and
// deal.ChatRepository over maps.  Setting Err makes every call fail with it.
type Store struct {
	mu      sync.Mutex
	clients map[int64]deal.ClientRecord
	deals   map[int64]deal.ClientDeal
	states  map[int64]map[string]deal.NotificationState
	chats   map[int64]int64

	Err   error
	Calls map[string]int
}

var (
	_ deal.DealRepository              = (*Store)(nil)
	_ deal.NotificationStateRepository = (*Store)(nil)
	_ deal.ChatRepository              = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		clients: make(map[int64]deal.ClientRecord),
		deals:   make(map[int64]deal.ClientDeal),
		states:  make(map[int64]map[string]deal.NotificationState),
		chats:   make(map[int64]int64),
		Calls:   make(map[string]int),
	}
}

// Seed stores a client with its leads.
func (s *Store) Seed(c deal.Client) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = deal.ClientRecord{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email}
	for _, d := range c.Leads {
		s.deals[d.ID] = deal.ClientDeal{ClientID: c.ID, Phone: c.Phone, Deal: d}
	}
	return s
}

// Count returns how often method was called.
func (s *Store) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[method]
}

// State returns the stored state of one notification.
func (s *Store) State(clientID int64, id string) (deal.NotificationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[clientID][id]
	return st, ok
}

func (s *Store) enter(method string) error {
	s.mu.Lock()
	s.Calls[method]++
	return s.Err
}

func (s *Store) UpsertClient(ctx context.Context, c deal.ClientRecord) error {
	defer s.mu.Unlock()
	if err := s.enter("UpsertClient"); err != nil {
		return err
	}
	s.clients[c.ID] = c
	return nil
}

func (s *Store) UpsertDeals(ctx context.Context, clientID int64, deals []deal.RawDeal) error {
	defer s.mu.Unlock()
	if err := s.enter("UpsertDeals"); err != nil {
		return err
	}
	phone := s.clients[clientID].Phone
	for _, d := range deals {
		s.deals[d.ID] = deal.ClientDeal{ClientID: clientID, Phone: phone, Deal: d}
	}
	return nil
}

func (s *Store) ReplaceDeals(ctx context.Context, clientID int64, deals []deal.RawDeal) error {
	defer s.mu.Unlock()
	if err := s.enter("ReplaceDeals"); err != nil {
		return err
	}
	keep := make(map[int64]bool, len(deals))
	for _, d := range deals {
		keep[d.ID] = true
	}
	for id, cd := range s.deals {
		if cd.ClientID == clientID && !keep[id] {
			delete(s.deals, id)
		}
	}
	phone := s.clients[clientID].Phone
	for _, d := range deals {
		s.deals[d.ID] = deal.ClientDeal{ClientID: clientID, Phone: phone, Deal: d}
	}
	return nil
}

func (s *Store) DeleteDeals(ctx context.Context, ids []int64) (int64, error) {
	defer s.mu.Unlock()
	if err := s.enter("DeleteDeals"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := s.deals[id]; ok {
			delete(s.deals, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) FindClientByPhone(ctx context.Context, phone string) (*deal.ClientRecord, error) {
	defer s.mu.Unlock()
	if err := s.enter("FindClientByPhone"); err != nil {
		return nil, err
	}
	for _, c := range s.clients {
		if c.Phone == phone {
			c := c
			return &c, nil
		}
	}
	return nil, errors.New(errors.ErrCodeClientNotFound, "client not found").WithDetail("phone=" + phone)
}

func (s *Store) ListByClient(ctx context.Context, clientID int64) ([]deal.RawDeal, error) {
	defer s.mu.Unlock()
	if err := s.enter("ListByClient"); err != nil {
		return nil, err
	}
	out := make([]deal.RawDeal, 0)
	for _, cd := range s.sorted() {
		if cd.ClientID == clientID {
			out = append(out, cd.Deal)
		}
	}
	return out, nil
}

func (s *Store) FindDeal(ctx context.Context, dealID int64) (*deal.ClientDeal, error) {
	defer s.mu.Unlock()
	if err := s.enter("FindDeal"); err != nil {
		return nil, err
	}
	cd, ok := s.deals[dealID]
	if !ok {
		return nil, errors.New(errors.ErrCodeDealNotFound, "deal not found").WithDetail("deal_id=" + strconv.FormatInt(dealID, 10))
	}
	return &cd, nil
}

func (s *Store) ListByStatus(ctx context.Context, statusName string, limit, offset int) ([]deal.ClientDeal, error) {
	defer s.mu.Unlock()
	if err := s.enter("ListByStatus"); err != nil {
		return nil, err
	}
	matched := make([]deal.ClientDeal, 0)
	for _, cd := range s.sorted() {
		if cd.Deal.StatusName == statusName {
			matched = append(matched, cd)
		}
	}
	if offset >= len(matched) {
		return []deal.ClientDeal{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// sorted orders deals by id, as the SQL repository does.
func (s *Store) sorted() []deal.ClientDeal {
	out := make([]deal.ClientDeal, 0, len(s.deals))
	for _, cd := range s.deals {
		out = append(out, cd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deal.ID < out[j].Deal.ID })
	return out
}

func (s *Store) States(ctx context.Context, clientID int64) (map[string]deal.NotificationState, error) {
	defer s.mu.Unlock()
	if err := s.enter("States"); err != nil {
		return nil, err
	}
	out := make(map[string]deal.NotificationState, len(s.states[clientID]))
	for k, v := range s.states[clientID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) update(clientID int64, id string, fn func(*deal.NotificationState)) {
	m, ok := s.states[clientID]
	if !ok {
		m = make(map[string]deal.NotificationState)
		s.states[clientID] = m
	}
	st, ok := m[id]
	if !ok {
		_, dealID, _ := deal.ParseNotificationID(id)
		st = deal.NotificationState{ClientID: clientID, NotificationID: id, DealID: dealID}
	}
	fn(&st)
	m[id] = st
}

func (s *Store) MarkDelivered(ctx context.Context, clientID int64, ids []string, at time.Time) error {
	defer s.mu.Unlock()
	if err := s.enter("MarkDelivered"); err != nil {
		return err
	}
	for _, id := range ids {
		s.update(clientID, id, func(st *deal.NotificationState) {
			if !st.Delivered {
				st.Delivered, st.DeliveredAt = true, &at
			}
		})
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, clientID int64, ids []string, at time.Time) (int64, error) {
	defer s.mu.Unlock()
	if err := s.enter("MarkRead"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		s.update(clientID, id, func(st *deal.NotificationState) {
			if !st.Read {
				st.Read, st.ReadAt = true, &at
				n++
			}
		})
	}
	return n, nil
}

func (s *Store) MarkPublished(ctx context.Context, clientID int64, notificationID string, dealID int64, at time.Time) (bool, error) {
	defer s.mu.Unlock()
	if err := s.enter("MarkPublished"); err != nil {
		return false, err
	}
	if st, ok := s.states[clientID][notificationID]; ok && st.PublishedAt != nil {
		return false, nil
	}
	s.update(clientID, notificationID, func(st *deal.NotificationState) {
		st.DealID, st.PublishedAt = dealID, &at
	})
	return true, nil
}

func (s *Store) LinkChat(ctx context.Context, clientID, chatID int64) error {
	defer s.mu.Unlock()
	if err := s.enter("LinkChat"); err != nil {
		return err
	}
	s.chats[clientID] = chatID
	return nil
}

func (s *Store) ChatFor(ctx context.Context, clientID int64) (int64, error) {
	defer s.mu.Unlock()
	if err := s.enter("ChatFor"); err != nil {
		return 0, err
	}
	id, ok := s.chats[clientID]
	if !ok {
		return 0, errors.New(errors.ErrCodeChatNotLinked, "client has no linked chat")
	}
	return id, nil
}

// internal/client/chat/store.go
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatview/internal/client/models"
)

// Store owns the message list of the selected conversation. Repository
// callbacks may mutate it from other goroutines; the TUI reads snapshots and
// waits on Changes.
//
// Every history fetch and subscription is tagged with the generation that was
// current when it started. Reset and a new fetch bump the generation, so
// results that belong to an older selection are dropped.
type Store struct {
	repo   Repository
	self   models.User
	logger *slog.Logger

	mu          sync.RWMutex
	messages    []models.Message
	seen        map[string]struct{}
	loading     bool
	partner     *models.User
	generation  uint64
	cancelFetch context.CancelFunc
	sub         Subscription
	err         error

	changes chan struct{}
}

func NewStore(repo Repository, self models.User, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:    repo,
		self:    self,
		logger:  logger.With("component", "chat.store"),
		seen:    make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Changes fires after any mutation. Notifications coalesce.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) Self() models.User {
	return s.self
}

func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) Partner() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.partner == nil {
		return nil
	}
	p := *s.partner
	return &p
}

func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) Contacts(ctx context.Context) ([]models.User, error) {
	contacts, err := s.repo.Contacts(ctx)
	if err != nil {
		s.setErr(fmt.Errorf("load contacts: %w", err))
		return nil, err
	}
	return contacts, nil
}

func (s *Store) SelectPartner(partner models.User) {
	s.mu.Lock()
	s.partner = &partner
	s.mu.Unlock()
	s.logger.Debug("partner selected", "partner_id", partner.ID)
	s.notify()
}

// FetchHistory marks the store as loading for partnerID and cancels any
// fetch still in flight. The returned func performs the blocking request and
// must be run off the UI loop.
func (s *Store) FetchHistory(partnerID string) func() error {
	s.mu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.loading = true
	s.mu.Unlock()
	s.notify()

	return func() error {
		defer cancel()
		history, err := s.repo.History(ctx, partnerID)
		s.applyHistory(gen, partnerID, history, err)
		return err
	}
}

func (s *Store) applyHistory(gen uint64, partnerID string, history []models.Message, err error) {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("dropping stale history", "partner_id", partnerID, "generation", gen, "current", s.generation)
		return
	}
	s.loading = false
	s.cancelFetch = nil
	if err != nil {
		s.err = fmt.Errorf("load messages: %w", err)
		s.logger.Error("history fetch failed", "partner_id", partnerID, "error", err)
		return
	}

	// Live messages that arrived while loading go after the history.
	live := s.messages
	s.messages = make([]models.Message, 0, len(history)+len(live))
	s.seen = make(map[string]struct{}, len(history)+len(live))
	for _, msg := range history {
		s.appendLocked(msg)
	}
	for _, msg := range live {
		s.appendLocked(msg)
	}
	s.logger.Debug("history loaded", "partner_id", partnerID, "count", len(s.messages))
}

func (s *Store) appendLocked(msg models.Message) bool {
	if msg.ID != "" {
		if _, dup := s.seen[msg.ID]; dup {
			return false
		}
		s.seen[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
	return true
}

// Subscribe starts live updates for the selected partner, replacing any
// previous subscription.
func (s *Store) Subscribe() error {
	s.mu.Lock()
	if s.partner == nil {
		s.mu.Unlock()
		return ErrNoPartner
	}
	partnerID := s.partner.ID
	gen := s.generation
	old := s.sub
	s.sub = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("unsubscribe failed", "error", err)
		}
	}

	sub, err := s.repo.Subscribe(partnerID, func(msg models.Message) {
		s.deliver(gen, partnerID, msg)
	})
	if err != nil {
		s.setErr(fmt.Errorf("subscribe: %w", err))
		return err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Store) deliver(gen uint64, partnerID string, msg models.Message) {
	if !msg.Between(s.self.ID, partnerID) {
		return
	}
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	added := s.appendLocked(msg)
	s.mu.Unlock()
	if added {
		s.notify()
	}
}

func (s *Store) Unsubscribe() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		s.logger.Warn("unsubscribe failed", "error", err)
	}
}

// Reset clears the message list and invalidates in-flight fetches and
// deliveries.
func (s *Store) Reset() {
	s.mu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.generation++
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.loading = false
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Send(ctx context.Context, draft models.Draft) error {
	partner := s.Partner()
	if partner == nil {
		return ErrNoPartner
	}
	if draft.IsEmpty() {
		return nil
	}

	msg, err := s.repo.Send(ctx, partner.ID, draft)
	if err != nil {
		s.setErr(fmt.Errorf("send message: %w", err))
		return err
	}

	s.mu.Lock()
	added := false
	if s.partner != nil && s.partner.ID == partner.ID {
		added = s.appendLocked(msg)
	}
	s.mu.Unlock()
	if added {
		s.notify()
	}
	return nil
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.Error("store error", "error", err)
	s.notify()
}

// Close tears down the subscription and cancels any pending fetch.
func (s *Store) Close() {
	s.Reset()
	s.Unsubscribe()
}

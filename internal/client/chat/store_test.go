package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatview/internal/client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	history  map[string][]models.Message
	block    map[string]chan struct{}
	fetched  []string
	subs     map[string]func(models.Message)
	closed   []string
	calls    []string
	sendErr  error
	closeErr error
	sentSeq  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		history: make(map[string][]models.Message),
		block:   make(map[string]chan struct{}),
		subs:    make(map[string]func(models.Message)),
	}
}

func (r *fakeRepo) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *fakeRepo) Contacts(ctx context.Context) ([]models.User, error) {
	return []models.User{{ID: "alice"}, {ID: "bob"}}, nil
}

func (r *fakeRepo) History(ctx context.Context, partnerID string) ([]models.Message, error) {
	r.mu.Lock()
	r.fetched = append(r.fetched, partnerID)
	wait := r.block[partnerID]
	msgs := r.history[partnerID]
	r.mu.Unlock()
	r.record("history:" + partnerID)

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return msgs, nil
}

func (r *fakeRepo) Subscribe(partnerID string, deliver func(models.Message)) (Subscription, error) {
	r.mu.Lock()
	r.subs[partnerID] = deliver
	r.mu.Unlock()
	r.record("subscribe:" + partnerID)
	return SubscriptionFunc(func() error {
		r.mu.Lock()
		delete(r.subs, partnerID)
		r.closed = append(r.closed, partnerID)
		err := r.closeErr
		r.mu.Unlock()
		r.record("unsubscribe:" + partnerID)
		return err
	}), nil
}

func (r *fakeRepo) Send(ctx context.Context, partnerID string, draft models.Draft) (models.Message, error) {
	if r.sendErr != nil {
		return models.Message{}, r.sendErr
	}
	r.mu.Lock()
	r.sentSeq++
	id := fmt.Sprintf("sent-%d", r.sentSeq)
	r.mu.Unlock()
	return models.Message{ID: id, SenderID: "me", RecipientID: partnerID, Text: draft.Text, Image: draft.Image, CreatedAt: time.Now()}, nil
}

func (r *fakeRepo) push(partnerID string, msg models.Message) {
	r.mu.Lock()
	deliver := r.subs[partnerID]
	r.mu.Unlock()
	if deliver != nil {
		deliver(msg)
	}
}

func msgFrom(id, from, to string) models.Message {
	return models.Message{ID: id, SenderID: from, RecipientID: to, Text: id, CreatedAt: time.Now()}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestStore_FetchKeepsRepositoryOrder(t *testing.T) {
	repo := newFakeRepo()
	// deliberately not time-ordered
	repo.history["alice"] = []models.Message{
		{ID: "3", SenderID: "alice", RecipientID: "me", CreatedAt: time.Unix(300, 0)},
		{ID: "1", SenderID: "me", RecipientID: "alice", CreatedAt: time.Unix(100, 0)},
		{ID: "2", SenderID: "alice", RecipientID: "me", CreatedAt: time.Unix(200, 0)},
	}
	s := NewStore(repo, models.User{ID: "me"}, nil)
	s.SelectPartner(models.User{ID: "alice"})

	fetch := s.FetchHistory("alice")
	assert.True(t, s.Loading())
	require.NoError(t, fetch())

	assert.False(t, s.Loading())
	assert.Equal(t, []string{"3", "1", "2"}, ids(s.Messages()))
}

func TestStore_PartnerSwitchSequence(t *testing.T) {
	repo := newFakeRepo()
	repo.history["alice"] = []models.Message{msgFrom("a1", "alice", "me")}
	repo.history["bob"] = []models.Message{msgFrom("b1", "bob", "me")}
	s := NewStore(repo, models.User{ID: "me"}, nil)

	s.SelectPartner(models.User{ID: "alice"})
	require.NoError(t, s.FetchHistory("alice")())
	require.NoError(t, s.Subscribe())
	assert.Equal(t, []string{"a1"}, ids(s.Messages()))

	s.Reset()
	s.Unsubscribe()
	assert.Empty(t, s.Messages())

	s.SelectPartner(models.User{ID: "bob"})
	require.NoError(t, s.FetchHistory("bob")())
	require.NoError(t, s.Subscribe())

	assert.Equal(t, []string{"alice", "bob"}, repo.fetched)
	assert.Equal(t, []string{"alice"}, repo.closed)
	assert.Equal(t, []string{
		"history:alice", "subscribe:alice", "unsubscribe:alice",
		"history:bob", "subscribe:bob",
	}, repo.calls)
	assert.Equal(t, []string{"b1"}, ids(s.Messages()))
}

func TestStore_StaleHistoryIsDropped(t *testing.T) {
	repo := newFakeRepo()
	release := make(chan struct{})
	repo.block["alice"] = release
	repo.history["alice"] = []models.Message{msgFrom("a1", "alice", "me")}
	repo.history["bob"] = []models.Message{msgFrom("b1", "bob", "me")}
	s := NewStore(repo, models.User{ID: "me"}, nil)

	s.SelectPartner(models.User{ID: "alice"})
	slow := s.FetchHistory("alice")
	done := make(chan error, 1)
	go func() { done <- slow() }()

	s.Reset()
	s.SelectPartner(models.User{ID: "bob"})
	require.NoError(t, s.FetchHistory("bob")())
	close(release)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled) || err == nil)
	case <-time.After(time.Second):
		t.Fatal("stale fetch never returned")
	}
	assert.Equal(t, []string{"b1"}, ids(s.Messages()))
	assert.False(t, s.Loading())
}

func TestStore_LiveDeliveryFiltersAndDedupes(t *testing.T) {
	repo := newFakeRepo()
	repo.history["alice"] = []models.Message{msgFrom("a1", "alice", "me")}
	s := NewStore(repo, models.User{ID: "me"}, nil)
	s.SelectPartner(models.User{ID: "alice"})
	require.NoError(t, s.FetchHistory("alice")())
	require.NoError(t, s.Subscribe())

	repo.push("alice", msgFrom("a2", "alice", "me"))
	repo.push("alice", msgFrom("a2", "alice", "me"))
	repo.push("alice", msgFrom("x1", "carol", "me"))

	assert.Equal(t, []string{"a1", "a2"}, ids(s.Messages()))
}

func TestStore_DeliveryAfterResetIsIgnored(t *testing.T) {
	repo := newFakeRepo()
	s := NewStore(repo, models.User{ID: "me"}, nil)
	s.SelectPartner(models.User{ID: "alice"})
	require.NoError(t, s.FetchHistory("alice")())
	require.NoError(t, s.Subscribe())

	repo.mu.Lock()
	deliver := repo.subs["alice"]
	repo.mu.Unlock()
	require.NotNil(t, deliver)

	s.Reset()
	s.Unsubscribe()
	deliver(msgFrom("late", "alice", "me"))

	assert.Empty(t, s.Messages())
}

func TestStore_LiveMessagesDuringLoadFollowHistory(t *testing.T) {
	repo := newFakeRepo()
	release := make(chan struct{})
	repo.block["alice"] = release
	repo.history["alice"] = []models.Message{msgFrom("h1", "alice", "me"), msgFrom("live", "alice", "me")}
	s := NewStore(repo, models.User{ID: "me"}, nil)
	s.SelectPartner(models.User{ID: "alice"})

	fetch := s.FetchHistory("alice")
	require.NoError(t, s.Subscribe())
	done := make(chan error, 1)
	go func() { done <- fetch() }()

	repo.push("alice", msgFrom("live", "alice", "me"))
	repo.push("alice", msgFrom("live2", "alice", "me"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"h1", "live", "live2"}, ids(s.Messages()))
}

func TestStore_SendAppends(t *testing.T) {
	repo := newFakeRepo()
	s := NewStore(repo, models.User{ID: "me"}, nil)

	assert.ErrorIs(t, s.Send(context.Background(), models.Draft{Text: "hi"}), ErrNoPartner)

	s.SelectPartner(models.User{ID: "alice"})
	require.NoError(t, s.Send(context.Background(), models.Draft{Text: "hi"}))
	require.NoError(t, s.Send(context.Background(), models.Draft{Text: "  "}))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].RecipientID)
}

func TestStore_SendErrorIsRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.sendErr = ErrClosed
	s := NewStore(repo, models.User{ID: "me"}, nil)
	s.SelectPartner(models.User{ID: "alice"})

	err := s.Send(context.Background(), models.Draft{Text: "hi"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Err(), ErrClosed)
	assert.Empty(t, s.Messages())
}

func TestStore_SubscribeWithoutPartner(t *testing.T) {
	s := NewStore(newFakeRepo(), models.User{ID: "me"}, nil)
	assert.ErrorIs(t, s.Subscribe(), ErrNoPartner)
}

func TestStore_ChangesCoalesce(t *testing.T) {
	s := NewStore(newFakeRepo(), models.User{ID: "me"}, nil)
	s.SelectPartner(models.User{ID: "alice"})
	s.SelectPartner(models.User{ID: "bob"})

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-s.Changes():
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestStore_ResubscribeLogsCloseError(t *testing.T) {
	repo := newFakeRepo()
	repo.closeErr = errors.New("broken pipe")
	var logs bytes.Buffer
	s := NewStore(repo, models.User{ID: "me"}, slog.New(slog.NewTextHandler(&logs, nil)))

	s.SelectPartner(models.User{ID: "alice"})
	require.NoError(t, s.Subscribe())
	require.NoError(t, s.Subscribe())

	assert.Equal(t, []string{"alice"}, repo.closed)
	assert.Contains(t, logs.String(), "unsubscribe failed")
	assert.Contains(t, logs.String(), "broken pipe")
}

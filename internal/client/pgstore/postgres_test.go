package pgstore

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"chatview/internal/client/chat"
	"chatview/internal/client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(userID string) *DB {
	return &DB{
		logger: slog.Default(),
		user:   models.User{ID: userID},
		subs:   make(map[string]map[uint64]func(models.Message)),
	}
}

func TestNotificationPayload(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	msg := models.Message{ID: "42", SenderID: "1", RecipientID: "2", Text: "hi", CreatedAt: created}

	payload, err := encodeNotification(msg)
	require.NoError(t, err)
	assert.Contains(t, payload, `"id":"42"`)

	got, err := decodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestNotificationRejectsNonNumericID(t *testing.T) {
	_, err := encodeNotification(models.Message{ID: "abc"})
	assert.Error(t, err)

	_, err = decodeNotification("{not json")
	assert.Error(t, err)
}

func TestDispatchRoutesByPartner(t *testing.T) {
	db := newTestDB("1")

	var got []string
	sub, err := db.Subscribe("2", func(m models.Message) { got = append(got, m.ID) })
	require.NoError(t, err)

	db.dispatch(models.Message{ID: "a", SenderID: "2", RecipientID: "1"})
	db.dispatch(models.Message{ID: "b", SenderID: "1", RecipientID: "2"})
	db.dispatch(models.Message{ID: "c", SenderID: "3", RecipientID: "1"})
	db.dispatch(models.Message{ID: "d", SenderID: "2", RecipientID: "3"})

	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, sub.Close())
	db.dispatch(models.Message{ID: "e", SenderID: "2", RecipientID: "1"})
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Empty(t, db.subs)
}

func TestRequiresAuthentication(t *testing.T) {
	db := newTestDB("")

	_, err := db.History(context.Background(), "2")
	assert.ErrorIs(t, err, chat.ErrNotAuthenticated)
	_, err = db.Subscribe("2", func(models.Message) {})
	assert.ErrorIs(t, err, chat.ErrNotAuthenticated)
}

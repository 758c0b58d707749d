package tui

import (
	"strings"
	"testing"
	"time"

	"chatview/internal/client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBubble_TextOnly(t *testing.T) {
	created := time.Now()
	msg := models.Message{ID: "1", SenderID: "alice", Text: "hi", CreatedAt: created}

	b := NewBubbleRenderer().Render(msg, me, &alice, 60)

	assert.Equal(t, -1, b.ImageLine)
	assert.Contains(t, b.Text, formatMessageTime(created.Local(), time.Now()))
	assert.Contains(t, b.Text, "hi")
	assert.NotContains(t, b.Text, "[image]")
	assert.Equal(t, 2, b.Lines)
}

func TestBubble_WithImage(t *testing.T) {
	msg := models.Message{ID: "1", SenderID: "alice", Text: "look", Image: "cat.png", CreatedAt: time.Now()}

	b := NewBubbleRenderer().Render(msg, me, &alice, 60)
	lines := strings.Split(b.Text, "\n")

	require.Equal(t, 1, b.ImageLine)
	assert.Contains(t, lines[b.ImageLine], "cat.png")
	assert.Contains(t, lines[len(lines)-1], "look")
}

func TestBubble_Alignment(t *testing.T) {
	r := NewBubbleRenderer()
	own := r.Render(models.Message{ID: "1", SenderID: "me", Text: "mine", CreatedAt: time.Now()}, me, &alice, 60)
	peer := r.Render(models.Message{ID: "2", SenderID: "alice", Text: "theirs", CreatedAt: time.Now()}, me, &alice, 60)

	ownFirst := strings.Split(own.Text, "\n")[0]
	peerFirst := strings.Split(peer.Text, "\n")[0]

	assert.True(t, strings.HasPrefix(ownFirst, " "), "own messages are right aligned")
	assert.Equal(t, "mine", strings.TrimSpace(strings.Split(own.Text, "\n")[1]))
	assert.False(t, strings.HasPrefix(peerFirst, " "), "partner messages are left aligned")
}

func TestBubble_AvatarFallback(t *testing.T) {
	r := NewBubbleRenderer()
	withPic := models.User{ID: "alice", ProfilePic: "/pics/alice.png"}

	b := r.Render(models.Message{ID: "1", SenderID: "alice", Text: "x", CreatedAt: time.Now()}, me, &withPic, 60)
	assert.Contains(t, b.Text, "/pics/alice.png")

	b = r.Render(models.Message{ID: "2", SenderID: "me", Text: "y", CreatedAt: time.Now()}, me, &withPic, 60)
	assert.Contains(t, b.Text, models.DefaultAvatar)
}

func TestBubble_Memoized(t *testing.T) {
	r := NewBubbleRenderer()
	msg := models.Message{ID: "1", SenderID: "alice", Text: "hi", CreatedAt: time.Now()}

	first := r.Render(msg, me, &alice, 60)
	second := r.Render(msg, me, &alice, 60)
	assert.Equal(t, first, second)
	assert.Len(t, r.cache, 1)

	r.Render(msg, me, &alice, 40)
	assert.Len(t, r.cache, 2)

	changed := alice
	changed.ProfilePic = "/new.png"
	r.Render(msg, me, &changed, 60)
	assert.Len(t, r.cache, 3)
}

func TestFormatMessageTime(t *testing.T) {
	now := time.Date(2024, 6, 15, 18, 0, 0, 0, time.Local)

	assert.Equal(t, "09:05", formatMessageTime(time.Date(2024, 6, 15, 9, 5, 0, 0, time.Local), now))
	assert.Equal(t, "14/06 23:59", formatMessageTime(time.Date(2024, 6, 14, 23, 59, 0, 0, time.Local), now))
	assert.Equal(t, "01/12/23 10:00", formatMessageTime(time.Date(2023, 12, 1, 10, 0, 0, 0, time.Local), now))
}

func TestBubble_TimeLabelRollsOverAtMidnight(t *testing.T) {
	created := time.Date(2024, 6, 15, 9, 5, 0, 0, time.Local)
	now := time.Date(2024, 6, 15, 23, 0, 0, 0, time.Local)
	r := NewBubbleRenderer()
	r.now = func() time.Time { return now }
	msg := models.Message{ID: "1", SenderID: "alice", Text: "hi", CreatedAt: created}

	assert.Contains(t, r.Render(msg, me, &alice, 60).Text, "09:05")
	assert.NotContains(t, r.Render(msg, me, &alice, 60).Text, "15/06")

	now = now.Add(2 * time.Hour)
	assert.Contains(t, r.Render(msg, me, &alice, 60).Text, "15/06 09:05")
}

// internal/client/tui/bubble.go
package tui

import (
	"fmt"
	"strings"
	"time"

	"chatview/internal/client/models"

	"github.com/charmbracelet/lipgloss"
)

const maxCachedBubbles = 2048

// Bubble is one rendered message. ImageLine is the line index inside Text
// that holds the clickable image reference, or -1.
type Bubble struct {
	Text      string
	Lines     int
	ImageLine int
}

type bubbleKey struct {
	id, sender, text, image string
	created                 int64
	selfID, selfPic         string
	partnerID, partnerPic   string
	width                   int
	// time labels depend on the current day
	day string
}

// BubbleRenderer memoizes bubbles on everything that affects their output.
// Messages are immutable, so a cache hit is valid for the rest of the day.
type BubbleRenderer struct {
	cache map[bubbleKey]Bubble
	now   func() time.Time
}

func NewBubbleRenderer() *BubbleRenderer {
	return &BubbleRenderer{
		cache: make(map[bubbleKey]Bubble),
		now:   time.Now,
	}
}

func (r *BubbleRenderer) Render(msg models.Message, self models.User, partner *models.User, width int) Bubble {
	now := r.now()
	key := bubbleKey{
		id:      msg.ID,
		sender:  msg.SenderID,
		text:    msg.Text,
		image:   msg.Image,
		created: msg.CreatedAt.UnixNano(),
		selfID:  self.ID,
		selfPic: self.ProfilePic,
		width:   width,
		day:     now.Format("2006-01-02"),
	}
	if partner != nil {
		key.partnerID = partner.ID
		key.partnerPic = partner.ProfilePic
	}
	if b, ok := r.cache[key]; ok {
		return b
	}

	if len(r.cache) >= maxCachedBubbles {
		r.cache = make(map[bubbleKey]Bubble)
	}
	b := renderBubble(msg, self, partner, width, now)
	r.cache[key] = b
	return b
}

func renderBubble(msg models.Message, self models.User, partner *models.User, width int, now time.Time) Bubble {
	own := msg.SenderID == self.ID

	avatar := partner.Avatar()
	if own {
		avatar = self.Avatar()
	}
	avatarStr := avatarStyle.Render(fmt.Sprintf("(%s)", avatar))
	timeStr := timestampStyle.Render(formatMessageTime(msg.CreatedAt.Local(), now))

	var header string
	if own {
		header = timeStr + " " + avatarStr
	} else {
		header = avatarStr + " " + timeStr
	}

	style := peerBubbleStyle
	pos := lipgloss.Left
	if own {
		style = ownBubbleStyle
		pos = lipgloss.Right
	}

	bodyWidth := width * 2 / 3
	if bodyWidth < 10 {
		bodyWidth = width
	}

	lines := []string{header}
	imageLine := -1
	if msg.HasImage() {
		imageLine = len(lines)
		lines = append(lines, style.Render(imageLinkStyle.Render("[image] "+truncate(msg.Image, bodyWidth-10))))
	}
	if msg.HasText() {
		wrapped := lipgloss.NewStyle().Width(bodyWidth - 2).Render(msg.Text)
		for _, l := range strings.Split(wrapped, "\n") {
			lines = append(lines, style.Render(strings.TrimRight(l, " ")))
		}
	}

	block := make([]string, 0, len(lines))
	for _, l := range lines {
		block = append(block, lipgloss.PlaceHorizontal(width, pos, l))
	}

	return Bubble{
		Text:      strings.Join(block, "\n"),
		Lines:     len(block),
		ImageLine: imageLine,
	}
}

func formatMessageTime(t, now time.Time) string {
	if t.Year() == now.Year() && t.Month() == now.Month() && t.Day() == now.Day() {
		return t.Format("15:04")
	} else if t.Year() == now.Year() {
		return t.Format("02/01 15:04")
	}
	return t.Format("02/01/06 15:04")
}

func truncate(s string, max int) string {
	if max <= 1 || lipgloss.Width(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) > max-1 {
		r = r[:max-1]
	}
	return string(r) + "…"
}

// internal/client/models/models.go
package models

import (
	"strings"
	"time"
)

// DefaultAvatar is shown for users without a profile picture.
const DefaultAvatar = "/avatar.png"

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

// Draft is what the input composes before the store turns it into a Message.
type Draft struct {
	Text  string
	Image string
}

type (
	ContactsLoaded struct {
		Contacts []User
	}

	PartnerSelected struct {
		Partner User
	}
)

func (m *Message) HasImage() bool {
	return m.Image != ""
}

func (m *Message) HasText() bool {
	return m.Text != ""
}

// Between reports whether the message belongs to the conversation of a and b.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) ||
		(m.SenderID == b && m.RecipientID == a)
}

func (u *User) Avatar() string {
	if u == nil || u.ProfilePic == "" {
		return DefaultAvatar
	}
	return u.ProfilePic
}

func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

func (d Draft) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == "" && strings.TrimSpace(d.Image) == ""
}

// ParseDraft reads the input line. A leading "/img <ref>" attaches an image,
// the rest of the line is the text.
func ParseDraft(line string) Draft {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/img ") {
		return Draft{Text: line}
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "/img "))
	ref, text, _ := strings.Cut(rest, " ")
	return Draft{Image: ref, Text: strings.TrimSpace(text)}
}

type ErrorMsg struct {
	Error string `json:"error"`
}

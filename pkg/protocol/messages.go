// pkg/protocol/messages.go
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	TypeAuth             MessageType = "auth"
	TypeAuthResponse     MessageType = "auth_response"
	TypeContacts         MessageType = "contacts"
	TypeContactsResponse MessageType = "contacts_response"
	TypeLoadMessages     MessageType = "load_messages"
	TypeMessageHistory   MessageType = "message_history"
	TypeDirectMessage    MessageType = "direct_message"
	TypeMessageSent      MessageType = "message_sent"
	TypeSubscribe        MessageType = "subscribe"
	TypeUnsubscribe      MessageType = "unsubscribe"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeError            MessageType = "error"
)

// error codes
const (
	ErrCodeInvalidAuth    = 1000
	ErrCodeNotAuth        = 1001
	ErrCodeInvalidMessage = 1002
	ErrCodeUserNotFound   = 1003
	ErrCodeAccessDenied   = 1005
	ErrCodeInvalidRequest = 1008
	ErrCodeInternalError  = 1009
)

type Message struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// error payload
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type AuthPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponsePayload struct {
	Success    bool   `json:"success"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic,omitempty"`
	Error      string `json:"error,omitempty"`
}

type UserInfo struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

type ContactsPayload struct {
	Contacts []UserInfo `json:"contacts"`
}

type LoadMessagesPayload struct {
	PartnerID string `json:"partner_id"`
}

type DirectMessagePayload struct {
	ID          string `json:"id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text,omitempty"`
	Image       string `json:"image,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

type MessageHistoryPayload struct {
	PartnerID string                 `json:"partner_id"`
	Messages  []DirectMessagePayload `json:"messages"`
}

type SubscribePayload struct {
	PartnerID string `json:"partner_id"`
}

type Error struct {
	Code    int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func NewError(code int, message string) Error {
	return Error{
		Code:    code,
		Message: message,
	}
}

func NewErrorMessage(code int, message string) Message {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

func NewMessage(msgType MessageType, payload interface{}) Message {
	return Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
}

// NewRequest builds a message the peer answers with the same request id.
func NewRequest(msgType MessageType, requestID string, payload interface{}) Message {
	msg := NewMessage(msgType, payload)
	msg.RequestID = requestID
	return msg
}

func NewSubscribe(partnerID string) Message {
	return NewMessage(TypeSubscribe, SubscribePayload{PartnerID: partnerID})
}

func NewUnsubscribe(partnerID string) Message {
	return NewMessage(TypeUnsubscribe, SubscribePayload{PartnerID: partnerID})
}

// create ping
func NewPingMessage() Message {
	return Message{
		Type:      TypePing,
		Timestamp: time.Now().Unix(),
	}
}

// DecodePayload re-encodes the generic payload into target. Payloads come off
// the wire as map[string]interface{}.
func DecodePayload(payload interface{}, target interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// AsError converts an error frame into an Error value.
func AsError(msg Message) error {
	var payload ErrorPayload
	if err := DecodePayload(msg.Payload, &payload); err != nil {
		return NewError(ErrCodeInternalError, "malformed error payload")
	}
	return NewError(payload.Code, payload.Message)
}

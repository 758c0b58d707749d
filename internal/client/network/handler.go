// internal/client/network/handler.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"chatview/internal/client/chat"
	"chatview/internal/client/models"
	"chatview/pkg/protocol"

	"github.com/google/uuid"
)

const (
	sendTimeout   = 5 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// ConnectionHandler speaks the JSON line protocol to a chat server and
// implements chat.Repository and chat.Authenticator on top of it.
type ConnectionHandler struct {
	conn      net.Conn
	sendChan  chan protocol.Message
	logger    *slog.Logger
	onError   func(error)
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.RWMutex
	authComplete bool
	user         models.User
	pending      map[string]chan protocol.Message
	subs         map[string]map[uint64]func(models.Message)
	nextSubID    uint64
}

var (
	_ chat.Repository    = (*ConnectionHandler)(nil)
	_ chat.Authenticator = (*ConnectionHandler)(nil)
)

func NewConnectionHandler(conn net.Conn, logger *slog.Logger) *ConnectionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionHandler{
		conn:     conn,
		sendChan: make(chan protocol.Message, 100),
		logger:   logger.With("component", "network"),
		done:     make(chan struct{}),
		pending:  make(map[string]chan protocol.Message),
		subs:     make(map[string]map[uint64]func(models.Message)),
	}
}

func (h *ConnectionHandler) Start() {
	h.logger.Info("starting connection handler", "remote", h.conn.RemoteAddr())
	go h.readLoop()
	go h.writeLoop()
}

func (h *ConnectionHandler) SetErrorHandler(handler func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = handler
}

func (h *ConnectionHandler) reportError(err error) {
	h.mu.RLock()
	onError := h.onError
	h.mu.RUnlock()
	if onError != nil {
		onError(err)
	}
}

func (h *ConnectionHandler) readLoop() {
	defer h.handleDisconnect()

	decoder := json.NewDecoder(h.conn)
	for {
		var msg protocol.Message
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Error("read error", "error", err)
				h.reportError(fmt.Errorf("read error: %w", err))
			}
			return
		}

		h.logger.Debug("received message", "type", msg.Type, "request_id", msg.RequestID)
		h.handleMessage(msg)
	}
}

func (h *ConnectionHandler) writeLoop() {
	encoder := json.NewEncoder(h.conn)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case msg := <-h.sendChan:
			h.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := encoder.Encode(msg); err != nil {
				h.logger.Error("write error", "error", err)
				h.reportError(fmt.Errorf("write error: %w", err))
				h.handleDisconnect()
				return
			}
		case <-ticker.C:
			if h.IsAuthenticated() {
				h.sendMessage(protocol.NewPingMessage())
			}
		}
	}
}

func (h *ConnectionHandler) handleMessage(msg protocol.Message) {
	if msg.RequestID != "" {
		h.mu.Lock()
		reply, ok := h.pending[msg.RequestID]
		delete(h.pending, msg.RequestID)
		h.mu.Unlock()
		if ok {
			reply <- msg
			return
		}
	}

	switch msg.Type {
	case protocol.TypeDirectMessage:
		var payload protocol.DirectMessagePayload
		if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
			h.logger.Warn("dropping malformed direct message", "error", err)
			return
		}
		h.dispatch(toModel(payload))

	case protocol.TypePing:
		h.sendMessage(protocol.NewMessage(protocol.TypePong, nil))

	case protocol.TypePong:
		// Ignore pong messages

	case protocol.TypeError:
		err := protocol.AsError(msg)
		h.logger.Warn("server error", "error", err)
		h.reportError(err)

	default:
		h.logger.Warn("received unknown message type", "type", msg.Type)
	}
}

func (h *ConnectionHandler) dispatch(msg models.Message) {
	h.mu.RLock()
	partnerID := msg.SenderID
	if partnerID == h.user.ID {
		partnerID = msg.RecipientID
	}
	handlers := make([]func(models.Message), 0, len(h.subs[partnerID]))
	for _, deliver := range h.subs[partnerID] {
		handlers = append(handlers, deliver)
	}
	h.mu.RUnlock()

	for _, deliver := range handlers {
		deliver(msg)
	}
}

func (h *ConnectionHandler) handleDisconnect() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.conn.Close()
		h.logger.Info("connection closed")
	})
}

func (h *ConnectionHandler) Close() error {
	h.handleDisconnect()
	return nil
}

func (h *ConnectionHandler) IsAuthenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.authComplete
}

func (h *ConnectionHandler) sendMessage(msg protocol.Message) error {
	select {
	case h.sendChan <- msg:
		return nil
	case <-h.done:
		return chat.ErrClosed
	case <-time.After(sendTimeout):
		return fmt.Errorf("send timeout")
	}
}

// request sends msg and waits for the frame carrying the same request id.
func (h *ConnectionHandler) request(ctx context.Context, msgType protocol.MessageType, payload interface{}) (protocol.Message, error) {
	requestID := uuid.NewString()
	reply := make(chan protocol.Message, 1)

	h.mu.Lock()
	h.pending[requestID] = reply
	h.mu.Unlock()

	forget := func() {
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
	}

	if err := h.sendMessage(protocol.NewRequest(msgType, requestID, payload)); err != nil {
		forget()
		return protocol.Message{}, err
	}

	select {
	case msg := <-reply:
		if msg.Type == protocol.TypeError {
			return protocol.Message{}, protocol.AsError(msg)
		}
		return msg, nil
	case <-ctx.Done():
		forget()
		return protocol.Message{}, ctx.Err()
	case <-h.done:
		forget()
		return protocol.Message{}, chat.ErrClosed
	}
}

func (h *ConnectionHandler) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	h.logger.Info("sending auth request", "username", username)

	h.mu.Lock()
	h.authComplete = false // Reset auth state
	h.mu.Unlock()

	msg, err := h.request(ctx, protocol.TypeAuth, protocol.AuthPayload{
		Username: username,
		Password: password,
	})
	if err != nil {
		return models.User{}, fmt.Errorf("authentication error: %w", err)
	}

	var authResp protocol.AuthResponsePayload
	if err := protocol.DecodePayload(msg.Payload, &authResp); err != nil {
		return models.User{}, fmt.Errorf("authentication error: %w", err)
	}
	if !authResp.Success {
		return models.User{}, fmt.Errorf("authentication failed: %s", authResp.Error)
	}

	user := models.User{
		ID:         authResp.UserID,
		Username:   authResp.Username,
		ProfilePic: authResp.ProfilePic,
	}

	h.mu.Lock()
	h.authComplete = true
	h.user = user
	h.mu.Unlock()

	h.logger.Info("authentication successful", "user_id", user.ID)
	return user, nil
}

func (h *ConnectionHandler) Contacts(ctx context.Context) ([]models.User, error) {
	if !h.IsAuthenticated() {
		return nil, chat.ErrNotAuthenticated
	}

	msg, err := h.request(ctx, protocol.TypeContacts, nil)
	if err != nil {
		return nil, err
	}

	var payload protocol.ContactsPayload
	if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
		return nil, err
	}

	contacts := make([]models.User, 0, len(payload.Contacts))
	for _, c := range payload.Contacts {
		contacts = append(contacts, models.User{ID: c.ID, Username: c.Username, ProfilePic: c.ProfilePic})
	}
	return contacts, nil
}

func (h *ConnectionHandler) History(ctx context.Context, partnerID string) ([]models.Message, error) {
	if !h.IsAuthenticated() {
		return nil, chat.ErrNotAuthenticated
	}

	msg, err := h.request(ctx, protocol.TypeLoadMessages, protocol.LoadMessagesPayload{PartnerID: partnerID})
	if err != nil {
		return nil, err
	}

	var payload protocol.MessageHistoryPayload
	if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(payload.Messages))
	for _, p := range payload.Messages {
		messages = append(messages, toModel(p))
	}
	return messages, nil
}

func (h *ConnectionHandler) Subscribe(partnerID string, deliver func(models.Message)) (chat.Subscription, error) {
	if !h.IsAuthenticated() {
		return nil, chat.ErrNotAuthenticated
	}

	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	first := len(h.subs[partnerID]) == 0
	if first {
		h.subs[partnerID] = make(map[uint64]func(models.Message))
	}
	h.subs[partnerID][id] = deliver
	h.mu.Unlock()

	if first {
		if err := h.sendMessage(protocol.NewSubscribe(partnerID)); err != nil {
			h.removeSub(partnerID, id)
			return nil, err
		}
	}

	var once sync.Once
	return chat.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			if h.removeSub(partnerID, id) {
				err = h.sendMessage(protocol.NewUnsubscribe(partnerID))
			}
		})
		return err
	}), nil
}

// removeSub reports whether it removed the last handler for partnerID.
func (h *ConnectionHandler) removeSub(partnerID string, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[partnerID], id)
	if len(h.subs[partnerID]) == 0 {
		delete(h.subs, partnerID)
		return true
	}
	return false
}

func (h *ConnectionHandler) Send(ctx context.Context, partnerID string, draft models.Draft) (models.Message, error) {
	if !h.IsAuthenticated() {
		h.logger.Warn("attempting to send message without authentication")
		return models.Message{}, chat.ErrNotAuthenticated
	}

	msg, err := h.request(ctx, protocol.TypeDirectMessage, protocol.DirectMessagePayload{
		RecipientID: partnerID,
		Text:        draft.Text,
		Image:       draft.Image,
	})
	if err != nil {
		return models.Message{}, err
	}

	var sent protocol.DirectMessagePayload
	if err := protocol.DecodePayload(msg.Payload, &sent); err != nil {
		return models.Message{}, err
	}
	return toModel(sent), nil
}

func toModel(p protocol.DirectMessagePayload) models.Message {
	return models.Message{
		ID:          p.ID,
		SenderID:    p.SenderID,
		RecipientID: p.RecipientID,
		Text:        p.Text,
		Image:       p.Image,
		CreatedAt:   time.Unix(p.CreatedAt, 0),
	}
}

// internal/client/natsstore/nats.go
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatview/internal/client/chat"
	"chatview/internal/client/models"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects served by the chat service.
const (
	SubjectAuth     = "chat.auth"
	SubjectContacts = "chat.contacts"
	SubjectHistory  = "chat.history"
	SubjectSend     = "chat.send"
	inboxPrefix     = "chat.dm."
)

// InboxSubject is where the service fans out messages addressed to userID.
func InboxSubject(userID string) string {
	return inboxPrefix + userID
}

type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.RWMutex
	user models.User
}

var (
	_ chat.Repository    = (*Client)(nil)
	_ chat.Authenticator = (*Client)(nil)
)

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "natsstore")

	opts := []nats.Option{
		nats.Name("chatview"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type historyRequest struct {
	UserID    string `json:"user_id"`
	PartnerID string `json:"partner_id"`
}

type contactsRequest struct {
	UserID string `json:"user_id"`
}

// reply is the envelope every service response uses.
type reply struct {
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (c *Client) request(ctx context.Context, subject string, req, out interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", subject, err)
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return chat.ErrClosed
		}
		return fmt.Errorf("request %s: %w", subject, err)
	}
	return decodeReply(msg.Data, out)
}

func decodeReply(data []byte, out interface{}) error {
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

func (c *Client) self() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user.ID == "" {
		return "", chat.ErrNotAuthenticated
	}
	return c.user.ID, nil
}

func (c *Client) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	var user models.User
	if err := c.request(ctx, SubjectAuth, authRequest{Username: username, Password: password}, &user); err != nil {
		return models.User{}, fmt.Errorf("authentication failed: %w", err)
	}
	if user.ID == "" {
		return models.User{}, fmt.Errorf("authentication failed: empty user id")
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	return user, nil
}

func (c *Client) Contacts(ctx context.Context) ([]models.User, error) {
	userID, err := c.self()
	if err != nil {
		return nil, err
	}
	var contacts []models.User
	if err := c.request(ctx, SubjectContacts, contactsRequest{UserID: userID}, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *Client) History(ctx context.Context, partnerID string) ([]models.Message, error) {
	userID, err := c.self()
	if err != nil {
		return nil, err
	}
	var messages []models.Message
	if err := c.request(ctx, SubjectHistory, historyRequest{UserID: userID, PartnerID: partnerID}, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Send assigns the message id client side so the service can dedupe retries.
func (c *Client) Send(ctx context.Context, partnerID string, draft models.Draft) (models.Message, error) {
	userID, err := c.self()
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:          uuid.NewString(),
		SenderID:    userID,
		RecipientID: partnerID,
		Text:        draft.Text,
		Image:       draft.Image,
		CreatedAt:   time.Now().UTC(),
	}

	var stored models.Message
	if err := c.request(ctx, SubjectSend, msg, &stored); err != nil {
		return models.Message{}, err
	}
	if stored.ID == "" {
		stored = msg
	}
	return stored, nil
}

func (c *Client) Subscribe(partnerID string, deliver func(models.Message)) (chat.Subscription, error) {
	userID, err := c.self()
	if err != nil {
		return nil, err
	}

	sub, err := c.conn.Subscribe(InboxSubject(userID), func(m *nats.Msg) {
		var msg models.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.logger.Warn("dropping malformed message", "subject", m.Subject, "error", err)
			return
		}
		if msg.Between(userID, partnerID) {
			deliver(msg)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", InboxSubject(userID), err)
	}
	return chat.SubscriptionFunc(sub.Unsubscribe), nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

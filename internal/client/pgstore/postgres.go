// internal/client/pgstore/postgres.go
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"chatview/internal/client/chat"
	"chatview/internal/client/models"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// NotifyChannel is the LISTEN/NOTIFY channel new direct messages are
// announced on.
const NotifyChannel = "direct_messages"

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    profile_pic   TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    id           BIGSERIAL PRIMARY KEY,
    sender_id    BIGINT NOT NULL REFERENCES users(id),
    recipient_id BIGINT NOT NULL REFERENCES users(id),
    text         TEXT,
    image        TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, recipient_id, id);
`

// DB is a chat.Repository backed directly by PostgreSQL. Live updates come
// from a pq.Listener on NotifyChannel.
type DB struct {
	*sql.DB
	connStr  string
	logger   *slog.Logger
	listener *pq.Listener

	mu        sync.RWMutex
	user      models.User
	subs      map[string]map[uint64]func(models.Message)
	nextSubID uint64
}

var (
	_ chat.Repository    = (*DB)(nil)
	_ chat.Authenticator = (*DB)(nil)
)

func NewDB(ctx context.Context, connStr string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		DB:      db,
		connStr: connStr,
		logger:  logger.With("component", "pgstore"),
		subs:    make(map[string]map[uint64]func(models.Message)),
	}, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Authenticate verifies the password, creating the account on first login.
func (db *DB) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	var user models.User
	var hashedPassword string
	var pic sql.NullString

	err := db.QueryRowContext(ctx, `
        SELECT id, username, password_hash, profile_pic
        FROM users
        WHERE username = $1
    `, username).Scan(&user.ID, &user.Username, &hashedPassword, &pic)

	if errors.Is(err, sql.ErrNoRows) {
		hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return models.User{}, fmt.Errorf("error hashing password: %w", err)
		}

		err = db.QueryRowContext(ctx, `
            INSERT INTO users (username, password_hash)
            VALUES ($1, $2)
            RETURNING id, username
        `, username, string(hashedBytes)).Scan(&user.ID, &user.Username)

		if err != nil {
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return models.User{}, fmt.Errorf("username already taken")
			}
			return models.User{}, fmt.Errorf("error creating user: %w", err)
		}
		db.logger.Info("created user", "user_id", user.ID)
	} else if err != nil {
		return models.User{}, fmt.Errorf("database error: %w", err)
	} else {
		if err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
			return models.User{}, fmt.Errorf("invalid password")
		}
		user.ProfilePic = pic.String
	}

	db.mu.Lock()
	db.user = user
	db.mu.Unlock()
	return user, nil
}

func (db *DB) self() (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.user.ID == "" {
		return "", chat.ErrNotAuthenticated
	}
	return db.user.ID, nil
}

func (db *DB) Contacts(ctx context.Context) ([]models.User, error) {
	userID, err := db.self()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
        SELECT id, username, profile_pic
        FROM users
        WHERE id <> $1
        ORDER BY username
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.User
	for rows.Next() {
		var u models.User
		var pic sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &pic); err != nil {
			return nil, err
		}
		u.ProfilePic = pic.String
		contacts = append(contacts, u)
	}
	return contacts, rows.Err()
}

// History returns the conversation in insertion order.
func (db *DB) History(ctx context.Context, partnerID string) ([]models.Message, error) {
	userID, err := db.self()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
        SELECT id, sender_id, recipient_id, text, image, created_at
        FROM messages
        WHERE (sender_id = $1 AND recipient_id = $2)
           OR (sender_id = $2 AND recipient_id = $1)
        ORDER BY id
    `, userID, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var text, image sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &text, &image, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Text = text.String
		msg.Image = image.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *DB) Send(ctx context.Context, partnerID string, draft models.Draft) (models.Message, error) {
	userID, err := db.self()
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		SenderID:    userID,
		RecipientID: partnerID,
		Text:        draft.Text,
		Image:       draft.Image,
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
        INSERT INTO messages (sender_id, recipient_id, text, image)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
        RETURNING id, created_at
    `, userID, partnerID, draft.Text, draft.Image).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	payload, err := encodeNotification(msg)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, payload); err != nil {
		return models.Message{}, fmt.Errorf("notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Listen starts the LISTEN loop. It must be called before Subscribe delivers
// anything; the loop exits when ctx is done.
func (db *DB) Listen(ctx context.Context) error {
	listener := pq.NewListener(db.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			db.logger.Warn("listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	db.listener = listener

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				// nil after a reconnect
				if n == nil {
					continue
				}
				msg, err := decodeNotification(n.Extra)
				if err != nil {
					db.logger.Warn("dropping malformed notification", "error", err)
					continue
				}
				db.dispatch(msg)
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()
	return nil
}

func (db *DB) dispatch(msg models.Message) {
	db.mu.RLock()
	partnerID := msg.SenderID
	if partnerID == db.user.ID {
		partnerID = msg.RecipientID
	} else if msg.RecipientID != db.user.ID {
		db.mu.RUnlock()
		return
	}
	handlers := make([]func(models.Message), 0, len(db.subs[partnerID]))
	for _, deliver := range db.subs[partnerID] {
		handlers = append(handlers, deliver)
	}
	db.mu.RUnlock()

	for _, deliver := range handlers {
		deliver(msg)
	}
}

func (db *DB) Subscribe(partnerID string, deliver func(models.Message)) (chat.Subscription, error) {
	if _, err := db.self(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.nextSubID++
	id := db.nextSubID
	if db.subs[partnerID] == nil {
		db.subs[partnerID] = make(map[uint64]func(models.Message))
	}
	db.subs[partnerID][id] = deliver
	db.mu.Unlock()

	return chat.SubscriptionFunc(func() error {
		db.mu.Lock()
		defer db.mu.Unlock()
		delete(db.subs[partnerID], id)
		if len(db.subs[partnerID]) == 0 {
			delete(db.subs, partnerID)
		}
		return nil
	}), nil
}

type notification struct {
	ID          int64     `json:"id,string"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func encodeNotification(msg models.Message) (string, error) {
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("message id %q: %w", msg.ID, err)
	}
	data, err := json.Marshal(notification{
		ID:          id,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Text:        msg.Text,
		Image:       msg.Image,
		CreatedAt:   msg.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeNotification(extra string) (models.Message, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:          strconv.FormatInt(n.ID, 10),
		SenderID:    n.SenderID,
		RecipientID: n.RecipientID,
		Text:        n.Text,
		Image:       n.Image,
		CreatedAt:   n.CreatedAt,
	}, nil
}

func (db *DB) Close() error {
	if db.listener != nil {
		db.listener.Close()
	}
	return db.DB.Close()
}

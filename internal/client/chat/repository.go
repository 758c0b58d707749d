// internal/client/chat/repository.go
package chat

import (
	"context"
	"errors"

	"chatview/internal/client/models"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrClosed           = errors.New("connection closed")
	ErrNoPartner        = errors.New("no conversation partner selected")
)

// Repository is the backend the message store talks to. Implementations live
// in network (TCP protocol), pgstore and natsstore.
type Repository interface {
	Contacts(ctx context.Context) ([]models.User, error)
	History(ctx context.Context, partnerID string) ([]models.Message, error)
	// Subscribe delivers live messages of the conversation with partnerID.
	// deliver may be called from any goroutine.
	Subscribe(partnerID string, deliver func(models.Message)) (Subscription, error)
	Send(ctx context.Context, partnerID string, draft models.Draft) (models.Message, error)
}

type Subscription interface {
	Close() error
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (models.User, error)
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error {
	return f()
}

// cmd/client/backend.go
package main

import (
	"context"
	"fmt"
	"log/slog"

	"chatview/internal/client/chat"
	"chatview/internal/client/natsstore"
	"chatview/internal/client/network"
	"chatview/internal/client/pgstore"
	"chatview/internal/client/tui"
	"chatview/internal/config"
)

var _ tui.SessionStore = (*chat.Store)(nil)

type backend interface {
	chat.Repository
	chat.Authenticator
}

// newConnector returns the login hook for the configured backend. Each call
// opens a fresh connection so a failed login leaves nothing behind.
func newConnector(cfg *config.Config, logger *slog.Logger, onError func(error)) (tui.ConnectFunc, error) {
	var open func(ctx context.Context) (backend, func() error, error)

	switch cfg.Backend {
	case config.BackendTCP:
		open = func(ctx context.Context) (backend, func() error, error) {
			conn, err := network.Dial(ctx, cfg.Server.Addr())
			if err != nil {
				return nil, nil, fmt.Errorf("connection error: %w", err)
			}
			handler := network.NewConnectionHandler(conn, logger)
			handler.SetErrorHandler(onError)
			handler.Start()
			return handler, handler.Close, nil
		}

	case config.BackendPostgres:
		open = func(ctx context.Context) (backend, func() error, error) {
			db, err := pgstore.NewDB(ctx, cfg.Database.URL, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("database error: %w", err)
			}
			if cfg.Database.Migrate {
				if err := db.Migrate(ctx); err != nil {
					db.Close()
					return nil, nil, err
				}
			}
			// the listener outlives the login request
			listenCtx, cancel := context.WithCancel(context.Background())
			if err := db.Listen(listenCtx); err != nil {
				cancel()
				db.Close()
				return nil, nil, err
			}
			return db, func() error {
				cancel()
				return db.Close()
			}, nil
		}

	case config.BackendNATS:
		open = func(ctx context.Context) (backend, func() error, error) {
			client, err := natsstore.NewClient(natsstore.Config{
				URL:           cfg.NATS.URL,
				MaxReconnects: cfg.NATS.MaxReconnects,
				ReconnectWait: cfg.NATS.ReconnectWait,
			}, logger)
			if err != nil {
				return nil, nil, err
			}
			return client, func() error {
				client.Close()
				return nil
			}, nil
		}

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	return func(ctx context.Context, username, password string) (*tui.Session, error) {
		repo, closeFn, err := open(ctx)
		if err != nil {
			return nil, err
		}

		user, err := repo.Authenticate(ctx, username, password)
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("authentication error: %w", err)
		}
		logger.Info("authenticated", "backend", cfg.Backend, "user_id", user.ID)

		return &tui.Session{
			User:  user,
			Store: chat.NewStore(repo, user, logger),
			Close: closeFn,
		}, nil
	}, nil
}

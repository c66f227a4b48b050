package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/user"
)

var ErrNotAuthenticated = errors.New("expected authenticate message")

// Authenticator: runs the first-frame handshake of a new connection
type Authenticator struct {
	identities *user.IdentityManager
	logger     *slog.Logger
}

func NewAuthenticator(identities *user.IdentityManager, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		identities: identities,
		logger:     logger,
	}
}

// Authenticate reads the authenticate frame within timeout and answers
// with the identity's userId and resume token. An empty or unknown token
// yields a new identity.
func (a *Authenticator) Authenticate(conn *websocket.Conn, timeout time.Duration) (*user.Identity, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("receive auth message: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var authMsg protocol.Authenticate
	if err := json.Unmarshal(msg, &authMsg); err != nil {
		return nil, fmt.Errorf("invalid auth message format: %w", err)
	}
	if authMsg.Type != protocol.TypeAuthenticate {
		return nil, fmt.Errorf("%w, got %q", ErrNotAuthenticated, authMsg.Type)
	}

	identity, resumed := a.identities.Authenticate(authMsg.Token)
	if resumed {
		a.logger.Info("returning user authenticated", "user", identity.UserID)
	} else {
		if authMsg.Token != "" {
			a.logger.Info("unknown token, treating as new user")
		}
		a.logger.Info("new user created", "user", identity.UserID)
	}

	response, err := json.Marshal(protocol.Authenticated{
		Type:   protocol.TypeAuthenticated,
		UserID: identity.UserID,
		Token:  identity.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal auth response: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, response); err != nil {
		return nil, fmt.Errorf("send auth response: %w", err)
	}
	return identity, nil
}

package transport

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"whiteboard-backend/internal/handlers"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/user"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// connection pumps one authenticated session over its websocket.
type connection struct {
	ws      *websocket.Conn
	session *user.Session
	limits  *middleware.RateLimit
	router  *handlers.MessageRouter
	logger  *slog.Logger
}

// writePump drains the session's queue until it is closed, pinging the
// peer in between.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.session.Outbound():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump routes inbound frames until the connection fails.
func (c *connection) readPump() {
	if c.limits.MaxMessageSize > 0 {
		// oversize frames below twice the limit are dropped, larger ones close
		c.ws.SetReadLimit(int64(c.limits.MaxMessageSize) * 2)
	}
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	userID := c.session.UserID()
	limiter := c.session.Identity().RateLimiter

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", "session", c.session.ID(), "user", userID, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limits.ValidateMessageSize(len(msg)) {
			c.logger.Warn("message too large", "user", userID, "bytes", len(msg))
			continue
		}

		// cursor updates have their own throttle
		if msgType, _ := protocol.PeekType(msg); msgType != protocol.TypeCursor && !limiter.Allow() {
			c.logger.Warn("rate limit exceeded", "user", userID)
			continue
		}

		if err := c.router.Route(c.session, msg); err != nil {
			if errors.Is(err, user.ErrSessionClosed) {
				return
			}
			c.logger.Debug("message not handled", "session", c.session.ID(), "user", userID, "error", err)
		}
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	commonlog "media_server/server/common/log"
	"media_server/server/common/middleware"
	"media_server/server/common/transport/httpresp"
	"media_server/server/media/domain"
)

const wsWriteTimeout = 5 * time.Second

// StatusHub fans status updates out to websocket clients. Updates go
// through Redis pub/sub so any media instance can reach a client connected
// to another one.
type StatusHub struct {
	redis          *redis.Client
	upgrader       websocket.Upgrader
	allowedOrigins map[string]struct{}
	writeTimeout   time.Duration
	mu             sync.RWMutex
	users          map[int32]*userConns
}

type userConns struct {
	conns  map[*websocket.Conn]*sync.Mutex
	cancel context.CancelFunc
}

// NewStatusHub accepts browser upgrades from the serving host and from
// allowedOrigins (scheme://host[:port]). The jwt cookie rides along on
// cross-site requests, so any other Origin is refused.
func NewStatusHub(redisClient *redis.Client, allowedOrigins []string) *StatusHub {
	h := &StatusHub{
		redis:          redisClient,
		allowedOrigins: map[string]struct{}{},
		writeTimeout:   wsWriteTimeout,
		users:          map[int32]*userConns{},
	}
	for _, origin := range allowedOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			h.allowedOrigins[origin] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *StatusHub) checkOrigin(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		// Not a browser.
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := h.allowedOrigins[normalizeOrigin(raw)]
	return ok
}

func normalizeOrigin(raw string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "/")
}

func StatusChannel(userID int32) string {
	return fmt.Sprintf("media:status:user:%d", userID)
}

func (h *StatusHub) PublishStatus(ctx context.Context, userID int32, update domain.StatusUpdate) error {
	b, err := json.Marshal(update)
	if err != nil {
		return err
	}
	if err := h.redis.Publish(ctx, StatusChannel(userID), b).Err(); err != nil {
		return fmt.Errorf("publish status for user %d: %w", userID, err)
	}
	return nil
}

func (h *StatusHub) HandleWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=media_ws action=upgrade status=failed user_id=%d error=%v", userID, err)
		return
	}
	h.join(userID, conn)
	defer h.leave(userID, conn)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Connections returns how many websocket clients the user has on this instance.
func (h *StatusHub) Connections(userID int32) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if state, ok := h.users[userID]; ok {
		return len(state.conns)
	}
	return 0
}

func (h *StatusHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, state := range h.users {
		state.cancel()
		for conn := range state.conns {
			_ = conn.Close()
		}
		delete(h.users, userID)
	}
}

func (h *StatusHub) consumeRedis(ctx context.Context, userID int32) {
	pubsub := h.redis.Subscribe(ctx, StatusChannel(userID))
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		h.broadcast(userID, []byte(msg.Payload))
	}
}

type connWriter struct {
	conn *websocket.Conn
	mu   *sync.Mutex
}

// broadcast snapshots the user's connections under the hub lock and writes
// after releasing it, so a slow client only delays its own user's stream.
func (h *StatusHub) broadcast(userID int32, payload []byte) {
	for _, w := range h.snapshot(userID) {
		w.mu.Lock()
		_ = w.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := w.conn.WriteMessage(websocket.TextMessage, payload)
		w.mu.Unlock()
		if err != nil {
			commonlog.Debugf("event=media_ws action=write status=failed user_id=%d error=%v", userID, err)
		}
	}
}

func (h *StatusHub) snapshot(userID int32) []connWriter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state := h.users[userID]
	if state == nil {
		return nil
	}
	out := make([]connWriter, 0, len(state.conns))
	for conn, mu := range state.conns {
		out = append(out, connWriter{conn: conn, mu: mu})
	}
	return out
}

func (h *StatusHub) join(userID int32, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.users[userID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		state = &userConns{conns: map[*websocket.Conn]*sync.Mutex{}, cancel: cancel}
		h.users[userID] = state
		go h.consumeRedis(ctx, userID)
	}
	state.conns[conn] = &sync.Mutex{}
}

func (h *StatusHub) leave(userID int32, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.users[userID]; ok {
		delete(state.conns, conn)
		if len(state.conns) == 0 {
			state.cancel()
			delete(h.users, userID)
		}
	}
	_ = conn.Close()
}

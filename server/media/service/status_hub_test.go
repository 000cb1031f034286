package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media_server/server/common/infra/cache"
	"media_server/server/media/domain"
)

func TestStatusChannel(t *testing.T) {
	assert.Equal(t, "media:status:user:42", StatusChannel(42))
}

func TestStatusHubRequiresAuthenticatedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewStatusHub(nil, nil)
	r := gin.New()
	r.GET("/ws/media", hub.HandleWS)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/media", nil))
	assert.Equal(t, 401, rec.Code)
}

// Runs against the Redis in MEDIA_TEST_REDIS_ADDR.
func TestStatusHubDeliversToSubscribedUser(t *testing.T) {
	addr := os.Getenv("MEDIA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEDIA_TEST_REDIS_ADDR not set")
	}
	redisClient := cache.NewClient(addr)
	t.Cleanup(func() { _ = redisClient.Close() })
	require.NoError(t, cache.Ping(context.Background(), redisClient))

	gin.SetMode(gin.TestMode)
	hub := NewStatusHub(redisClient, nil)
	t.Cleanup(hub.Close)
	r := gin.New()
	r.GET("/ws/media", func(c *gin.Context) {
		c.Set("auth_user_id", int32(77))
		c.Next()
	}, hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/media", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Connections(77) == 1 }, 2*time.Second, 10*time.Millisecond)

	update := domain.StatusUpdate{Type: domain.StatusUpdateType, MediaID: "m1", CompressedID: "c1", Status: "compressed"}
	// The Redis subscription starts asynchronously; publish until it is read.
	received := make(chan domain.StatusUpdate, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var got domain.StatusUpdate
		if json.Unmarshal(raw, &got) == nil {
			received <- got
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		require.NoError(t, hub.PublishStatus(context.Background(), 77, update))
		select {
		case got := <-received:
			assert.Equal(t, "m1", got.MediaID)
			assert.Equal(t, "compressed", got.Status)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("status update not delivered")
		}
	}
}

func TestStatusHubCheckOrigin(t *testing.T) {
	hub := NewStatusHub(nil, []string{"https://app.example.com/", " HTTPS://Admin.Example.com "})

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "no origin", origin: "", want: true},
		{name: "same host", origin: "http://media.internal:8090", want: true},
		{name: "allowed origin", origin: "https://app.example.com", want: true},
		{name: "allowed origin case-insensitive", origin: "https://admin.example.com", want: true},
		{name: "foreign origin", origin: "https://evil.example", want: false},
		{name: "allowed host wrong scheme", origin: "http://app.example.com", want: false},
		{name: "garbage", origin: "::not a url", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://media.internal:8090/ws/media", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, hub.checkOrigin(req))
		})
	}
}

func TestStatusHubRejectsForeignOriginUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewStatusHub(nil, nil)
	r := gin.New()
	r.GET("/ws/media", func(c *gin.Context) {
		c.Set("auth_user_id", int32(77))
		c.Next()
	}, hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/media", header)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.Connections(77))
}

func TestStatusHubBroadcastDoesNotHoldHubLock(t *testing.T) {
	serverConns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	// The client never reads, so a large write blocks until the deadline.
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	serverConn := <-serverConns
	t.Cleanup(func() { _ = serverConn.Close() })

	hub := NewStatusHub(nil, nil)
	hub.writeTimeout = 3 * time.Second
	hub.users[1] = &userConns{
		conns:  map[*websocket.Conn]*sync.Mutex{serverConn: {}},
		cancel: func() {},
	}

	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		hub.broadcast(1, bytes.Repeat([]byte("x"), 64<<20))
	}()
	time.Sleep(200 * time.Millisecond)

	locked := make(chan struct{})
	go func() {
		hub.mu.Lock()
		hub.mu.Unlock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("hub lock held during websocket write")
	}

	_ = serverConn.Close()
	<-broadcastDone
}

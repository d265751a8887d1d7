package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusEvent struct {
	Status string `json:"status"`
}

func receive(t *testing.T, events <-chan []byte) string {
	t.Helper()
	select {
	case data := <-events:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func testNotifier(t *testing.T, n Notifier) {
	ctx := context.Background()

	events, cancel, err := n.Subscribe(ctx, DeploymentTopic("d1"))
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, DeploymentTopic("other"), statusEvent{"ignored"}))
	require.NoError(t, n.Publish(ctx, DeploymentTopic("d1"), statusEvent{"deployed"}))
	assert.JSONEq(t, `{"status":"deployed"}`, receive(t, events))

	cancel()
	require.NoError(t, n.Publish(ctx, DeploymentTopic("d1"), statusEvent{"after"}))
}

func TestMemoryNotifier(t *testing.T) {
	testNotifier(t, NewMemory())
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	testNotifier(t, New(client, zerolog.Nop()))
}

func TestNewFallsBackToMemory(t *testing.T) {
	_, ok := New(nil, zerolog.Nop()).(*MemoryNotifier)
	assert.True(t, ok)
}

func TestStream(t *testing.T) {
	n := NewMemory()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Stream(w, r, n, DeploymentTopic("d1"), statusEvent{"pending"}, zerolog.Nop())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first statusEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "pending", first.Status)

	// The subscription exists before the initial event is written.
	require.NoError(t, n.Publish(context.Background(), DeploymentTopic("d1"), statusEvent{"deploying"}))

	var next statusEvent
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "deploying", next.Status)
}

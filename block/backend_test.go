package block

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/blockkit/manifest"
)

type quote struct {
	Asset string  `json:"asset"`
	Price float64 `json:"price"`
}

// echoServer answers every JSON message with the same message.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		for {
			var q quote
			if err := wsjson.Read(r.Context(), conn, &q); err != nil {
				return
			}
			if err := wsjson.Write(r.Context(), conn, q); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketBackendRoundTrip(t *testing.T) {
	t.Parallel()

	srv := echoServer(t)
	ws := NewWebsocketBackend("ws" + strings.TrimPrefix(srv.URL, "http"))

	b, err := NewActionBlock("i", testManifest(manifest.Action), btcPolicy(), &recordingSubmitter{}, ws)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	require.NoError(t, b.Backend().Send(ctx, quote{Asset: "BTC", Price: 64000.5}))
	var got quote
	require.NoError(t, b.Backend().Receive(ctx, &got))
	assert.Equal(t, quote{Asset: "BTC", Price: 64000.5}, got)

	// connecting twice is a no-op
	assert.NoError(t, ws.Connect(ctx))
}

func TestWebsocketBackendNotConnected(t *testing.T) {
	t.Parallel()

	ws := NewWebsocketBackend("ws://127.0.0.1:1")
	ctx := context.Background()
	assert.ErrorIs(t, ws.Send(ctx, quote{}), ErrNotConnected)
	var q quote
	assert.ErrorIs(t, ws.Receive(ctx, &q), ErrNotConnected)
	assert.NoError(t, ws.Close())
}

func TestWebsocketBackendInitialize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"ws://localhost:9000/feed", false},
		{"wss://feeds.example.com", false},
		{"https://feeds.example.com", false},
		{"ftp://feeds.example.com", true},
		{"ws://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := NewWebsocketBackend(tt.url).Initialize(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartFailsOnBadBackend(t *testing.T) {
	t.Parallel()

	b, err := NewAnalystBlock("i", testManifest(manifest.Analyst), &recordingSubmitter{}, NewWebsocketBackend("ftp://nope"))
	require.NoError(t, err)
	err = b.Start(context.Background())
	assert.ErrorContains(t, err, "initialize backend")
}

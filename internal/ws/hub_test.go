package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticTokens maps a token string straight to a wallet.
type staticTokens map[string]string

func (s staticTokens) ParseWalletToken(token string) (string, error) {
	if w, ok := s[token]; ok {
		return w, nil
	}
	return "", domain.ErrTokenInvalid
}

const (
	walletA = "0xaaa0000000000000000000000000000000000001"
	walletB = "0xbbb0000000000000000000000000000000000002"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(staticTokens{"tok-a": walletA, "tok-b": walletB}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) (MsgType, map[string]any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return MsgType(m["type"].(string)), m
}

func TestHub_RoutesByWallet(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv, "tok-a")
	b := dial(t, srv, "tok-b")
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 2 }, time.Second, 5*time.Millisecond)

	subID := uuid.New()
	hub.SubscriptionStatus(walletA, subID, domain.SubRunning)
	hub.ProductStatus(uuid.New(), "capital-guard", domain.ProductPaused)

	typ, m := readType(t, a)
	assert.Equal(t, MsgTypeSubscriptionStatus, typ)
	assert.Equal(t, subID.String(), m["subscriptionId"])
	typ, _ = readType(t, a)
	assert.Equal(t, MsgTypeProductStatus, typ)

	// b never sees a's status event.
	typ, m = readType(t, b)
	assert.Equal(t, MsgTypeProductStatus, typ)
	assert.Equal(t, "capital-guard", m["slug"])
}

func TestHub_RejectsInvalidToken(t *testing.T) {
	_, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, websocket.ErrBadHandshake))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_ShutdownReleasesClients(t *testing.T) {
	hub := NewHub(staticTokens{"tok-a": walletA}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)

	a := dial(t, srv, "tok-a")
	anon := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	for _, conn := range []*websocket.Conn{a, anon} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "the server closes every connection")
	}

	released := make(chan struct{})
	go func() {
		hub.readers.Wait()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("read pumps still blocked after the hub stopped")
	}
	assert.Zero(t, hub.ConnectedCount())
}

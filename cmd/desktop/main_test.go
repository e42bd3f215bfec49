// Package main tests for desktop server routing and the event stream.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/churchhouse/backend/internal/app"
	"github.com/kimhsiao/churchhouse/backend/internal/config"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

func setupServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	logging.Init(os.Stdout, logging.LevelError)

	cfg := config.Default()
	cfg.Gateway.Driver = config.DriverMemory
	cfg.Gateway.RateLimit.RPS = 0

	rt, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	hub := NewWSHub(rt.Surface)
	srv := httptest.NewServer(newRouter(rt, hub))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		rt.Close(context.Background())
	})
	return srv, rt
}

func postJSON(t *testing.T, url string, body interface{}) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRoutesMounted(t *testing.T) {
	srv, _ := setupServer(t)

	for _, path := range []string{"/api/views", "/api/scheduler", "/api/kinds/post/interactions"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestWebSocketForwardsViewEvents(t *testing.T) {
	srv, rt := setupServer(t)
	ctx := context.Background()
	_, err := rt.Store.Import(ctx, gateway.Record{
		ID:        "p1",
		Kind:      models.KindPost,
		AuthorID:  "u1",
		Content:   models.Content{Text: "Sunday picnic", Audience: "public"},
		CreatedAt: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	opened := postJSON(t, srv.URL+"/api/views", map[string]string{"kind": "post"})
	viewID := opened["value"].(map[string]interface{})["id"].(string)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?view=" + viewID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// pong means the client is registered with the hub
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, "pong", pong["action"])

	loaded := postJSON(t, srv.URL+"/api/views/"+viewID+"/load", nil)
	require.Nil(t, loaded["error"])

	for {
		var envelope struct {
			Type   string `json:"type"`
			ViewID string `json:"view_id"`
			Data   struct {
				Type string `json:"type"`
			} `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&envelope))
		if envelope.Type != EventCollectionChanged {
			continue
		}
		assert.Equal(t, viewID, envelope.ViewID)
		if envelope.Data.Type == "loaded" {
			break
		}
	}
}

func TestWebSocketSubscribeUnknownView(t *testing.T) {
	srv, _ := setupServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"views":  []string{"post-missing"},
	}))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])
	assert.Empty(t, ack["subscribed"])
}

func TestLocalOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                      true,
		"http://localhost:5173": true,
		"http://127.0.0.1":      true,
		"https://example.com":   false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, localOrigin(req), origin)
	}
}

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/churchhouse/backend/internal/config"
)

func newTestBridge(t *testing.T) *bridge {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.Driver = config.DriverMemory
	cfg.Gateway.RateLimit.RPS = 0

	b := &bridge{subs: make(map[string]*subscription)}
	require.JSONEq(t, `{"ok":true}`, b.start(cfg))
	t.Cleanup(b.cleanup)
	return b
}

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}

func TestBridgeNotInitialized(t *testing.T) {
	b := &bridge{subs: make(map[string]*subscription)}
	out := decode(t, b.views())
	require.NotNil(t, out["error"])
	assert.Equal(t, "internal", out["error"].(map[string]interface{})["kind"])
}

func TestBridgeViewLifecycle(t *testing.T) {
	b := newTestBridge(t)

	opened := decode(t, b.open("post", `{"page_size":5}`))
	require.Nil(t, opened["error"])
	viewID := opened["value"].(map[string]interface{})["id"].(string)

	sub := decode(t, b.subscribe(viewID))
	subID := sub["subscription_id"].(string)

	loaded := decode(t, b.loadInitial(viewID, ""))
	require.Nil(t, loaded["error"])

	created := decode(t, b.createItem(viewID, `{"author":{"id":"u1"},"content":{"text":"Hymn night"}}`))
	require.Nil(t, created["error"], created)
	itemID := created["value"].(map[string]interface{})["id"].(string)

	liked := decode(t, b.applyMutation(viewID, itemID, "like"))
	require.Nil(t, liked["error"], liked)

	polled := decode(t, b.poll(subID))
	assert.Equal(t, false, polled["closed"])
	assert.NotEmpty(t, polled["events"])

	released := decode(t, b.release(viewID))
	assert.Equal(t, true, released["value"])

	polled = decode(t, b.poll(subID))
	assert.Equal(t, true, polled["closed"])

	gone := decode(t, b.poll(subID))
	assert.NotNil(t, gone["error"])
}

func TestBridgeRejectsBadJSON(t *testing.T) {
	b := newTestBridge(t)

	out := decode(t, b.open("post", "{"))
	assert.Equal(t, "validation", out["error"].(map[string]interface{})["kind"])

	out = decode(t, b.open("sermon", ""))
	assert.NotNil(t, out["error"])
}

func TestBridgeInteractions(t *testing.T) {
	b := newTestBridge(t)
	out := decode(t, b.interactions("prayer"))
	assert.Contains(t, out["value"], "pray")
}

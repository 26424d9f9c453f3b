package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/evolution"
	"github.com/walterthesmart/stellAIverse-contracts/internal/exechub"
	"github.com/walterthesmart/stellAIverse-contracts/internal/market"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
	"github.com/walterthesmart/stellAIverse-contracts/internal/token"
)

func newTestServer(t *testing.T) (*httptest.Server, *token.Book) {
	t.Helper()
	st := store.NewMemoryStore()
	emit := events.Discard{}
	authn := auth.AllowAll{}

	book := token.NewBook()
	book.Credit("buyer", 100_000)
	book.Credit("alice", 100_000)

	reg := registry.New(st, emit, authn)
	mkt := market.New(st, emit, authn, reg, book, market.Config{
		PriceUpperBound: 1_000_000,
		MaxDurationDays: 365,
	})
	evo := evolution.New(st, emit, authn, reg, book, evolution.NewKeyring(), evolution.Config{
		MinStake:        100,
		CooldownSeconds: 0,
		StakeUpperBound: 50_000,
	})
	hub := exechub.New(st, emit, authn, reg, exechub.Config{
		WindowSeconds: 60,
		MaxOperations: 100,
	})

	// Metrics stay nil so repeated test runs do not double-register
	// collectors on the default registry.
	server := NewServer(reg, mkt, evo, hub, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, book
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, "GET", ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMintListPurchaseFlow(t *testing.T) {
	ts, book := newTestServer(t)

	resp, _ := doJSON(t, "POST", ts.URL+"/api/v1/registry/init", map[string]any{"admin": "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, "POST", ts.URL+"/api/v1/market/init", map[string]any{"admin": "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, "POST", ts.URL+"/api/v1/agents", map[string]any{
		"owner":        "alice",
		"name":         "agent-one",
		"model_hash":   "hash-v1",
		"capabilities": []string{"chat"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	agentID := uint64(body["agent_id"].(float64))

	resp, body = doJSON(t, "POST", ts.URL+"/api/v1/listings", map[string]any{
		"agent_id": agentID,
		"seller":   "alice",
		"type":     "sale",
		"price":    1000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	listingID := uint64(body["listing_id"].(float64))

	resp, _ = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/listings/%d/purchase", ts.URL, listingID), map[string]any{
		"buyer":  "buyer",
		"amount": 1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(101_000), book.Balance("alice"))

	resp, body = doJSON(t, "GET", fmt.Sprintf("%s/api/v1/agents/%d/owner", ts.URL, agentID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "buyer", body["owner"])

	// A second purchase of the closed listing maps to 409.
	resp, body = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/listings/%d/purchase", ts.URL, listingID), map[string]any{
		"buyer":  "buyer",
		"amount": 1000,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["code"])
}

func TestErrorStatusMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, "POST", ts.URL+"/api/v1/registry/init", map[string]any{"admin": "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Double initialization conflicts.
	resp, body := doJSON(t, "POST", ts.URL+"/api/v1/registry/init", map[string]any{"admin": "admin"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_initialized", body["code"])

	// Unknown agent is 404.
	resp, body = doJSON(t, "GET", ts.URL+"/api/v1/agents/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	// Garbage ids are 400.
	resp, _ = doJSON(t, "GET", ts.URL+"/api/v1/agents/0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unauthenticated callers are 403.
	resp, body = doJSON(t, "POST", ts.URL+"/api/v1/agents", map[string]any{
		"owner":      "",
		"name":       "agent",
		"model_hash": "hash",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestUpgradeAndActionFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, init := range []struct {
		path string
		body map[string]any
	}{
		{"/api/v1/registry/init", map[string]any{"admin": "admin"}},
		{"/api/v1/evolution/init", map[string]any{"admin": "admin", "stake_token": "STELLAI"}},
		{"/api/v1/exechub/init", map[string]any{"admin": "admin"}},
	} {
		resp, _ := doJSON(t, "POST", ts.URL+init.path, init.body)
		require.Equal(t, http.StatusOK, resp.StatusCode, init.path)
	}

	resp, body := doJSON(t, "POST", ts.URL+"/api/v1/agents", map[string]any{
		"owner":      "alice",
		"name":       "agent-one",
		"model_hash": "hash-v1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	agentID := uint64(body["agent_id"].(float64))

	resp, body = doJSON(t, "POST", ts.URL+"/api/v1/upgrades", map[string]any{
		"agent_id": agentID,
		"owner":    "alice",
		"stake":    500,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	requestID := uint64(body["request_id"].(float64))

	resp, _ = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/upgrades/%d/complete", ts.URL, requestID), map[string]any{
		"admin":          "admin",
		"new_model_hash": "hash-v2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/upgrades/%d/claim", ts.URL, requestID), map[string]any{
		"owner": "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Second claim conflicts.
	resp, body = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/upgrades/%d/claim", ts.URL, requestID), map[string]any{
		"owner": "alice",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_claimed", body["code"])

	// Execute one action through the hub.
	hash := exechub.CanonicalDigest(agentID, "alice", "ping", nil, 1)
	resp, body = doJSON(t, "POST", ts.URL+"/api/v1/actions", map[string]any{
		"agent_id":  agentID,
		"executor":  "alice",
		"action":    "ping",
		"nonce":     1,
		"exec_hash": hash,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	executionID := uint64(body["execution_id"].(float64))

	resp, body = doJSON(t, "GET", fmt.Sprintf("%s/api/v1/executions/%d", ts.URL, executionID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ping", body["action"])

	resp, body = doJSON(t, "GET", fmt.Sprintf("%s/api/v1/agents/%d/history?limit=10", ts.URL, agentID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	executions := body["executions"].([]any)
	assert.Len(t, executions, 1)
}

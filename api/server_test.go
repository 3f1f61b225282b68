package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/registry"
)

const actionManifest = `{
	"name": "dca-bot",
	"version": "1.2.0",
	"block_type": "action",
	"publisher": ["Acme Labs", "acme"],
	"description": "Buys a little BTC every day",
	"fee": [{"fee_type": "fixed_one_time", "fee_currency": "USDC", "amount": "25"}]
}`

const analystManifest = `{
	"name": "market-notes",
	"version": "0.3.1",
	"block_type": "analyst",
	"publisher": ["Acme Labs", "acme"],
	"description": "Daily market commentary"
}`

type flakyStore struct {
	*ledger.MemoryStore
	failUpdates atomic.Bool
}

func (s *flakyStore) Update(ctx context.Context, prev int64, next ledger.Entry, r *ledger.Receipt) error {
	if s.failUpdates.Load() {
		return errors.New("i/o timeout")
	}
	return s.MemoryStore.Update(ctx, prev, next, r)
}

type testEnv struct {
	srv   *httptest.Server
	store *flakyStore
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore()}
	l := ledger.New(store)
	reg := registry.New(l, nil)
	gate := compliance.NewGate(reg, l, nil)
	srv := httptest.NewServer(NewServer(reg, gate, l, opts...).Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// activate registers raw and activates it under id with the given policy.
func (e *testEnv) activate(t *testing.T, raw, id string, pol map[string]any) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/manifests", raw, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	resp, body = e.do(t, http.MethodPost, "/blocks", map[string]any{
		"instance_id":     id,
		"manifest_digest": body["digest"],
		"policy":          pol,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
}

var btcPolicy = map[string]any{
	"kind":                       "action",
	"asset_id":                   "BTC",
	"max_amount_per_transaction": "1.0",
	"cumulative_max_amount":      "10.0",
	"authorized_duration_days":   30,
}

func proposal(id, amount string) map[string]any {
	return map[string]any{
		"proposal_id": id,
		"block_id":    "dca-bot",
		"action_type": "buy",
		"asset_id":    "BTC",
		"amount":      amount,
		"currency":    "USDC",
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterManifestErrors(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	resp, body := env.do(t, http.MethodPost, "/manifests", `{
		"name": "x", "version": "1.0.0", "block_type": "action",
		"publisher": ["a", "b"], "description": "",
		"fee": [{"fee_type": "fixed_one_time", "fee_currency": "USDC", "amount": 1},
		        {"fee_type": "fixed_one_time", "fee_currency": "USDC", "amount": 2}]
	}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "MultipleFeesNotAllowed", body["code"])

	resp, body = env.do(t, http.MethodPost, "/manifests", `{"name": "x", "version": "1.0.0", "block_type": "robot",
		"publisher": ["a", "b"], "description": ""}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "UnknownBlockType", body["code"])
}

func TestActionFlow(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.activate(t, actionManifest, "btc-dca", btcPolicy)

	resp, body := env.do(t, http.MethodGet, "/blocks/btc-dca/manifest", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dca-bot", body["name"])

	resp, body = env.do(t, http.MethodGet, "/blocks/btc-dca/policy", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "action", body["kind"])
	assert.Equal(t, "BTC", body["asset_id"])

	for i := 0; i < 9; i++ {
		resp, body = env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", proposal("fill-"+string(rune('a'+i)), "1"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		require.Equal(t, "accepted", body["status"])
	}
	resp, body = env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", proposal("half", "0.5"), nil)
	require.Equal(t, "accepted", body["status"])

	resp, body = env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", proposal("over", "0.6"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "cumulative_limit_exceeded", body["code"])
	assert.Equal(t, "Cumulative amount 10.1 would exceed limit (10).", body["reason"])

	resp, body = env.do(t, http.MethodGet, "/blocks/btc-dca/ledger", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9.5", body["cumulative_spent"])
	assert.Equal(t, false, body["window_expired"])
	assert.EqualValues(t, 30, body["remaining_days"])

	resp, body = env.do(t, http.MethodPost, "/blocks/btc-dca/renew", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", body["cumulative_spent"])
}

func TestProposalIdempotencyKey(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.activate(t, actionManifest, "btc-dca", btcPolicy)

	p := proposal("", "0.3")
	delete(p, "proposal_id")
	key := map[string]string{"Idempotency-Key": "order-42"}

	_, first := env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", p, key)
	assert.Equal(t, "accepted", first["status"])
	assert.Equal(t, "order-42", first["proposal_id"])

	_, second := env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", p, key)
	assert.Equal(t, "accepted", second["status"])
	assert.Equal(t, true, second["replayed"])
	assert.Equal(t, first["receipt_id"], second["receipt_id"])

	_, ledgerBody := env.do(t, http.MethodGet, "/blocks/btc-dca/ledger", nil, nil)
	assert.Equal(t, "0.3", ledgerBody["cumulative_spent"])

	resp, body := env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", p, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_proposal_id", body["code"])
}

func TestProposalCommitFailure(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.activate(t, actionManifest, "btc-dca", btcPolicy)

	env.store.failUpdates.Store(true)
	resp, body := env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", proposal("p1", "0.5"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "ledger_commit_failed", body["code"])

	env.store.failUpdates.Store(false)
	resp, body = env.do(t, http.MethodPost, "/blocks/btc-dca/proposals", proposal("p1", "0.5"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
}

func TestAnalystFlow(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.activate(t, analystManifest, "notes", map[string]any{
		"kind":                     "analyst",
		"authorized":               true,
		"authorized_duration_days": 7,
		"advice_allowed":           false,
	})

	op := map[string]any{
		"operation_type": "chat_message",
		"message":        map[string]any{"message_type": "analysis", "content": "ETH/BTC is trending down"},
	}
	resp, body := env.do(t, http.MethodPost, "/blocks/notes/operations", op, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])

	op["message"] = map[string]any{"message_type": "advice", "content": "sell"}
	_, body = env.do(t, http.MethodPost, "/blocks/notes/operations", op, nil)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "advice_not_permitted", body["code"])

	resp, body = env.do(t, http.MethodPost, "/blocks/notes/proposals", proposal("p1", "0.1"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "kind_mismatch", body["code"])
}

func TestActivationErrors(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	resp, reg := env.do(t, http.MethodPost, "/manifests", actionManifest, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/blocks", map[string]any{
		"manifest_digest": reg["digest"],
		"policy":          map[string]any{"kind": "analyst", "authorized": true},
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "kind_mismatch", body["code"])

	resp, body = env.do(t, http.MethodPost, "/blocks", map[string]any{
		"manifest_digest": reg["digest"],
		"policy":          map[string]any{"kind": "action", "asset_id": "BTC"},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_settings", body["code"])

	resp, _ = env.do(t, http.MethodPost, "/blocks", map[string]any{"manifest_digest": "missing", "policy": btcPolicy}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/blocks", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/blocks/ghost/ledger", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListBlocks(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.activate(t, actionManifest, "btc-dca", btcPolicy)

	resp, err := http.Get(env.srv.URL + "/blocks")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "btc-dca", list[0]["instance_id"])
	assert.NotEmpty(t, list[0]["manifest_digest"])
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	env := newEnv(t, WithRateLimit(0.001, 2))
	env.activate(t, actionManifest, "btc-dca", btcPolicy)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, "/blocks/btc-dca/policy", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodGet, "/blocks/btc-dca/policy", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestInstanceRateLimiterIsPerInstance(t *testing.T) {
	t.Parallel()

	rl := NewInstanceRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	var disabled *InstanceRateLimiter
	assert.True(t, disabled.Allow("a"))

	rl.lastSweep = time.Time{}
	rl.idle = 0
	rl.Allow("c")
	rl.mu.Lock()
	_, stillThere := rl.limiters["a"]
	rl.mu.Unlock()
	assert.False(t, stillThere)
}

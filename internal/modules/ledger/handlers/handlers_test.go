package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/meridianyield/stakeledger/internal/auth"
	"github.com/meridianyield/stakeledger/internal/modules/custody"
	"github.com/meridianyield/stakeledger/internal/modules/ledger"
	"github.com/meridianyield/stakeledger/internal/modules/shares"
	"github.com/meridianyield/stakeledger/internal/modules/strategy"
	"github.com/meridianyield/stakeledger/internal/roles"
)

const (
	testStrategy = "strategy:alpha"
	routerAuth   = "Bearer router-token"
	managerAuth  = "Bearer manager-token"
)

type allowAll struct{}

func (allowAll) Check(caller string, role roles.Role) error { return nil }

type stubProvider map[string]strategy.Strategy

func (p stubProvider) Get(address string) (strategy.Strategy, bool) {
	s, ok := p[address]
	return s, ok
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE stake_info (
			strategy         TEXT PRIMARY KEY,
			total_stake      INTEGER NOT NULL DEFAULT 0,
			total_allocation INTEGER NOT NULL DEFAULT 0,
			updated_at       TEXT NOT NULL
		);
		CREATE TABLE allocation_requests (
			strategy   TEXT NOT NULL,
			id         INTEGER NOT NULL,
			user       TEXT NOT NULL,
			is_exit    INTEGER NOT NULL DEFAULT 0,
			amount     INTEGER NOT NULL,
			ready_at   INTEGER NOT NULL,
			claimed    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (strategy, id)
		);
		CREATE TABLE withdraw_claims (
			strategy          TEXT NOT NULL,
			claim_id          INTEGER NOT NULL,
			expected_amount   INTEGER NOT NULL,
			allocation_amount INTEGER NOT NULL,
			unlock_time       INTEGER NOT NULL,
			eligible          TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			PRIMARY KEY (strategy, claim_id)
		);
		CREATE TABLE share_balances (
			strategy TEXT NOT NULL,
			user     TEXT NOT NULL,
			balance  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (strategy, user)
		);
		CREATE TABLE custody_holdings (
			strategy TEXT PRIMARY KEY,
			balance  INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE ledger_journal (
			uuid       TEXT PRIMARY KEY,
			strategy   TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			request_id INTEGER NOT NULL,
			amount     INTEGER NOT NULL,
			payload    BLOB,
			created_at TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

// stubGate marks every listed strategy as enabled
type stubGate map[string]bool

func (g stubGate) IsEnabled(address string) (bool, error) { return g[address], nil }

// setupRouter builds the full HTTP stack: auth middleware, ledger routes,
// and a service over an in-memory database.
func setupRouter(t *testing.T) http.Handler {
	db := setupTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	strat, err := strategy.NewPriceStrategy(testStrategy, strategy.PriceScale, allowAll{}, nil)
	require.NoError(t, err)

	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleRouter, auth.CallerRouter)

	repo := ledger.NewRepository(db, log)
	journal := ledger.NewJournal(db)
	shareLedger := shares.NewLedger(db, log)
	lockbox := custody.NewLockbox(db, log)

	service := ledger.NewService(
		repo, journal, shareLedger, lockbox,
		stubProvider{testStrategy: strat},
		policy, nil, log,
	)

	handler := NewHandler(service, journal, shareLedger, lockbox, nil, log)

	tokens := &auth.TokenSet{RouterToken: "router-token", ManagerToken: "manager-token"}
	r := chi.NewRouter()
	r.Use(tokens.Middleware)
	handler.RegisterRoutes(r)

	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, authorization string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object")
	return data
}

func allocationsPath(suffix string) string {
	return fmt.Sprintf("/ledger/%s/allocations%s", testStrategy, suffix)
}

func exitsPath(suffix string) string {
	return fmt.Sprintf("/ledger/%s/exits%s", testStrategy, suffix)
}

func TestRequestAllocationEndpoint(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 1000, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	assert.Equal(t, testStrategy, data["strategy"])
	assert.Equal(t, float64(1), data["id"])
	assert.NotZero(t, data["ready_at"])

	// The aggregate reflects the pending deposit right away
	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/stake-info", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, float64(1000), data["total_stake"])
	assert.Equal(t, float64(0), data["total_allocation"])
}

func TestRequestAllocationRequiresRouterToken(t *testing.T) {
	router := setupRouter(t)

	body := map[string]interface{}{"id": 1, "amount": 1000, "user": "user:alice"}

	rec := doJSON(t, router, "POST", allocationsPath(""), "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath(""), managerAuth, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath(""), "Bearer wrong-token", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestAllocationValidationErrors(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 0, "user": "user:alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 100, "user": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/ledger/strategy:unknown/allocations", routerAuth,
		map[string]interface{}{"id": 1, "amount": 100, "user": "user:alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicateRequestReturnsConflict(t *testing.T) {
	router := setupRouter(t)

	body := map[string]interface{}{"id": 5, "amount": 100, "user": "user:alice"}
	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath(""), routerAuth, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDepositLifecycleOverHTTP(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 1000, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath("/claim"), routerAuth,
		map[string]interface{}{"ids": []int64{1}, "recipient": "user:alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Claiming again conflicts
	rec = doJSON(t, router, "POST", allocationsPath("/claim"), routerAuth,
		map[string]interface{}{"ids": []int64{1}, "recipient": "user:alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/shares/user:alice", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(1000), data["balance"])

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/custody", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, custody.Address, data["custody"])
	assert.Equal(t, float64(1000), data["holdings"])
}

func TestExitLifecycleOverHTTP(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 1000, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, "POST", allocationsPath("/claim"), routerAuth,
		map[string]interface{}{"ids": []int64{1}, "recipient": "user:alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", exitsPath(""), routerAuth,
		map[string]interface{}{"id": 2, "allocation": 400, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, float64(2), data["claim_id"])

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/claims?ids=2", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	claims := data["claims"].([]interface{})
	require.Len(t, claims, 1)
	claim := claims[0].(map[string]interface{})
	assert.Equal(t, float64(400), claim["allocation_amount"])
	assert.Equal(t, "user:alice", claim["eligible"])

	rec = doJSON(t, router, "POST", exitsPath("/claim"), routerAuth,
		map[string]interface{}{"claim_ids": []int64{2}, "recipient": "user:alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Settled claims disappear from the query surface
	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/claims?ids=2", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	claims = data["claims"].([]interface{})
	require.Len(t, claims, 1)
	claim = claims[0].(map[string]interface{})
	assert.Equal(t, float64(0), claim["allocation_amount"])
	assert.Equal(t, "", claim["eligible"])
}

func TestRefundDepositEndpoint(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 500, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath("/1/refund"), routerAuth,
		map[string]interface{}{"user": "user:bob"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "POST", allocationsPath("/1/refund"), routerAuth,
		map[string]interface{}{"user": "user:alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/stake-info", testStrategy), "", nil)
	data := decodeData(t, rec)
	assert.Equal(t, float64(0), data["total_stake"])
}

func TestGetRequestsBatchEndpoint(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 100, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/requests?ids=1,2", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)

	requests := data["requests"].([]interface{})
	require.Len(t, requests, 2)

	first := requests[0].(map[string]interface{})
	assert.Equal(t, "user:alice", first["user"])
	assert.Equal(t, float64(100), first["amount"])
	assert.Equal(t, true, first["claimable"])

	// The unknown id comes back as a zero-valued row at its index
	second := requests[1].(map[string]interface{})
	assert.Equal(t, "", second["user"])
	assert.Equal(t, float64(0), second["amount"])
	assert.Equal(t, false, second["claimable"])

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/requests?ids=1,nope", testStrategy), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJournalEndpoint(t *testing.T) {
	router := setupRouter(t)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 100, "user": "user:alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/journal", testStrategy), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)

	entries := data["entries"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, "DEPOSIT_REQUESTED", entry["entry_type"])
	assert.Equal(t, float64(100), entry["amount"])
	assert.Equal(t, "user:alice", entry["user"])

	_, err := time.Parse(time.RFC3339, entry["created_at"].(string))
	assert.NoError(t, err)
}

func TestDisabledStrategyRejectsMutations(t *testing.T) {
	db := setupTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	strat, err := strategy.NewPriceStrategy(testStrategy, strategy.PriceScale, allowAll{}, nil)
	require.NoError(t, err)

	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleRouter, auth.CallerRouter)

	repo := ledger.NewRepository(db, log)
	journal := ledger.NewJournal(db)
	shareLedger := shares.NewLedger(db, log)
	lockbox := custody.NewLockbox(db, log)
	service := ledger.NewService(
		repo, journal, shareLedger, lockbox,
		stubProvider{testStrategy: strat},
		policy, nil, log,
	)

	gate := stubGate{testStrategy: false}
	handler := NewHandler(service, journal, shareLedger, lockbox, gate, log)

	tokens := &auth.TokenSet{RouterToken: "router-token", ManagerToken: "manager-token"}
	router := chi.NewRouter()
	router.Use(tokens.Middleware)
	handler.RegisterRoutes(router)

	rec := doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 100, "user": "user:alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, "POST", exitsPath(""), routerAuth,
		map[string]interface{}{"id": 2, "allocation": 100, "user": "user:alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Reads stay open for disabled strategies
	rec = doJSON(t, router, "GET", fmt.Sprintf("/ledger/%s/stake-info", testStrategy), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Re-enabling lifts the gate
	gate[testStrategy] = true
	rec = doJSON(t, router, "POST", allocationsPath(""), routerAuth,
		map[string]interface{}{"id": 1, "amount": 100, "user": "user:alice"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRouteIntegration(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		body   interface{}
		status int
	}{
		{"stake info is public", "GET", fmt.Sprintf("/ledger/%s/stake-info", testStrategy), "", nil, http.StatusOK},
		{"share balance is public", "GET", fmt.Sprintf("/ledger/%s/shares/user:alice", testStrategy), "", nil, http.StatusOK},
		{"custody is public", "GET", fmt.Sprintf("/ledger/%s/custody", testStrategy), "", nil, http.StatusOK},
		{"journal is public", "GET", fmt.Sprintf("/ledger/%s/journal", testStrategy), "", nil, http.StatusOK},
		{"empty batch query", "GET", fmt.Sprintf("/ledger/%s/requests", testStrategy), "", nil, http.StatusOK},
		{"unknown request is zero-valued", "GET", fmt.Sprintf("/ledger/%s/requests/99", testStrategy), "", nil, http.StatusOK},
		{"bad request id", "GET", fmt.Sprintf("/ledger/%s/requests/nope", testStrategy), "", nil, http.StatusBadRequest},
		{"mutations need a role", "POST", allocationsPath(""), "", map[string]interface{}{"id": 1, "amount": 1, "user": "u"}, http.StatusForbidden},
		{"invalid body", "POST", allocationsPath(""), routerAuth, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.auth, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

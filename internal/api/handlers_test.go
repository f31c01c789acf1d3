package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/auth"
	"github.com/xtrntr/memestream/internal/broadcast"
	"github.com/xtrntr/memestream/internal/chain"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/platform"
)

const testContract = "0x00000000000000000000000000000000000000c1"

type fakeOracle struct {
	mu  sync.Mutex
	txs map[string]*chain.Transaction
	at  map[uint64]time.Time
}

func (f *fakeOracle) GetTransaction(_ context.Context, hash string) (*chain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.txs[hash]; ok {
		return tx, nil
	}
	return nil, chain.ErrNotFound
}

func (f *fakeOracle) GetBlock(_ context.Context, n uint64) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.at[n]; ok {
		return &chain.Block{Number: n, Timestamp: ts}, nil
	}
	return nil, chain.ErrNotFound
}

func (f *fakeOracle) mine(sender string, ts time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := uint64(len(f.txs) + 1)
	hash := fmt.Sprintf("0x%064x", n)
	f.txs[hash] = &chain.Transaction{Hash: hash, Sender: strings.ToLower(sender), BlockNumber: n}
	f.at[n] = ts
	return hash
}

type testServer struct {
	router http.Handler
	oracle *fakeOracle
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	store := db.NewMemoryStore()
	oracle := &fakeOracle{txs: map[string]*chain.Transaction{}, at: map[uint64]time.Time{}}
	svc := platform.NewService(store,
		auth.NewAuthService(store, "test-secret"),
		chain.NewVerifier(oracle),
		broadcast.Nop{},
	)
	handler := NewHandler(svc, zerolog.Nop())

	r := chi.NewRouter()
	r.Mount("/api/v1", handler.Routes(limiter))
	return &testServer{router: r, oracle: oracle}
}

func (s *testServer) do(t *testing.T, method, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

// connect signs in a fresh wallet and returns its address and session
func (s *testServer) connect(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := "Sign in to memestream"
	sig, err := crypto.Sign(auth.TextHash(message), key)
	require.NoError(t, err)

	rr := s.do(t, http.MethodPost, "/auth/connect-wallet", "", map[string]string{
		"address":   address,
		"message":   message,
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Token     string `json:"token"`
		IsNewUser bool   `json:"is_new_user"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.IsNewUser)
	return strings.ToLower(address), resp.Token
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestHandler_ConnectWallet(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.connect(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(auth.TextHash("hello"), other)
	require.NoError(t, err)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedKind   apperr.Kind
	}{
		{
			name: "signature from another key",
			body: map[string]string{
				"address":   crypto.PubkeyToAddress(key.PublicKey).Hex(),
				"message":   "hello",
				"signature": hexutil.Encode(sig),
			},
			expectedStatus: http.StatusUnauthorized,
			expectedKind:   apperr.InvalidSignature,
		},
		{
			name:           "missing fields",
			body:           map[string]string{"address": "0x1"},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   apperr.InvalidInput,
		},
		{
			name:           "not json",
			body:           "{",
			expectedStatus: http.StatusBadRequest,
			expectedKind:   apperr.InvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := srv.do(t, http.MethodPost, "/auth/connect-wallet", "", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedKind, decodeError(t, rr).Kind)
		})
	}
}

func TestHandler_ProtectedRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name    string
		method  string
		path    string
		session string
		want    apperr.Kind
	}{
		{"trade without session", http.MethodPost, "/trades", "", apperr.Unauthenticated},
		{"token without session", http.MethodPost, "/tokens/new", "", apperr.Unauthenticated},
		{"rename with garbage session", http.MethodPut, "/auth/user/username", "not-a-jwt", apperr.Unauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := srv.do(t, tt.method, tt.path, tt.session, map[string]string{})
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, tt.want, decodeError(t, rr).Kind)
		})
	}
}

func TestHandler_TradeFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	address, session := srv.connect(t)

	rr := srv.do(t, http.MethodPost, "/tokens/new", session, map[string]any{
		"contract_address": testContract,
		"name":             "Memestream Token",
		"symbol":           "MEME",
		"total_supply":     "1000",
		"price":            "2",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = srv.do(t, http.MethodPost, "/tokens/new", session, map[string]any{
		"contract_address": testContract,
		"name":             "Again",
		"symbol":           "AGN",
		"total_supply":     "1",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	hash := srv.oracle.mine(address, time.Now().Add(-5*time.Second))
	trade := map[string]any{"token_id": testContract, "type": "buy", "amount": "25", "tx_hash": hash}
	rr = srv.do(t, http.MethodPost, "/trades", session, trade)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var view struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
		Price  string `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "buy", view.Type)
	assert.Equal(t, "25", view.Amount)
	assert.Equal(t, "2", view.Price)

	// replay of the same transaction
	rr = srv.do(t, http.MethodPost, "/trades", session, trade)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apperr.DuplicateTransaction, decodeError(t, rr).Kind)

	stale := srv.oracle.mine(address, time.Now().Add(-time.Hour))
	rr = srv.do(t, http.MethodPost, "/trades", session, map[string]any{"token_id": testContract, "type": "sell", "amount": "1", "tx_hash": stale})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperr.StaleTransaction, decodeError(t, rr).Kind)

	rr = srv.do(t, http.MethodGet, "/portfolio/"+address, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var portfolio struct {
		Portfolio []struct {
			Balance string `json:"balance"`
			Value   string `json:"value"`
		} `json:"portfolio"`
		Memestreams []struct {
			Holders int `json:"holders"`
		} `json:"memestreams"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &portfolio))
	require.Len(t, portfolio.Portfolio, 1)
	assert.Equal(t, "25", portfolio.Portfolio[0].Balance)
	assert.Equal(t, "50", portfolio.Portfolio[0].Value)
	require.Len(t, portfolio.Memestreams, 1)
	assert.Equal(t, 1, portfolio.Memestreams[0].Holders)

	rr = srv.do(t, http.MethodGet, "/tokens/"+testContract+"/holders", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), address)

	rr = srv.do(t, http.MethodGet, "/tokens/"+testContract+"/chart?bucket=1h", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var bars []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &bars))
	assert.Len(t, bars, 1)

	rr = srv.do(t, http.MethodGet, "/tokens/"+testContract+"/chart?bucket=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = srv.do(t, http.MethodGet, "/trades/recent/"+testContract, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"transactions"`)
	assert.Contains(t, rr.Body.String(), hash)

	rr = srv.do(t, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"total_volume":"50","total_trades":1,"total_users":1}`, rr.Body.String())

	rr = srv.do(t, http.MethodGet, "/tokens/filter?category=mostVolume&timeframe=24h", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), testContract)

	rr = srv.do(t, http.MethodGet, "/tokens", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"market_cap":"2000"`)

	rr = srv.do(t, http.MethodGet, "/tokens/0x00000000000000000000000000000000000000ff", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperr.TokenNotFound, decodeError(t, rr).Kind)

	rr = srv.do(t, http.MethodPut, "/auth/user/username", session, map[string]string{"address": address, "username": "degen"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"degen"`)
}

func TestHandler_RateLimit(t *testing.T) {
	srv := newTestServer(t, NewRateLimiter(0.001, 2))

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/stats", "", nil).Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/stats", "", nil).Code)

	rr := srv.do(t, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, apperr.RateLimited, decodeError(t, rr).Kind)
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	h := NewHandler(nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rr := httptest.NewRecorder()
	h.writeError(rr, req, errors.New("pq: password authentication failed for user admin"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error","kind":"Internal"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.writeError(rr, req, fmt.Errorf("submit: %w", apperr.ErrSenderMismatch))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperr.SenderMismatch, decodeError(t, rr).Kind)
}

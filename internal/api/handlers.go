package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/chart"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/platform"
)

type contextKey string

const sessionKey contextKey = "session"

// Handler binds platform operations to HTTP endpoints
type Handler struct {
	Service *platform.Service
	logger  zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *platform.Service, log zerolog.Logger) *Handler {
	return &Handler{Service: svc, logger: logger.WithComponent(log, "api")}
}

// ConnectWallet verifies a signed message and returns a session
func (h *Handler) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Service.Authenticate(r.Context(), req.Address, req.Message, req.Signature)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdateUsername renames the session's wallet
func (h *Handler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address  string `json:"address"`
		Username string `json:"username"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	wallet, err := h.Service.RenameWallet(r.Context(), session(r), req.Address, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// CreateToken registers a token for the session's wallet
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req platform.TokenInput
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.Service.CreateToken(r.Context(), session(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

// ListNewTokens returns the newest tokens
func (h *Handler) ListNewTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.Service.ListNewTokens(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// FilterTokens lists tokens by ?category= and ?timeframe=
func (h *Handler) FilterTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokens, err := h.Service.FilterTokens(r.Context(), q.Get("category"), q.Get("timeframe"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// GetToken returns the token page
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	details, err := h.Service.GetTokenDetails(r.Context(), chi.URLParam(r, "contract"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetHolders returns the token's holder ranking
func (h *Handler) GetHolders(w http.ResponseWriter, r *http.Request) {
	holders, err := h.Service.GetHolders(r.Context(), chi.URLParam(r, "contract"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holders)
}

// GetChart returns OHLC bars at ?bucket= (default 5m)
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	bucket, err := chart.ParseBucket(r.URL.Query().Get("bucket"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	bars, err := h.Service.GetChart(r.Context(), chi.URLParam(r, "contract"), bucket)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

// SubmitTrade records a verified on-chain trade
func (h *Handler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req platform.TradeInput
	if !h.decode(w, r, &req) {
		return
	}

	trade, err := h.Service.SubmitTrade(r.Context(), session(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// RecentTrades returns a token's newest trades
func (h *Handler) RecentTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.Service.RecentTrades(r.Context(), chi.URLParam(r, "contract"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": trades})
}

// GetPortfolio returns a wallet's replayed positions
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := h.Service.GetPortfolio(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// GetStats returns platform totals
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetPlatformStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// JWTAuthMiddleware rejects requests without a valid bearer session
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			h.writeError(w, r, apperr.New(apperr.Unauthenticated, "authorization header required"))
			return
		}
		tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))

		if _, err := h.Service.ValidateSession(tokenString); err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func session(r *http.Request) string {
	s, _ := r.Context().Value(sessionKey).(string)
	return s
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
		return false
	}
	return true
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

// writeError renders err with the status of its kind. Unclassified errors
// are logged and rendered without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	msg := "internal server error"
	var appErr *apperr.Error
	if kind != apperr.Internal && errors.As(err, &appErr) {
		msg = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("kind", string(kind)).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

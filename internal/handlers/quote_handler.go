package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/linabrihoum/microcap-trader/internal/domain"
	"github.com/linabrihoum/microcap-trader/internal/manager"
	"github.com/linabrihoum/microcap-trader/internal/middleware"
)

// QuoteHandler exposes the cache manager over HTTP for monitoring and
// ad-hoc inspection.
type QuoteHandler struct {
	manager *manager.Manager
	logger  *zap.Logger
}

// NewQuoteHandler creates a new quote handler
func NewQuoteHandler(m *manager.Manager, logger *zap.Logger) *QuoteHandler {
	return &QuoteHandler{
		manager: m,
		logger:  logger,
	}
}

// GetQuote handles GET /quotes/{symbol}?use_case=research
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		h.respondError(w, http.StatusBadRequest, "symbol parameter is required", requestID)
		return
	}

	var quote *domain.Quote
	var ok bool

	switch domain.UseCase(r.URL.Query().Get("use_case")) {
	case domain.UseCaseActivePosition:
		quote, ok = h.manager.ForTrading(ctx, symbol)
	case domain.UseCaseWatchlist:
		quote, ok = h.manager.ForWatchlist(ctx, symbol)
	case domain.UseCaseHistorical:
		quote, ok = h.manager.ForHistorical(ctx, symbol)
	default:
		quote, ok = h.manager.ForAnalysis(ctx, symbol)
	}

	if !ok {
		h.logger.Warn("no data for symbol",
			zap.String("request_id", requestID),
			zap.String("symbol", symbol),
		)
		h.respondError(w, http.StatusNotFound, "no data available for symbol", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, quote, requestID)
}

// GetStats handles GET /stats
func (h *QuoteHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	h.respondJSON(w, http.StatusOK, h.manager.Stats(), requestID)
}

// InvalidateQuote handles DELETE /quotes/{symbol}
func (h *QuoteHandler) InvalidateQuote(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		h.respondError(w, http.StatusBadRequest, "symbol parameter is required", requestID)
		return
	}

	removed := h.manager.Invalidate(symbol, "manual")
	h.respondJSON(w, http.StatusOK, map[string]bool{"removed": removed}, requestID)
}

// respondJSON writes a JSON response
func (h *QuoteHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError writes a JSON error response
func (h *QuoteHandler) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}

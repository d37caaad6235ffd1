package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarlabs/goods-engine/internal/ledger"
	"github.com/bazaarlabs/goods-engine/internal/model"
	"github.com/bazaarlabs/goods-engine/internal/store"
)

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	Owner  string `json:"owner"`
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"` // "buy", "sell", or "withdraw"
	Amount int64  `json:"amount"`
}

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	var receipt *model.TradeReceipt
	var err error
	switch req.Kind {
	case model.KindBuy:
		receipt, err = s.Buy(ctx, req.Owner, req.Symbol, req.Amount)
	case model.KindSell:
		receipt, err = s.Sell(ctx, req.Owner, req.Symbol, req.Amount)
	case model.KindWithdraw:
		receipt, err = s.Withdraw(ctx, req.Owner, req.Symbol, req.Amount)
	default:
		writeError(w, "kind must be buy, sell, or withdraw", http.StatusBadRequest)
		return
	}

	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// ListItems handles GET /api/v1/items.
func (s *Service) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems(r.Context())
	if err != nil {
		writeError(w, "failed to list items", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.MarketItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetItem handles GET /api/v1/items/{symbol}.
func (s *Service) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, "item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// GetPrice handles GET /api/v1/items/{symbol}/price.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, "item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol": item.Symbol,
		"price":  item.CurrentPrice.String(),
	})
}

// GetHistory handles GET /api/v1/items/{symbol}/history?limit=N.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	points, err := s.store.GetHistory(r.Context(), chi.URLParam(r, "symbol"), limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "item not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// GetHoldings handles GET /api/v1/holdings/{owner}.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.ledger.ListAll(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = map[string]model.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetReceipts handles GET /api/v1/receipts/{owner}.
func (s *Service) GetReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.store.ListReceiptsByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "failed to load receipts", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []model.TradeReceipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// statusFor maps operation failures to specific HTTP statuses so the
// request layer can report a clear reason, not a generic error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrCapacityExceeded),
		errors.Is(err, ErrNoHolding),
		errors.Is(err, ErrItemDisabled):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

package web

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/gateway"
	"go.uber.org/zap"
)

// balanceEntry and tickerEntry are entries of an "all" answer: a value or an
// error, never both.
type balanceEntry struct {
	Balances []domain.Balance `json:"balances,omitempty"`
	Error    *errorBody       `json:"error,omitempty"`
}

type tickerEntry struct {
	Ticker *domain.Ticker `json:"ticker,omitempty"`
	Error  *errorBody     `json:"error,omitempty"`
}

// exchangeParam reads the exchange path segment. "primary" addresses the
// currently selected primary adapter.
func exchangeParam(r *http.Request) domain.ExchangeID {
	return primaryAlias(domain.ParseExchangeID(r.PathValue("exchange")))
}

func primaryAlias(id domain.ExchangeID) domain.ExchangeID {
	if id == "primary" {
		return ""
	}
	return id
}

func errorOf(err error) *errorBody {
	if err == nil {
		return nil
	}
	b := describe(err)
	return &b
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Status())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := exchangeParam(r)
	if id == domain.AllExchanges {
		results := s.gw.GetAggregatedBalance(r.Context())
		out := make(map[domain.ExchangeID]balanceEntry, len(results))
		for ex, res := range results {
			out[ex] = balanceEntry{Balances: res.Value, Error: errorOf(res.Err)}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	balances, err := s.gw.GetBalance(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if balances == nil {
		balances = []domain.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	id := exchangeParam(r)
	symbol := r.PathValue("symbol")

	if id == domain.AllExchanges {
		results, err := s.gw.GetTickerAll(r.Context(), symbol)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tickerEntries(results, symbol))
		return
	}

	t, err := s.gw.GetTicker(r.Context(), id, symbol)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if t == nil {
		s.fail(w, r, notListed(id, symbol))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func notListed(id domain.ExchangeID, symbol string) error {
	return domain.NewError(domain.KindNotFound, id, "get ticker", errors.Errorf("symbol %s is not listed", symbol))
}

func tickerEntries(results map[domain.ExchangeID]gateway.Result[*domain.Ticker], symbol string) map[domain.ExchangeID]tickerEntry {
	out := make(map[domain.ExchangeID]tickerEntry, len(results))
	for ex, res := range results {
		switch {
		case res.Err != nil:
			out[ex] = tickerEntry{Error: errorOf(res.Err)}
		case res.Value == nil:
			out[ex] = tickerEntry{Error: errorOf(notListed(ex, symbol))}
		default:
			out[ex] = tickerEntry{Ticker: res.Value}
		}
	}
	return out
}

type orderRequest struct {
	Exchange      domain.ExchangeID   `json:"exchange"`
	Symbol        string              `json:"symbol"`
	Side          domain.Side         `json:"side"`
	Type          domain.OrderType    `json:"type"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	ClientOrderID string              `json:"client_order_id,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, domain.NewError(domain.KindInvalidRequest, "", "decode order", err))
		return
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
		if req.Price.Valid {
			req.Type = domain.OrderTypeLimit
		}
	}

	order, err := s.gw.CreateOrder(r.Context(), primaryAlias(domain.ParseExchangeID(string(req.Exchange))), domain.OrderParams{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := exchangeParam(r)
	ok, err := s.gw.CancelOrder(r.Context(), id, r.PathValue("symbol"), r.PathValue("orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

type restartResponse struct {
	Health  domain.AdapterHealth `json:"health"`
	Primary domain.ExchangeID    `json:"primary,omitempty"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := exchangeParam(r)
	h, primary, err := s.gw.RestartAdapter(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restartResponse{Health: h, Primary: primary})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", status), zap.Error(err))
	}
	writeError(w, err)
}

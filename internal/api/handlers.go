package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"strikebot/internal/bus"
	"strikebot/internal/ledger"
	"strikebot/internal/trade"
	"strikebot/pkg/types"
)

// TradeOpener is the initiator surface: open requests and the close path.
type TradeOpener interface {
	Open(ctx context.Context, req trade.OpenRequest) (*ledger.Trade, error)
	CloseTrade(ctx context.Context, tradeID int64, sellPrice decimal.Decimal, method string) error
}

// TradeManager is the manager surface the notification endpoints drive.
type TradeManager interface {
	Reconcile(ctx context.Context)
	SetError(ctx context.Context, id int64, reason string)
}

// TradeReader is the ledger slice behind GET /trades.
type TradeReader interface {
	TradesByStatus(status types.TradeStatus) ([]ledger.Trade, error)
	RecentTrades(limit int) ([]ledger.Trade, error)
}

// recentTradesLimit caps an unfiltered GET /trades response.
const recentTradesLimit = 200

// Handlers holds the endpoint dependencies.
type Handlers struct {
	opener TradeOpener
	mgr    TradeManager
	trades TradeReader
	events *bus.Bus
	logger *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(opener TradeOpener, mgr TradeManager, trades TradeReader, events *bus.Bus, logger *slog.Logger) *Handlers {
	return &Handlers{
		opener: opener,
		mgr:    mgr,
		trades: trades,
		events: events,
		logger: logger.With("component", "api-handlers"),
	}
}

// TradeRequest is the body of POST /trades. Intent selects the open or close
// path; close requests carry trade_id and sell_price instead of the entry
// fields.
type TradeRequest struct {
	Intent string `json:"intent"` // "open" (default) or "close"

	Strike      float64 `json:"strike"`
	Side        string  `json:"side"`
	Ticker      string  `json:"ticker"`
	BuyPrice    float64 `json:"buy_price"`
	Prob        float64 `json:"prob"`
	Position    int     `json:"position"`
	EntryMethod string  `json:"entry_method"`

	TradeID     int64   `json:"trade_id"`
	SellPrice   float64 `json:"sell_price"`
	CloseMethod string  `json:"close_method"`
}

// HandleTrades serves POST /trades (create) and GET /trades?status= (read).
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createTrade(w, r)
	case http.MethodGet:
		h.listTrades(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) createTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	if req.Intent == string(types.IntentClose) {
		method := req.CloseMethod
		if method == "" {
			method = "manual"
		}
		err := h.opener.CloseTrade(r.Context(), req.TradeID, decimal.NewFromFloat(req.SellPrice), method)
		if err != nil {
			h.logger.Error("close request rejected", "trade", req.TradeID, "error", err)
			status := http.StatusBadRequest
			if errors.Is(err, ledger.ErrNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, map[string]string{"message": "Close ticket received"})
		return
	}

	entry := types.EntryMethod(req.EntryMethod)
	if entry == "" {
		entry = types.EntryManual
	}
	row, err := h.opener.Open(r.Context(), trade.OpenRequest{
		Strike:      req.Strike,
		Side:        types.Side(req.Side),
		Ticker:      req.Ticker,
		BuyPrice:    decimal.NewFromFloat(req.BuyPrice),
		Prob:        req.Prob,
		Position:    req.Position,
		EntryMethod: entry,
	})
	if err != nil {
		h.logger.Error("open request rejected", "ticker", req.Ticker, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]int64{"id": row.ID})
}

func (h *Handlers) listTrades(w http.ResponseWriter, r *http.Request) {
	var (
		rows []ledger.Trade
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		rows, err = h.trades.TradesByStatus(types.TradeStatus(status))
	} else {
		rows, err = h.trades.RecentTrades(recentTradesLimit)
	}
	if err != nil {
		h.logger.Error("list trades", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

// UpdateTradeStatusRequest is the executor → manager callback body.
type UpdateTradeStatusRequest struct {
	TradeID int64  `json:"trade_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// HandleUpdateTradeStatus serves POST /api/update_trade_status. Only the
// error transition is accepted here; all other transitions are owned by the
// manager's own reconciliation and are logged as no-ops.
func (h *Handlers) HandleUpdateTradeStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateTradeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	if req.Status != string(types.StatusError) {
		h.logger.Warn("ignoring externally pushed status",
			"trade", req.TradeID, "status", req.Status)
		writeJSON(w, map[string]string{"message": "ignored"})
		return
	}

	h.mgr.SetError(r.Context(), req.TradeID, req.Reason)
	writeJSON(w, map[string]string{"message": "ok"})
}

// HandlePositionsUpdated serves POST /api/positions_updated: the account-sync
// trigger for pending/closing reconciliation.
func (h *Handlers) HandlePositionsUpdated(w http.ResponseWriter, r *http.Request) {
	var note bus.PositionsUpdatedNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if note.Database != "positions" && note.Database != "fills" {
		http.Error(w, "unknown database", http.StatusBadRequest)
		return
	}

	h.mgr.Reconcile(r.Context())
	writeJSON(w, map[string]string{"message": "ok"})
}

// HandleTradeManagerNotification serves POST /api/trade_manager_notification:
// trade transitions arriving from an out-of-process manager are republished
// on the local bus, where the active-trade supervisor picks them up.
func (h *Handlers) HandleTradeManagerNotification(w http.ResponseWriter, r *http.Request) {
	var note bus.TradeManagerNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	h.events.Publish(bus.EventTradeChanged, bus.TradeChanged{
		TradeID:  note.TradeID,
		TicketID: note.TicketID,
		Status:   note.Status,
	})
	writeJSON(w, map[string]string{"message": "ok"})
}

// HandleNotifyDbChange serves POST /api/notify_db_change.
func (h *Handlers) HandleNotifyDbChange(w http.ResponseWriter, r *http.Request) {
	var note bus.DbChangeNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	h.events.Publish(bus.EventDbChanged, bus.DbChanged{
		DB:      note.DBName,
		Summary: note.ChangeData,
	})
	writeJSON(w, map[string]string{"message": "ok"})
}

// HandleNotifyAutomatedTrade serves POST /api/notify_automated_trade.
func (h *Handlers) HandleNotifyAutomatedTrade(w http.ResponseWriter, r *http.Request) {
	var note bus.AutomatedTradeNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	h.logger.Info("automated trade announced",
		"ticket", note.TicketID, "strike", note.Strike, "side", note.Side, "prob", note.Prob)
	h.events.Publish(bus.EventDbChanged, bus.DbChanged{DB: "automated_trades", Summary: note.TicketID})
	writeJSON(w, map[string]string{"message": "ok"})
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

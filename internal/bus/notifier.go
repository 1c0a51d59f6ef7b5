package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"strikebot/internal/config"
)

// Notifier fans events out to peer components over HTTP. Each leg is
// optional (empty URL = disabled) and fire-and-forget: a failed POST is
// logged and dropped, it never propagates to the publisher.
type Notifier struct {
	http   *resty.Client
	cfg    config.NotifyConfig
	logger *slog.Logger
}

// DbChangeNotification is the body of POST /api/notify_db_change.
type DbChangeNotification struct {
	DBName     string `json:"db_name"`
	Timestamp  string `json:"timestamp"`
	ChangeData string `json:"change_data"`
}

// TradeManagerNotification is the body of POST /api/trade_manager_notification.
type TradeManagerNotification struct {
	TradeID  int64  `json:"trade_id"`
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// PositionsUpdatedNotification is the body of POST /api/positions_updated.
type PositionsUpdatedNotification struct {
	Database string `json:"database"` // "positions" or "fills"
}

// AutomatedTradeNotification is the body of POST /api/notify_automated_trade.
type AutomatedTradeNotification struct {
	TicketID string  `json:"ticket_id"`
	Strike   float64 `json:"strike"`
	Side     string  `json:"side"`
	Prob     float64 `json:"prob"`
}

// NewNotifier creates the HTTP fan-out client.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		http:   client,
		cfg:    cfg,
		logger: logger.With("component", "notifier"),
	}
}

// NotifyDbChange posts a db-change notification to the UI bus peer.
func (n *Notifier) NotifyDbChange(ctx context.Context, db, summary string) {
	n.post(ctx, n.cfg.UIBusURL, "/api/notify_db_change", DbChangeNotification{
		DBName:     db,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		ChangeData: summary,
	})
}

// NotifyTradeManager tells the active-trade supervisor about a status change.
func (n *Notifier) NotifyTradeManager(ctx context.Context, tradeID int64, ticketID, status string) {
	n.post(ctx, n.cfg.ActiveMonitorURL, "/api/trade_manager_notification", TradeManagerNotification{
		TradeID:  tradeID,
		TicketID: ticketID,
		Status:   status,
	})
}

// NotifyPositionsUpdated triggers the trade manager's reconciliation pass.
func (n *Notifier) NotifyPositionsUpdated(ctx context.Context, database string) {
	n.post(ctx, n.cfg.TradeManagerURL, "/api/positions_updated", PositionsUpdatedNotification{
		Database: database,
	})
}

// NotifyAutomatedTrade announces an auto-entry ticket to the UI bus peer.
func (n *Notifier) NotifyAutomatedTrade(ctx context.Context, note AutomatedTradeNotification) {
	n.post(ctx, n.cfg.UIBusURL, "/api/notify_automated_trade", note)
}

func (n *Notifier) post(ctx context.Context, base, path string, body any) {
	if base == "" {
		return
	}
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(base + path)
	if err != nil {
		n.logger.Warn("notification failed", "path", path, "error", err)
		return
	}
	if resp.IsError() {
		n.logger.Warn("notification rejected", "path", path, "status", resp.StatusCode())
	}
}

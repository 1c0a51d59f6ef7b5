// Package trade holds the trade lifecycle: the stateless initiator that
// mints tickets, the manager that owns the ledger state machine, and the
// executor that places broker orders.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"strikebot/pkg/types"
)

// executorTimeout bounds a single order submission; a timeout is reported as
// an error and the manager marks the trade accordingly.
const executorTimeout = 5 * time.Second

// OrderPlacer is the slice of the broker client the executor needs.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, order types.OrderRequest) (*types.OrderAck, error)
}

// Executor is the thin broker adapter. It holds no state: every ticket maps
// to exactly one market order, and both open and close tickets arrive with
// the side to buy already resolved (the initiator inverts on close).
type Executor struct {
	broker OrderPlacer
	logger *slog.Logger
}

// NewExecutor wraps the broker client.
func NewExecutor(broker OrderPlacer, logger *slog.Logger) *Executor {
	return &Executor{broker: broker, logger: logger.With("component", "executor")}
}

// Execute submits the market order for the ticket and returns the broker
// order ID once acked.
func (e *Executor) Execute(ctx context.Context, t types.Ticket) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, executorTimeout)
	defer cancel()

	req := types.OrderRequest{
		Ticker:        t.Ticker,
		ClientOrderID: t.TicketID,
		Side:          t.Side.Channel(),
		Action:        "buy",
		Type:          "market",
		Count:         t.Position,
	}

	ack, err := e.broker.CreateOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("submit order %s: %w", t.TicketID, err)
	}

	e.logger.Info("order accepted",
		"ticket", t.TicketID, "order", ack.Order.OrderID,
		"ticker", t.Ticker, "side", t.Side, "count", t.Position)
	return ack.Order.OrderID, nil
}

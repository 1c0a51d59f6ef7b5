package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"strikebot/internal/config"
	"strikebot/pkg/types"
)

func newDryRunClient() *Client {
	return &Client{
		rl:     NewRateLimiter(),
		dryRun: true,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDryRunCreateOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	ack, err := c.CreateOrder(context.Background(), types.OrderRequest{
		Ticker:        "KXBTCD-26AUG2515-T119000",
		ClientOrderID: "tk-1",
		Side:          "yes",
		Action:        "buy",
		Count:         3,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ack.Order.OrderID != "dry-run-tk-1" {
		t.Errorf("order id = %q, want the dry-run echo", ack.Order.OrderID)
	}
	if ack.Order.Status != "executed" {
		t.Errorf("status = %q, want executed", ack.Order.Status)
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		DryRun: true,
		Mode:   "prod",
		Broker: config.BrokerConfig{RESTBaseURL: "http://localhost"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := NewClient(cfg, nil, logger)
	if !c.dryRun {
		t.Error("client.dryRun should be true when config.DryRun is true")
	}
}

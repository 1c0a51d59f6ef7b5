package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"log/slog"

	"strikebot/internal/config"
	"strikebot/pkg/types"
)

// Client is the broker REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and RSA-PSS request signing.
//
// Endpoints consumed:
//   - GET  /events/{ticker}          — hourly event + strike markets
//   - GET  /portfolio/balance
//   - GET  /portfolio/positions      — cursor-paginated
//   - GET  /portfolio/fills          — cursor-paginated
//   - GET  /portfolio/orders         — cursor-paginated
//   - GET  /portfolio/settlements    — cursor-paginated
//   - POST /portfolio/orders         — order submission
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry. The base URL
// is chosen by account mode (demo|prod).
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Broker.RESTURL(cfg.Mode) + RESTPrefix).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "broker"),
	}
}

// get performs one signed GET. path excludes the REST prefix; query params
// are not part of the signature.
func (c *Client) get(ctx context.Context, bucket *TokenBucket, path string, query map[string]string, out any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	headers, err := c.auth.Headers(http.MethodGet, RESTPrefix+path)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetEvent fetches one hourly event with its strike markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (*types.EventResponse, error) {
	var out types.EventResponse
	if err := c.get(ctx, c.rl.Market, "/events/"+eventTicker, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance fetches the account balance (centi-cents).
func (c *Client) GetBalance(ctx context.Context) (*types.BalanceResponse, error) {
	var out types.BalanceResponse
	if err := c.get(ctx, c.rl.Portfolio, "/portfolio/balance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPositions fetches all market positions, following the cursor.
func (c *Client) GetPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	var all []types.BrokerPosition
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page types.PositionsResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/positions", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.MarketPositions...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetFills fetches recent fills, following the cursor.
func (c *Client) GetFills(ctx context.Context) ([]types.BrokerFill, error) {
	var all []types.BrokerFill
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page types.FillsResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/fills", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Fills...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetOrders fetches resting and recent orders, following the cursor.
func (c *Client) GetOrders(ctx context.Context) ([]types.BrokerOrder, error) {
	var all []types.BrokerOrder
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page types.OrdersResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/orders", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Orders...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// GetSettlements fetches market settlements, following the cursor.
func (c *Client) GetSettlements(ctx context.Context) ([]types.BrokerSettlement, error) {
	var all []types.BrokerSettlement
	cursor := ""
	for {
		query := map[string]string{"limit": "200"}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page types.SettlementsResponse
		if err := c.get(ctx, c.rl.Portfolio, "/portfolio/settlements", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Settlements...)
		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// CreateOrder submits one order and returns the broker's ack.
func (c *Client) CreateOrder(ctx context.Context, order types.OrderRequest) (*types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order",
			"ticker", order.Ticker, "side", order.Side, "action", order.Action, "count", order.Count)
		ack := &types.OrderAck{}
		ack.Order.OrderID = "dry-run-" + order.ClientOrderID
		ack.Order.Status = "executed"
		return ack, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/portfolio/orders"
	headers, err := c.auth.Headers(http.MethodPost, RESTPrefix+path)
	if err != nil {
		return nil, err
	}

	var ack types.OrderAck
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(order).
		SetResult(&ack).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return &ack, nil
}

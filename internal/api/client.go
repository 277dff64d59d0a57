package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/infra/auth"
)

// Client is the REST client for a remote auction.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *auth.Signer
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. signer may be nil for read-only use.
func NewClient(baseURL string, signer *auth.Signer) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: signer,
		logger: slog.Default().With("module", "auction_client"),
	}
}

// Error is a non-2xx response.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auction api error: status=%d kind=%s msg=%s", e.Status, e.Kind, e.Message)
}

// PlaceBid submits a bid of value base units.
func (c *Client) PlaceBid(ctx context.Context, value int64) (domain.Offer, error) {
	var resp offerResponse
	if err := c.call(ctx, http.MethodPost, "/v1/bids", bidRequest{Value: value}, &resp); err != nil {
		return domain.Offer{}, err
	}
	c.logger.Info("Bid placed", "value", value, "index", resp.Offer.Index)
	return resp.Offer, nil
}

// Winner returns the best offer.
func (c *Client) Winner(ctx context.Context) (domain.Offer, error) {
	var resp offerResponse
	if err := c.call(ctx, http.MethodGet, "/v1/winner", nil, &resp); err != nil {
		return domain.Offer{}, err
	}
	return resp.Offer, nil
}

// State returns the public auction state.
func (c *Client) State(ctx context.Context) (engine.StateView, error) {
	var view engine.StateView
	err := c.call(ctx, http.MethodGet, "/v1/state", nil, &view)
	return view, err
}

// Finalize closes the auction. Only the owner's signer succeeds.
func (c *Client) Finalize(ctx context.Context) (domain.Identity, error) {
	var resp struct {
		Winner domain.Identity `json:"winner"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/finalize", struct{}{}, &resp)
	return resp.Winner, err
}

// RequestPartialRefund asks for one superseded offer back. nil means nothing qualified.
func (c *Client) RequestPartialRefund(ctx context.Context) (*domain.Offer, error) {
	var resp struct {
		Refunded *offerResponse `json:"refunded"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/refunds", struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.Refunded == nil {
		return nil, nil
	}
	return &resp.Refunded.Offer, nil
}

// WithdrawPayout collects an owed payout under pull settlement.
func (c *Client) WithdrawPayout(ctx context.Context) (int64, error) {
	var resp amountResponse
	err := c.call(ctx, http.MethodPost, "/v1/payouts/withdraw", struct{}{}, &resp)
	return resp.Amount, err
}

// call handles signing, serialization and error decoding.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if method != http.MethodGet && c.signer != nil {
		c.signer.Sign(req, payload)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		return &Error{Status: resp.StatusCode, Kind: e.Error, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

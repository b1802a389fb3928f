package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to the payment provider's REST API. It verifies inbound
// payments before deposits are credited and requests payouts for
// withdrawals.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(logger *slog.Logger, baseURL, apiKey string) *Client {
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type paymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type payout struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// PaymentSucceeded reports whether the payment intent reached the
// succeeded state at the provider.
func (c *Client) PaymentSucceeded(ctx context.Context, paymentID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/payment_intents/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch payment %s: %w", paymentID, err)
	}

	var intent paymentIntent
	if err = json.Unmarshal(body, &intent); err != nil {
		return false, fmt.Errorf("failed to parse payment response: %w", err)
	}

	c.logger.InfoContext(ctx, "Payment status checked", "payment_id", paymentID, "status", intent.Status)
	return intent.Status == "succeeded", nil
}

// CreatePayout asks the provider to pay out to the user's destination and
// returns the provider's payout id. Amounts are sent in minor units.
func (c *Client) CreatePayout(ctx context.Context, amount decimal.Decimal, currency, destination string) (string, error) {
	form := url.Values{}
	form.Set("amount", amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	form.Set("currency", strings.ToLower(currency))
	form.Set("destination", destination)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/payouts", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create payout: %w", err)
	}

	var p payout
	if err = json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("failed to parse payout response: %w", err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("provider returned payout without id")
	}

	c.logger.InfoContext(ctx, "Payout created",
		"provider_payout_id", p.ID, "amount", amount.String(), "currency", currency)
	return p.ID, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return body, nil
}

package interwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

// Client performs the signed HTTP exchange with remote wallet systems.
// Every outbound call and its response is logged verbatim for audit,
// regardless of outcome.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	signer     *Signer
	systemName string
	systemURL  string
}

// NewClient creates a protocol client with a bounded request timeout.
func NewClient(logger *slog.Logger, signer *Signer, systemName, systemURL string, timeout time.Duration) *Client {
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		systemName: systemName,
		systemURL:  systemURL,
	}
}

func (c *Client) post(ctx context.Context, url string, payload any) (int, []byte, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to serialize request: %w", err)
	}

	signature, err := c.signer.Sign(payload)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ports.HeaderSignature, signature)
	req.Header.Set(ports.HeaderSourceSystem, c.systemURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Inter-wallet call failed",
			"url", url, "request", string(body), "signature", signature, "error", err)
		return 0, nil, signature, fmt.Errorf("inter-wallet call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, signature, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Info("Inter-wallet call completed",
		"url", url,
		"request", string(body),
		"signature", signature,
		"response_status", resp.StatusCode,
		"response_body", string(respBody))

	return resp.StatusCode, respBody, signature, nil
}

// SendTransfer posts a signed transfer request to the remote system.
func (c *Client) SendTransfer(ctx context.Context, systemURL string, req entities.InterWalletTransferRequest) (*entities.InterWalletTransferResponse, error) {
	status, body, _, err := c.post(ctx, systemURL+ports.TransferEndpoint, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("remote system rejected transfer: status %d, body %s", status, string(body))
	}

	var response entities.InterWalletTransferResponse
	if err = json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode transfer response: %w", err)
	}
	return &response, nil
}

// GetStatus asks the remote system for the state of a transfer by
// reference.
func (c *Client) GetStatus(ctx context.Context, systemURL, reference string) (*entities.InterWalletStatusResponse, error) {
	req := entities.InterWalletStatusRequest{Reference: reference}

	status, body, _, err := c.post(ctx, systemURL+ports.StatusEndpoint, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("remote status call failed: status %d, body %s", status, string(body))
	}

	var response entities.InterWalletStatusResponse
	if err = json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &response, nil
}

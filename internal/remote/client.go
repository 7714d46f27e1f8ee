package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crattend/internal/model"
)

// ErrOffline is returned by every call while the client is forced offline.
var ErrOffline = errors.New("remote: offline")

// Receipt is the acknowledgement returned for a delivered submission.
type Receipt struct {
	ReceiptID string `json:"receipt_id"`
	ID        string `json:"id"`
	Status    string `json:"status"`
}

// Client calls the roster and submission endpoints of the attendance service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Offline bool
}

// New creates a client with a bounded per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// FetchRoster downloads the current roster document.
func (c *Client) FetchRoster(ctx context.Context) (*model.Roster, error) {
	if c.Offline {
		return nil, ErrOffline
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/roster", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("roster service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out model.Roster
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode roster: %w", err)
	}
	return &out, nil
}

// Deliver posts a submission record.
func (c *Client) Deliver(ctx context.Context, rec model.Submission) (*Receipt, error) {
	if c.Offline {
		return nil, ErrOffline
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/submissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("submission service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Receipt
	// Some deployments answer with an empty body; the status alone is enough.
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}
	return &out, nil
}

// Health checks if the attendance service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Offline {
		return ErrOffline
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("attendance service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("attendance service unhealthy: %s", resp.Status)
	}
	return nil
}

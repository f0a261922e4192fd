// Package ticketing wraps the external support-ticket collaborator.
package ticketing

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
)

// ErrUnavailable wraps network failures, timeouts, and 5xx responses.
var ErrUnavailable = errors.New("ticketing service unavailable")

// ErrNotFound is returned when a ticket id does not exist.
var ErrNotFound = errors.New("ticket not found")

// Fields describes a new ticket.
type Fields struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Contact     string `json:"contact"`
	Channel     string `json:"channel"`
}

// Ticket is the collaborator's view of an existing ticket.
type Ticket struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Client communicates with the ticketing API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client with the given base URL and per-call timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 0},
		timeout:    timeout,
	}
}

// CreateTicket opens a support ticket and returns its id.
func (c *Client) CreateTicket(ctx context.Context, fields Fields) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshaling ticket: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tickets", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ticket creation failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("ticketing service returned an empty ticket id")
	}
	return out.ID, nil
}

// GetTicket fetches an existing ticket by id.
func (c *Client) GetTicket(ctx context.Context, id string) (Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tickets/"+id, nil)
	if err != nil {
		return Ticket{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Ticket{}, ErrNotFound
	case resp.StatusCode >= 500:
		return Ticket{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Ticket{}, fmt.Errorf("ticket lookup failed: HTTP %d", resp.StatusCode)
	}

	var t Ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Ticket{}, fmt.Errorf("decoding response: %w", err)
	}
	return t, nil
}

// Package sources provides the built-in context source adapters consumed by
// the pipeline gather phase. Each adapter performs one bounded fetch against
// an external system and returns a flat payload for the context bundle.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultAPITimeout  = 10 * time.Second
	maxResponseBody    = 1 << 20 // 1 MiB
	defaultSimilarHits = 5
)

// Ticket is the external ticketing system's view of one ticket.
type Ticket struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	URL         string `json:"url"`
}

// TicketSummary is one entry from a similar-ticket search.
type TicketSummary struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

// TicketAPIClient talks to the ticketing system's read API. It is shared by
// the ticket search and knowledge base adapters.
type TicketAPIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewTicketAPIClient creates a client for the given base URL. An empty token
// disables the Authorization header.
func NewTicketAPIClient(baseURL, token string) (*TicketAPIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ticket API base URL required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid ticket API base URL: %w", err)
	}

	return &TicketAPIClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultAPITimeout,
		},
	}, nil
}

// GetTicket fetches one ticket by ID.
func (c *TicketAPIClient) GetTicket(ctx context.Context, tenantID, ticketID string) (*Ticket, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tickets/%s?tenant=%s",
		c.baseURL, url.PathEscape(ticketID), url.QueryEscape(tenantID))

	var ticket Ticket
	if err := c.getJSON(ctx, endpoint, &ticket); err != nil {
		return nil, fmt.Errorf("fetching ticket %s: %w", ticketID, err)
	}
	return &ticket, nil
}

// SearchSimilar asks the ticketing system for tickets similar to the given
// one. The similarity ranking is computed server side.
func (c *TicketAPIClient) SearchSimilar(ctx context.Context, tenantID, ticketID string, limit int) ([]TicketSummary, error) {
	if limit <= 0 {
		limit = defaultSimilarHits
	}
	endpoint := fmt.Sprintf("%s/api/v1/tickets/%s/similar?tenant=%s&limit=%s",
		c.baseURL, url.PathEscape(ticketID), url.QueryEscape(tenantID), strconv.Itoa(limit))

	var out struct {
		Matches []TicketSummary `json:"matches"`
	}
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, fmt.Errorf("searching similar tickets for %s: %w", ticketID, err)
	}
	return out.Matches, nil
}

func (c *TicketAPIClient) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ticket API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

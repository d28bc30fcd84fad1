package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketSearchAdapter_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tickets/TKT-7/similar", r.URL.Path)
		assert.Equal(t, "acme", r.URL.Query().Get("tenant"))
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []TicketSummary{
				{ID: "TKT-3", Title: "Login page 500", Status: "resolved", Score: 0.91},
				{ID: "TKT-5", Title: "Login timeout", Status: "open", Score: 0.84},
			},
		})
	}))
	defer srv.Close()

	api, err := NewTicketAPIClient(srv.URL, "sekrit")
	require.NoError(t, err)

	adapter := NewTicketSearchAdapter(api, 5, nil)
	assert.Equal(t, "ticket_search", adapter.Name())

	payload, err := adapter.Fetch(context.Background(), "acme", "TKT-7")
	require.NoError(t, err)

	assert.Equal(t, 2, payload["matchCount"])
	tickets, ok := payload["similarTickets"].([]string)
	require.True(t, ok)
	require.Len(t, tickets, 2)
	assert.Contains(t, tickets[0], "TKT-3")
	assert.Contains(t, tickets[0], "Login page 500")
}

func TestTicketSearchAdapter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	api, err := NewTicketAPIClient(srv.URL, "")
	require.NoError(t, err)

	adapter := NewTicketSearchAdapter(api, 5, nil)
	_, err = adapter.Fetch(context.Background(), "acme", "TKT-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestTicketSearchAdapter_RespectsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	api, err := NewTicketAPIClient(srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	adapter := NewTicketSearchAdapter(api, 5, nil)
	start := time.Now()
	_, err = adapter.Fetch(ctx, "acme", "TKT-7")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewTicketAPIClient_RequiresBaseURL(t *testing.T) {
	_, err := NewTicketAPIClient("", "tok")
	require.Error(t, err)
}

func TestTicketAPIClient_GetTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tickets/TKT-9", r.URL.Path)
		json.NewEncoder(w).Encode(Ticket{
			ID:          "TKT-9",
			Title:       "Checkout broken",
			Description: "Payments fail with a gateway timeout",
			Status:      "open",
		})
	}))
	defer srv.Close()

	api, err := NewTicketAPIClient(srv.URL, "")
	require.NoError(t, err)

	ticket, err := api.GetTicket(context.Background(), "acme", "TKT-9")
	require.NoError(t, err)
	assert.Equal(t, "Checkout broken", ticket.Title)
	assert.Contains(t, ticket.Description, "gateway timeout")
}

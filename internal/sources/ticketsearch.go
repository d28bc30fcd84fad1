package sources

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
)

// TicketSearchAdapter surfaces tickets similar to the one being enhanced, so
// the synthesis prompt can reference prior occurrences of the same problem.
type TicketSearchAdapter struct {
	api    *TicketAPIClient
	limit  int
	logger *logging.Logger
}

// NewTicketSearchAdapter creates the adapter. limit <= 0 uses the default.
func NewTicketSearchAdapter(api *TicketAPIClient, limit int, logger *logging.Logger) *TicketSearchAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	if limit <= 0 {
		limit = defaultSimilarHits
	}
	return &TicketSearchAdapter{api: api, limit: limit, logger: logger.Named("ticket_search")}
}

func (a *TicketSearchAdapter) Name() string { return "ticket_search" }

// Fetch returns the top similar tickets as a flat payload.
func (a *TicketSearchAdapter) Fetch(ctx context.Context, tenantID, ticketID string) (map[string]any, error) {
	matches, err := a.api.SearchSimilar(ctx, tenantID, ticketID, a.limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]string, 0, len(matches))
	for _, m := range matches {
		summaries = append(summaries, fmt.Sprintf("%s (%s): %s", m.ID, m.Status, m.Title))
	}

	a.logger.Debug(ctx, "similar ticket search complete",
		zap.Int("matches", len(summaries)),
	)

	return map[string]any{
		"matchCount":     len(summaries),
		"similarTickets": summaries,
	}, nil
}

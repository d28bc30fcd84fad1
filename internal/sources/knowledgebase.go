package sources

import (
	"context"
	"fmt"
	"regexp"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
)

const defaultKBHits = 3

// Tenant IDs are already validated against a stricter pattern, so the
// derived collection name only needs chromem's character set.
var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// KnowledgeBaseAdapter performs semantic search over a per-tenant knowledge
// base collection. The query text is the ticket's own description, fetched
// from the ticketing system, so retrieval matches the problem being reported
// rather than the ticket identifier.
type KnowledgeBaseAdapter struct {
	db        *chromem.DB
	embedFunc chromem.EmbeddingFunc
	api       *TicketAPIClient
	hits      int
	logger    *logging.Logger
}

// NewKnowledgeBaseAdapter creates the adapter. hits <= 0 uses the default.
func NewKnowledgeBaseAdapter(db *chromem.DB, embedFunc chromem.EmbeddingFunc, api *TicketAPIClient, hits int, logger *logging.Logger) *KnowledgeBaseAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	if hits <= 0 {
		hits = defaultKBHits
	}
	return &KnowledgeBaseAdapter{
		db:        db,
		embedFunc: embedFunc,
		api:       api,
		hits:      hits,
		logger:    logger.Named("knowledge_base"),
	}
}

func (a *KnowledgeBaseAdapter) Name() string { return "knowledge_base" }

// Fetch returns the most relevant knowledge base articles for the ticket.
// A tenant with no knowledge base collection yet gets an empty article list,
// not an error.
func (a *KnowledgeBaseAdapter) Fetch(ctx context.Context, tenantID, ticketID string) (map[string]any, error) {
	ticket, err := a.api.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	query := ticket.Description
	if query == "" {
		query = ticket.Title
	}
	if query == "" {
		// Nothing to search with; an empty result is still valid context.
		return map[string]any{"articleCount": 0, "articles": []string{}}, nil
	}

	collectionName, err := kbCollectionName(tenantID)
	if err != nil {
		return nil, err
	}

	collection := a.db.GetCollection(collectionName, a.embedFunc)
	if collection == nil || collection.Count() == 0 {
		a.logger.Debug(ctx, "no knowledge base collection for tenant",
			zap.String("collection", collectionName),
		)
		return map[string]any{"articleCount": 0, "articles": []string{}}, nil
	}

	k := a.hits
	if count := collection.Count(); k > count {
		k = count
	}

	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collectionName, err)
	}

	articles := make([]string, 0, len(results))
	for _, r := range results {
		title := r.Metadata["title"]
		if title == "" {
			title = r.ID
		}
		articles = append(articles, fmt.Sprintf("%s: %s", title, r.Content))
	}

	return map[string]any{
		"articleCount": len(articles),
		"articles":     articles,
	}, nil
}

// IndexArticle writes one knowledge base article into the tenant's
// collection. Exposed for seeding and for the webhook ingress.
func (a *KnowledgeBaseAdapter) IndexArticle(ctx context.Context, tenantID, articleID, title, content string) error {
	collectionName, err := kbCollectionName(tenantID)
	if err != nil {
		return err
	}

	collection, err := a.db.GetOrCreateCollection(collectionName, nil, a.embedFunc)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", collectionName, err)
	}

	doc := chromem.Document{
		ID:       articleID,
		Content:  content,
		Metadata: map[string]string{"title": title},
	}
	if err := collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding article %s: %w", articleID, err)
	}
	return nil
}

func kbCollectionName(tenantID string) (string, error) {
	name := "kb_" + tenantID
	if !collectionNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid tenant ID for collection name: %q", tenantID)
	}
	return name, nil
}

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ppiankov/medfuse/internal/model"
)

const defaultPassageClass = "ResearchPassage"

// passageFields are the properties requested for each hit. Certainty is
// always in [0,1] regardless of the index distance metric.
var passageFields = []graphql.Field{
	{Name: "documentId"},
	{Name: "text"},
	{Name: "title"},
	{Name: "pmid"},
	{Name: "journal"},
	{Name: "year"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// WeaviateIndex searches research passages with nearVector queries
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex creates a client for the configured Weaviate URL
func NewWeaviateIndex(cfg model.VectorConfig) (*WeaviateIndex, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}

	clientCfg := weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	}
	if cfg.APIKey != "" {
		clientCfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	class := cfg.Class
	if class == "" {
		class = defaultPassageClass
	}
	return &WeaviateIndex{client: client, class: class}, nil
}

// SearchResearchPassages returns up to k passages nearest to vector
func (w *WeaviateIndex) SearchResearchPassages(ctx context.Context, vector []float32, k int) ([]model.ResearchPassage, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(passageFields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	passages, err := parsePassages(w.class, result)
	if err != nil {
		return nil, err
	}

	slog.Debug("retrieved research passages", "class", w.class, "count", len(passages))
	return passages, nil
}

type passageHit struct {
	DocumentID string          `json:"documentId"`
	Text       string          `json:"text"`
	Title      string          `json:"title"`
	PMID       json.RawMessage `json:"pmid"`
	Journal    string          `json:"journal"`
	Year       float64         `json:"year"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}

// parsePassages converts a GraphQL Get response into passages in result order.
// Hits with empty text are skipped.
func parsePassages(class string, resp *models.GraphQLResponse) ([]model.ResearchPassage, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("weaviate query error: %s", strings.Join(msgs, "; "))
	}

	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var parsed struct {
		Get map[string][]passageHit `json:"Get"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse passages: %w", err)
	}

	hits := parsed.Get[class]
	passages := make([]model.ResearchPassage, 0, len(hits))
	for _, h := range hits {
		text := strings.TrimSpace(h.Text)
		if text == "" {
			continue
		}

		p := model.ResearchPassage{
			DocumentID: h.DocumentID,
			Text:       text,
			Title:      h.Title,
			Identifier: rawIdentifier(h.PMID),
			Journal:    h.Journal,
			Year:       int(h.Year),
		}
		if p.DocumentID == "" {
			p.DocumentID = h.Additional.ID
		}
		if h.Additional.Certainty != nil {
			p.Score = clamp01(*h.Additional.Certainty)
		}
		passages = append(passages, p)
	}
	return passages, nil
}

// rawIdentifier accepts PMIDs stored as either strings or numbers
func rawIdentifier(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

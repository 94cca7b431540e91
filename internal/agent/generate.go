package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// searchQueryList is the schema instance of the query-writer call. Only
// the query list is retained; the rationale exists to steer the model.
type searchQueryList struct {
	Rationale string   `json:"rationale"`
	Query     []string `json:"query"`
}

func searchQueryListSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rationale": map[string]interface{}{"type": "string"},
			"query": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"rationale", "query"},
	}
}

// generateQueries turns the research topic into the initial set of search
// queries. A non-conformant structured result is fatal for the run: there
// is no safe default for "no queries".
func (c *Controller) generateQueries(ctx context.Context, state *State) ([]string, error) {
	topic := ResearchTopic(state.Messages)
	prompt := formatQueryWriterPrompt(state.InitialSearchQueryCount, topic, c.now())

	raw, err := c.llm.GenerateStructured(ctx, c.models.QueryGenerator, prompt, searchQueryListSchema(), 1.0)
	if err != nil {
		return nil, fmt.Errorf("query generation: %w", err)
	}

	var result searchQueryList
	if err := decodeStructured("query generation", raw, &result); err != nil {
		return nil, err
	}

	queries := dedupeQueries(result.Query)
	if len(queries) == 0 {
		return nil, &SchemaError{Component: "query generation", Err: fmt.Errorf("no queries returned")}
	}

	c.logger.Info("generated search queries",
		zap.Int("count", len(queries)),
		zap.Strings("queries", queries))
	return queries, nil
}

// dedupeQueries drops empty and repeated queries, preserving order.
func dedupeQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// researchDelta is one worker's self-contained contribution, merged into
// the shared state by the Controller after the batch barrier.
type researchDelta struct {
	searchQuery string
	resultText  string
	sources     []Source
}

// researchWorker executes one search-grounded call for a single task and
// annotates the result text with citation markers. Many workers run
// concurrently against the same run-scoped resolver; nothing else is
// shared.
func (c *Controller) researchWorker(ctx context.Context, resolver *Resolver, task WorkerTask) (researchDelta, error) {
	prompt := formatWebSearcherPrompt(task.SearchQuery, c.now())

	resp, err := c.llm.GenerateWithSearch(ctx, c.models.QueryGenerator, prompt, 0)
	if err != nil {
		return researchDelta{}, fmt.Errorf("web research task %d (%q): %w", task.ID, task.SearchQuery, err)
	}

	citations := buildCitations(resp, resolver, task.ID)
	annotated := insertCitationMarkers(resp.Text, citations)
	sources := flattenSegments(citations)

	c.logger.Debug("web research task completed",
		zap.Int("task_id", task.ID),
		zap.String("query", task.SearchQuery),
		zap.Int("citations", len(citations)),
		zap.Int("sources", len(sources)))

	return researchDelta{
		searchQuery: task.SearchQuery,
		resultText:  annotated,
		sources:     sources,
	}, nil
}

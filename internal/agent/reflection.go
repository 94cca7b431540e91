package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const summarySeparator = "\n\n---\n\n"

// reflection is the schema instance of the reflection call.
type reflection struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

func reflectionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"is_sufficient": map[string]interface{}{"type": "boolean"},
			"knowledge_gap": map[string]interface{}{"type": "string"},
			"follow_up_queries": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"is_sufficient", "knowledge_gap", "follow_up_queries"},
	}
}

// reflect judges whether the accumulated research suffices and records any
// knowledge gap plus follow-up queries on the state. The loop counter is
// incremented before the prompt is formatted so the count reads "loops
// completed including this reflection". A non-conformant structured result
// degrades to a conservative not-sufficient verdict instead of aborting,
// which bounds the blast radius to one extra loop.
func (c *Controller) reflect(ctx context.Context, state *State) error {
	state.ResearchLoopCount++

	model := state.ReasoningModel
	if model == "" {
		model = c.models.Reasoning
	}

	topic := ResearchTopic(state.Messages)
	summaries := strings.Join(state.WebResearchResults, summarySeparator)
	prompt := formatReflectionPrompt(topic, c.now(), summaries)

	raw, err := c.llm.GenerateStructured(ctx, model, prompt, reflectionSchema(), 1.0)
	if err != nil {
		return fmt.Errorf("reflection (loop %d): %w", state.ResearchLoopCount, err)
	}

	var result reflection
	if derr := decodeStructured("reflection", raw, &result); derr != nil {
		c.logger.Warn("reflection output did not conform, using conservative fallback",
			zap.Int("loop", state.ResearchLoopCount),
			zap.Error(derr))
		result = reflection{
			IsSufficient:    false,
			KnowledgeGap:    "Unable to parse structured response",
			FollowUpQueries: []string{"Need more information"},
		}
	}

	state.IsSufficient = result.IsSufficient
	state.KnowledgeGap = result.KnowledgeGap
	state.FollowUpQueries = result.FollowUpQueries
	state.NumberOfRanQueries = len(state.SearchQueries)

	c.logger.Info("reflection completed",
		zap.Int("loop", state.ResearchLoopCount),
		zap.Bool("sufficient", result.IsSufficient),
		zap.Int("follow_ups", len(result.FollowUpQueries)))
	return nil
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// emptyAnswerApology replaces an empty final generation; the finalizer
// never propagates an empty answer.
const emptyAnswerApology = "I apologize, but I encountered an issue generating the response. Please try again."

// maxSourceHints bounds the source list rendered into the answer prompt.
const maxSourceHints = 10

// fallbackSourceCount is how many leading sources are presumed relevant
// when no source matched the answer text.
const fallbackSourceCount = 5

// sourceMatcher decides which gathered sources a final answer actually
// references and rewrites short URLs back to their originals. The
// substring heuristics live behind this seam so a span-tracking
// implementation can replace them without touching the pipeline.
type sourceMatcher interface {
	match(answer string, sources []Source) (string, []Source)
}

// substringMatcher retains a source when its short URL or original URL
// appears verbatim in the answer, or when its label appears in bracket
// form. Short URLs are rewritten to the original on match.
type substringMatcher struct{}

func (substringMatcher) match(answer string, sources []Source) (string, []Source) {
	seen := make(map[string]bool)
	var unique []Source

	retain := func(s Source) {
		if !seen[s.Value] {
			seen[s.Value] = true
			unique = append(unique, s)
		}
	}

	for _, s := range sources {
		switch {
		case s.ShortURL != "" && strings.Contains(answer, s.ShortURL):
			answer = strings.ReplaceAll(answer, s.ShortURL, s.Value)
			retain(s)
		case s.Value != "" && strings.Contains(answer, s.Value):
			retain(s)
		case s.Label != "" && strings.Contains(answer, "["+s.Label+"]"):
			retain(s)
		}
	}
	return answer, unique
}

// finalize merges all research text into the answer prompt, generates the
// final answer, and reconciles citation metadata: short URLs restored,
// referenced sources deduplicated, and a synthesized Sources section when
// the answer carries no citation markers at all.
func (c *Controller) finalize(ctx context.Context, state *State) error {
	model := state.ReasoningModel
	if model == "" {
		model = c.models.Answer
	}

	topic := ResearchTopic(state.Messages)
	summaries := strings.Join(state.WebResearchResults, "\n---\n\n") + renderSourceHints(state.SourcesGathered)
	prompt := formatAnswerPrompt(c.now(), topic, summaries)

	answer, err := c.llm.GenerateText(ctx, model, prompt, 0)
	if err != nil {
		return fmt.Errorf("answer finalization: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		c.logger.Warn("final answer was empty, substituting apology")
		answer = emptyAnswerApology
	}

	answer, unique := c.matcher.match(answer, state.SourcesGathered)

	// No source matched but sources exist: presume the first few are the
	// relevant ones, and synthesize a Sources section when the answer has
	// no citation markers of any kind.
	if len(unique) == 0 && len(state.SourcesGathered) > 0 {
		unique = dedupeSources(state.SourcesGathered)
		if len(unique) > fallbackSourceCount {
			unique = unique[:fallbackSourceCount]
		}
		if !mentionsAnySource(answer) {
			answer += renderSourcesSection(unique)
		}
	}

	state.Messages = append(state.Messages, Message{Role: RoleAssistant, Content: answer})
	state.SourcesGathered = unique

	c.logger.Info("answer finalized",
		zap.Int("answer_len", len(answer)),
		zap.Int("unique_sources", len(unique)),
		zap.Int("loops", state.ResearchLoopCount))
	return nil
}

// renderSourceHints appends up to maxSourceHints gathered sources as
// contextual hints for the answer model.
func renderSourceHints(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nAvailable sources to reference:\n")
	for i, s := range sources {
		if i >= maxSourceHints {
			break
		}
		title := s.Title
		if title == "" {
			title = "Source"
		}
		url := s.ShortURL
		if url == "" {
			url = s.Value
		}
		fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, title, url)
	}
	b.WriteString("\nPlease reference these sources in your answer using the format [title](url) where appropriate.\n")
	return b.String()
}

// mentionsAnySource reports whether the answer contains any of the marker
// tokens that indicate sources are already referenced.
func mentionsAnySource(answer string) bool {
	lower := strings.ToLower(answer)
	for _, marker := range []string{"source", "reference", "[", "http"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// renderSourcesSection synthesizes a trailing Sources list.
func renderSourcesSection(sources []Source) string {
	var b strings.Builder
	b.WriteString("\n\n**Sources:**\n")
	for i, s := range sources {
		title := s.Label
		if title == "" {
			title = s.Title
		}
		if title == "" {
			title = fmt.Sprintf("Source %d", i+1)
		}
		url := s.Value
		if url == "" {
			url = s.ShortURL
		}
		if url != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, title, url)
		}
	}
	return b.String()
}

// dedupeSources drops repeated original URLs, preserving order.
func dedupeSources(sources []Source) []Source {
	seen := make(map[string]bool, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if seen[s.Value] {
			continue
		}
		seen[s.Value] = true
		out = append(out, s)
	}
	return out
}

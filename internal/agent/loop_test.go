package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"prosearch/internal/config"
	"prosearch/internal/gemini"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLLM scripts the three generation calls. Structured responses are
// consumed in call order: the first feeds query generation, the rest feed
// successive reflections.
type fakeLLM struct {
	mu sync.Mutex

	structured    []string
	structuredErr error

	searchFn  func(ctx context.Context, model, prompt string, temperature float64) (*gemini.SearchResponse, error)
	searchErr error

	text    string
	textErr error

	structuredPrompts []string
	searchPrompts     []string
	textPrompts       []string
	textModels        []string
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, model, prompt string, schema map[string]interface{}, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structuredPrompts = append(f.structuredPrompts, prompt)
	if f.structuredErr != nil {
		return "", f.structuredErr
	}
	if len(f.structured) == 0 {
		return "", fmt.Errorf("fake: structured script exhausted")
	}
	out := f.structured[0]
	f.structured = f.structured[1:]
	return out, nil
}

func (f *fakeLLM) GenerateWithSearch(ctx context.Context, model, prompt string, temperature float64) (*gemini.SearchResponse, error) {
	f.mu.Lock()
	f.searchPrompts = append(f.searchPrompts, prompt)
	fn, err := f.searchFn, f.searchErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, model, prompt, temperature)
	}
	return &gemini.SearchResponse{Text: "result for: " + prompt}, nil
}

func (f *fakeLLM) GenerateText(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textPrompts = append(f.textPrompts, prompt)
	f.textModels = append(f.textModels, model)
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Research.NumberOfInitialQueries = 3
	cfg.Research.MaxResearchLoops = 2
	return cfg
}

func newTestController(llm LLM) *Controller {
	c := NewController(testConfig(), llm, zap.NewNop())
	c.now = func() time.Time { return time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC) }
	return c
}

const queriesJSON = `{"rationale":"cover the angles","query":["q1","q2"]}`
const sufficientJSON = `{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`
const insufficientJSON = `{"is_sufficient":false,"knowledge_gap":"missing recent data","follow_up_queries":["q3","q4"]}`

func TestRun_SufficientAfterFirstLoop(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON, sufficientJSON},
		text:       "Rivers flow downhill.",
	}
	c := newTestController(llm)

	state, err := c.Run(context.Background(), NewState("why do rivers flow"))
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "q2"}, state.SearchQueries)
	assert.Equal(t, 1, state.ResearchLoopCount)
	assert.Len(t, state.WebResearchResults, 2)
	assert.Equal(t, "Rivers flow downhill.", state.FinalAnswer())
	assert.Equal(t, RoleAssistant, state.Messages[len(state.Messages)-1].Role)
}

func TestRun_MaxLoopsExhausted(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON, insufficientJSON, insufficientJSON},
		text:       "Best effort answer.",
	}
	c := newTestController(llm)

	state, err := c.Run(context.Background(), NewState("open question"))
	require.NoError(t, err)

	// Two initial queries plus one follow-up batch; the second reflection
	// hits the loop bound even though it still reports not sufficient.
	assert.Equal(t, 2, state.ResearchLoopCount)
	assert.Equal(t, []string{"q1", "q2", "q3", "q4"}, state.SearchQueries)
	assert.False(t, state.IsSufficient)
	assert.Equal(t, "Best effort answer.", state.FinalAnswer())
}

func TestRun_PerRunLoopOverride(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON, insufficientJSON},
		text:       "Answer after one loop.",
	}
	c := newTestController(llm)

	state := NewState("question")
	state.MaxResearchLoops = 1
	state, err := c.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 1, state.ResearchLoopCount)
	assert.Equal(t, []string{"q1", "q2"}, state.SearchQueries)
}

func TestRun_QueryGenerationSchemaErrorIsFatal(t *testing.T) {
	llm := &fakeLLM{structured: []string{"this is not json"}}
	c := newTestController(llm)

	_, err := c.Run(context.Background(), NewState("question"))
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "query generation", schemaErr.Component)
	assert.Empty(t, llm.searchPrompts)
}

func TestRun_ReflectionSchemaErrorFallsBack(t *testing.T) {
	// Run with loop bound 1: the garbage reflection payload degrades to a
	// not-sufficient verdict, and the bound forces finalization anyway.
	llm := &fakeLLM{
		structured: []string{queriesJSON, "###garbage###"},
		text:       "Answer.",
	}
	c := newTestController(llm)

	state := NewState("question")
	state.MaxResearchLoops = 1
	state, err := c.Run(context.Background(), state)
	require.NoError(t, err)

	assert.False(t, state.IsSufficient)
	assert.Equal(t, "Unable to parse structured response", state.KnowledgeGap)
	assert.Equal(t, "Answer.", state.FinalAnswer())
}

func TestRun_WorkerErrorAbortsRun(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON},
		searchErr:  fmt.Errorf("upstream unavailable"),
	}
	c := newTestController(llm)

	_, err := c.Run(context.Background(), NewState("question"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web research task")
	assert.Contains(t, err.Error(), "upstream unavailable")
	assert.Empty(t, llm.textPrompts)
}

func TestRun_EmptyAnswerBecomesApology(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON, sufficientJSON},
		text:       "   ",
	}
	c := newTestController(llm)

	state, err := c.Run(context.Background(), NewState("question"))
	require.NoError(t, err)
	assert.Equal(t, emptyAnswerApology, state.FinalAnswer())
}

func TestRun_ShortURLsRestoredInFinalAnswer(t *testing.T) {
	searched := func(ctx context.Context, model, prompt string, temperature float64) (*gemini.SearchResponse, error) {
		return &gemini.SearchResponse{
			Text:     "Water cycles endlessly.",
			Chunks:   []gemini.WebChunk{{URI: "https://example.org/hydrology", Title: "hydrology.org"}},
			Supports: []gemini.SupportSpan{{StartIndex: 0, EndIndex: 22, ChunkIndices: []int{0}}},
		}, nil
	}
	llm := &fakeLLM{
		structured: []string{`{"rationale":"r","query":["water cycle"]}`, sufficientJSON},
		searchFn:   searched,
	}
	c := newTestController(llm)

	// Echo a short URL in the final answer so restoration has work to do.
	llm.text = "See [hydrology](" + shortURLPrefix + "0-0)."

	state, err := c.Run(context.Background(), NewState("how does the water cycle work"))
	require.NoError(t, err)

	answer := state.FinalAnswer()
	assert.NotContains(t, answer, shortURLPrefix)
	assert.Contains(t, answer, "https://example.org/hydrology")
	require.Len(t, state.SourcesGathered, 1)
	assert.Equal(t, "https://example.org/hydrology", state.SourcesGathered[0].Value)
}

func TestRun_InitialQueryCountSeededFromConfig(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON, sufficientJSON},
		text:       "Answer.",
	}
	c := newTestController(llm)

	state, err := c.Run(context.Background(), NewState("question"))
	require.NoError(t, err)

	assert.Equal(t, 3, state.InitialSearchQueryCount)
	require.NotEmpty(t, llm.structuredPrompts)
	assert.Contains(t, llm.structuredPrompts[0], "3")
}

func TestRun_InitialTaskIDsStartAtZero(t *testing.T) {
	// Each worker grounds on a distinct URL; its task id is visible in
	// the short URL it allocates.
	searched := func(ctx context.Context, model, prompt string, temperature float64) (*gemini.SearchResponse, error) {
		query := "q1"
		if strings.Contains(prompt, "q2") {
			query = "q2"
		}
		return &gemini.SearchResponse{
			Text:     "text",
			Chunks:   []gemini.WebChunk{{URI: "https://" + query + ".example", Title: query}},
			Supports: []gemini.SupportSpan{{StartIndex: 0, EndIndex: 4, ChunkIndices: []int{0}}},
		}, nil
	}
	llm := &fakeLLM{searchFn: searched}
	c := newTestController(llm)

	state := NewState("question")
	resolver := NewResolver()
	tasks := []WorkerTask{
		{SearchQuery: "q1", ID: 0},
		{SearchQuery: "q2", ID: 1},
	}
	require.NoError(t, c.runBatch(context.Background(), state, resolver, tasks))

	require.Len(t, state.SourcesGathered, 2)
	byValue := map[string]Source{}
	for _, s := range state.SourcesGathered {
		byValue[s.Value] = s
	}
	assert.True(t, strings.HasPrefix(byValue["https://q1.example"].ShortURL, shortURLPrefix+"0-"))
	assert.True(t, strings.HasPrefix(byValue["https://q2.example"].ShortURL, shortURLPrefix+"1-"))
}

func TestRun_RequiresUserMessage(t *testing.T) {
	c := newTestController(&fakeLLM{})
	_, err := c.Run(context.Background(), &State{})
	require.Error(t, err)
}

func TestEvaluate_FollowUpTaskIDsContinueNumbering(t *testing.T) {
	c := newTestController(&fakeLLM{})
	state := &State{
		FollowUpQueries:    []string{"f1", "f2"},
		NumberOfRanQueries: 3,
		ResearchLoopCount:  1,
		MaxResearchLoops:   3,
	}

	tr := c.evaluate(state)
	require.Equal(t, transitionDispatch, tr.kind)
	require.Len(t, tr.tasks, 2)
	assert.Equal(t, WorkerTask{SearchQuery: "f1", ID: 3}, tr.tasks[0])
	assert.Equal(t, WorkerTask{SearchQuery: "f2", ID: 4}, tr.tasks[1])
	assert.Empty(t, state.FollowUpQueries)
}

func TestEvaluate_FinalizeConditions(t *testing.T) {
	c := newTestController(&fakeLLM{})

	t.Run("sufficient", func(t *testing.T) {
		state := &State{IsSufficient: true, FollowUpQueries: []string{"f"}, MaxResearchLoops: 5}
		assert.Equal(t, transitionFinalize, c.evaluate(state).kind)
	})

	t.Run("loop bound reached", func(t *testing.T) {
		state := &State{ResearchLoopCount: 2, FollowUpQueries: []string{"f"}, MaxResearchLoops: 2}
		assert.Equal(t, transitionFinalize, c.evaluate(state).kind)
	})

	t.Run("no follow-ups", func(t *testing.T) {
		state := &State{ResearchLoopCount: 1, MaxResearchLoops: 5}
		assert.Equal(t, transitionFinalize, c.evaluate(state).kind)
	})

	t.Run("config bound when no override", func(t *testing.T) {
		state := &State{ResearchLoopCount: 2, FollowUpQueries: []string{"f"}}
		assert.Equal(t, transitionFinalize, c.evaluate(state).kind)
	})
}

func TestRunBatch_DeltasAppliedInTaskOrder(t *testing.T) {
	// Workers finish in reverse dispatch order; the merged state must
	// still follow task order.
	searched := func(ctx context.Context, model, prompt string, temperature float64) (*gemini.SearchResponse, error) {
		if strings.Contains(prompt, "alpha") {
			time.Sleep(30 * time.Millisecond)
		}
		return &gemini.SearchResponse{Text: "summary: " + prompt}, nil
	}
	llm := &fakeLLM{searchFn: searched}
	c := newTestController(llm)

	state := NewState("question")
	tasks := []WorkerTask{
		{SearchQuery: "alpha", ID: 0},
		{SearchQuery: "beta", ID: 1},
	}
	require.NoError(t, c.runBatch(context.Background(), state, NewResolver(), tasks))

	assert.Equal(t, []string{"alpha", "beta"}, state.SearchQueries)
	require.Len(t, state.WebResearchResults, 2)
	assert.Contains(t, state.WebResearchResults[0], "alpha")
	assert.Contains(t, state.WebResearchResults[1], "beta")
}

func TestReflect_IncrementsLoopBeforePrompt(t *testing.T) {
	llm := &fakeLLM{structured: []string{sufficientJSON}}
	c := newTestController(llm)

	state := NewState("question")
	state.SearchQueries = []string{"q1", "q2"}
	state.WebResearchResults = []string{"r1", "r2"}

	require.NoError(t, c.reflect(context.Background(), state))
	assert.Equal(t, 1, state.ResearchLoopCount)
	assert.Equal(t, 2, state.NumberOfRanQueries)
	assert.True(t, state.IsSufficient)
}

func TestReflect_UsesReasoningModelOverride(t *testing.T) {
	llm := &fakeLLM{
		structured: []string{queriesJSON, sufficientJSON},
		text:       "Answer.",
	}
	c := newTestController(llm)

	state := NewState("question")
	state.ReasoningModel = "custom-reasoner"
	state, err := c.Run(context.Background(), state)
	require.NoError(t, err)

	// The override also routes the final answer call.
	require.NotEmpty(t, llm.textModels)
	assert.Equal(t, "custom-reasoner", llm.textModels[0])
	assert.Equal(t, "Answer.", state.FinalAnswer())
}

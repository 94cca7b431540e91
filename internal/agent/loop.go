package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prosearch/internal/config"
)

// transitionKind tags the decision taken after each reflection.
type transitionKind int

const (
	// transitionDispatch fans out another batch of research workers.
	transitionDispatch transitionKind = iota
	// transitionFinalize ends the loop and synthesizes the answer.
	transitionFinalize
)

// transition is the tagged outcome of the decision point: either finalize,
// or dispatch the given batch.
type transition struct {
	kind  transitionKind
	tasks []WorkerTask
}

// Controller drives the research state machine:
//
//	generate queries -> web research (parallel fan-out, barrier join)
//	  -> reflection -> {web research again | finalize} -> terminal message
//
// A Controller is reusable across runs; all per-run state lives in the
// State it is handed and in a run-scoped Resolver.
type Controller struct {
	models   config.ModelsConfig
	research config.ResearchConfig
	llm      LLM
	matcher  sourceMatcher
	logger   *zap.Logger
	now      func() time.Time
}

// NewController builds a Controller over the given generation collaborator.
func NewController(cfg *config.Config, llm LLM, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		models:   cfg.Models,
		research: cfg.Research,
		llm:      llm,
		matcher:  substringMatcher{},
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one full research loop over state and returns it with the
// terminal assistant message appended and SourcesGathered reduced to the
// sources the answer actually references.
func (c *Controller) Run(ctx context.Context, state *State) (*State, error) {
	if state == nil || len(state.Messages) == 0 {
		return nil, fmt.Errorf("run requires at least one user message")
	}

	// One-time fill from configuration; not re-applied on later loops.
	if state.InitialSearchQueryCount == 0 {
		state.InitialSearchQueryCount = c.research.NumberOfInitialQueries
	}

	resolver := NewResolver()

	queries, err := c.generateQueries(ctx, state)
	if err != nil {
		return nil, err
	}
	state.QueryList = queries

	tasks := make([]WorkerTask, len(queries))
	for i, q := range queries {
		tasks[i] = WorkerTask{SearchQuery: q, ID: i}
	}

	for {
		if err := c.runBatch(ctx, state, resolver, tasks); err != nil {
			return nil, err
		}
		if err := c.reflect(ctx, state); err != nil {
			return nil, err
		}

		tr := c.evaluate(state)
		if tr.kind == transitionFinalize {
			break
		}
		tasks = tr.tasks

		state.QueryList = state.QueryList[:0]
		for _, t := range tasks {
			state.QueryList = append(state.QueryList, t.SearchQuery)
		}
	}

	if err := c.finalize(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// runBatch dispatches every task concurrently and waits for the whole
// batch before returning (barrier join). Worker deltas are applied to the
// state in task order, each as a self-contained append.
func (c *Controller) runBatch(ctx context.Context, state *State, resolver *Resolver, tasks []WorkerTask) error {
	if len(tasks) == 0 {
		return nil
	}

	c.logger.Info("dispatching research batch",
		zap.Int("tasks", len(tasks)),
		zap.Int("first_id", tasks[0].ID))

	deltas := make([]researchDelta, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			delta, err := c.researchWorker(gctx, resolver, task)
			if err != nil {
				return err
			}
			deltas[i] = delta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, delta := range deltas {
		state.SearchQueries = append(state.SearchQueries, delta.searchQuery)
		state.WebResearchResults = append(state.WebResearchResults, delta.resultText)
		state.SourcesGathered = append(state.SourcesGathered, delta.sources...)
	}
	return nil
}

// evaluate implements the decision point after reflection. The run
// finalizes when the evaluator reported sufficiency, when the loop bound
// is reached, or when there is nothing left to ask; otherwise a follow-up
// batch is built with task ids continuing from the number of queries
// already issued, so ids never collide across loop iterations.
func (c *Controller) evaluate(state *State) transition {
	maxLoops := state.MaxResearchLoops
	if maxLoops == 0 {
		maxLoops = c.research.MaxResearchLoops
	}

	if state.IsSufficient || state.ResearchLoopCount >= maxLoops || len(state.FollowUpQueries) == 0 {
		return transition{kind: transitionFinalize}
	}

	tasks := make([]WorkerTask, len(state.FollowUpQueries))
	for i, q := range state.FollowUpQueries {
		tasks[i] = WorkerTask{SearchQuery: q, ID: state.NumberOfRanQueries + i}
	}
	state.FollowUpQueries = nil

	return transition{kind: transitionDispatch, tasks: tasks}
}

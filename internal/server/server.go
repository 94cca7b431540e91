// Package server exposes the research agent over HTTP: submit a question,
// get the cited answer back, and browse past runs.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prosearch/internal/agent"
	"prosearch/internal/store"
)

// Runner executes one research run to completion.
type Runner interface {
	Run(ctx context.Context, state *agent.State) (*agent.State, error)
}

// Server wires the research controller and the run store behind a gin
// router.
type Server struct {
	runner Runner
	store  *store.Store
	logger *zap.Logger
	engine *gin.Engine
}

// New builds a Server. The store may be nil, in which case runs are not
// persisted and the history endpoints report 503.
func New(runner Runner, st *store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		runner: runner,
		store:  st,
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler returns the http.Handler for the API, usable directly in tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves the API on addr until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http api listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	api := s.engine.Group("/api")
	{
		api.POST("/research", s.handleResearch)
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type researchRequest struct {
	Question          string `json:"question" binding:"required"`
	InitialQueryCount int    `json:"initial_query_count"`
	MaxLoops          int    `json:"max_loops"`
	ReasoningModel    string `json:"reasoning_model"`
}

type researchResponse struct {
	RunID     string         `json:"run_id,omitempty"`
	Answer    string         `json:"answer"`
	LoopCount int            `json:"loop_count"`
	Queries   []string       `json:"queries"`
	Sources   []agent.Source `json:"sources"`
}

func (s *Server) handleResearch(c *gin.Context) {
	var req researchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state := agent.NewState(req.Question)
	state.InitialSearchQueryCount = req.InitialQueryCount
	state.MaxResearchLoops = req.MaxLoops
	state.ReasoningModel = req.ReasoningModel

	start := time.Now()
	state, err := s.runner.Run(c.Request.Context(), state)
	if err != nil {
		s.logger.Error("research run failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("research run complete",
		zap.Int("loops", state.ResearchLoopCount),
		zap.Int("queries", len(state.SearchQueries)),
		zap.Duration("elapsed", time.Since(start)))

	resp := researchResponse{
		Answer:    state.FinalAnswer(),
		LoopCount: state.ResearchLoopCount,
		Queries:   state.SearchQueries,
		Sources:   state.SourcesGathered,
	}
	if s.store != nil {
		id, err := s.store.SaveRun(state)
		if err != nil {
			s.logger.Warn("failed to persist run", zap.Error(err))
		} else {
			resp.RunID = id
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"prosearch/internal/agent"
	"prosearch/internal/config"
	"prosearch/internal/gemini"
	"prosearch/internal/server"
	"prosearch/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "prosearch",
	Short: "prosearch - iterative web research agent",
	Long: `prosearch answers open-ended questions by researching the web.

It generates targeted search queries, fans them out to parallel research
workers backed by Google Search grounding, reflects on what came back to
find knowledge gaps, and loops until the evidence is sufficient. The
final answer carries inline citations back to the sources it used.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd answers a single question from the command line
var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Research a question and print the cited answer",
	Long: `Runs the full research loop for one question:
  1. Generate search queries from the question
  2. Research each query in parallel with search grounding
  3. Reflect on the findings and follow up on knowledge gaps
  4. Synthesize the final answer with citations

Example:
  prosearch run "What changed in the EU AI Act between draft and adoption?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

// serveCmd exposes the agent over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the research agent over HTTP",
	RunE:  runServe,
}

// historyCmd lists past runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past research runs",
	RunE:  runHistory,
}

var (
	runQueries int
	runLoops   int
	runModel   string
	serveAddr  string
	histLimit  int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "prosearch.yaml", "path to config file")

	runCmd.Flags().IntVar(&runQueries, "queries", 0, "number of initial search queries (overrides config)")
	runCmd.Flags().IntVar(&runLoops, "loops", 0, "maximum research loops (overrides config)")
	runCmd.Flags().StringVar(&runModel, "model", "", "reasoning model for reflection and the final answer")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	historyCmd.Flags().IntVar(&histLimit, "limit", 10, "number of runs to show")

	rootCmd.AddCommand(runCmd, serveCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildController loads config and wires the Gemini client into a
// research controller.
func buildController() (*agent.Controller, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	timeout, err := cfg.GeminiTimeout()
	if err != nil {
		return nil, nil, err
	}
	clientCfg := gemini.DefaultConfig(cfg.Gemini.APIKey)
	if cfg.Gemini.BaseURL != "" {
		clientCfg.BaseURL = cfg.Gemini.BaseURL
	}
	clientCfg.Timeout = timeout
	if cfg.Gemini.MaxRetries > 0 {
		clientCfg.MaxRetries = cfg.Gemini.MaxRetries
	}
	client := gemini.NewClient(clientCfg, logger)

	return agent.NewController(cfg, client, logger), cfg, nil
}

func runResearch(cmd *cobra.Command, args []string) error {
	controller, cfg, err := buildController()
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	state := agent.NewState(question)
	if runQueries > 0 {
		state.InitialSearchQueryCount = runQueries
	}
	if runLoops > 0 {
		state.MaxResearchLoops = runLoops
	}
	state.ReasoningModel = runModel

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Println(color.CyanString("Researching: %s", question))
	start := time.Now()

	state, err = controller.Run(ctx, state)
	if err != nil {
		return err
	}

	fmt.Println(color.GreenString("Done in %s (%d loops, %d queries, %d sources)",
		time.Since(start).Round(time.Second),
		state.ResearchLoopCount, len(state.SearchQueries), len(state.SourcesGathered)))
	fmt.Println()
	fmt.Println(state.FinalAnswer())

	if len(state.SourcesGathered) > 0 {
		fmt.Println()
		fmt.Println(color.CyanString("Sources:"))
		for i, src := range state.SourcesGathered {
			title := src.Title
			if title == "" {
				title = src.Value
			}
			fmt.Printf("  %d. %s\n     %s\n", i+1, title, color.HiBlackString(src.Value))
		}
	}

	st, err := store.Open(cfg.Store.DatabasePath, logger)
	if err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
		return nil
	}
	defer st.Close()
	if id, err := st.SaveRun(state); err != nil {
		logger.Warn("failed to persist run", zap.Error(err))
	} else {
		fmt.Println()
		fmt.Println(color.HiBlackString("run id: %s", id))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	controller, cfg, err := buildController()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(controller, st, logger)
	return srv.ListenAndServe(ctx, addr)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()

	if len(args) > 0 {
		run, err := st.GetRun(args[0])
		if err != nil {
			return err
		}
		fmt.Println(color.CyanString("%s", run.Topic))
		fmt.Println(color.HiBlackString("%s | %d loops | %d queries | %d sources",
			run.CreatedAt.Local().Format(time.RFC822), run.LoopCount, len(run.Queries), len(run.Sources)))
		fmt.Println()
		fmt.Println(run.Answer)
		return nil
	}

	runs, err := st.ListRuns(histLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("%s  %s  %s\n",
			color.HiBlackString(run.ID),
			run.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(run.Topic, 60))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

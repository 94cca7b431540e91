// Package agent implements the research control loop: query generation,
// parallel web research with citation resolution, reflection, and answer
// finalization over a shared per-run state.
package agent

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Source is one gathered web resource with its run-scoped short URL.
// Sources are created only by the Resolver and never mutated afterwards.
type Source struct {
	ID       int
	Label    string
	Title    string
	ShortURL string
	Value    string // original URL
}

// Citation attaches sources to a byte span of raw research text.
// Offsets are computed against the unmodified model output.
type Citation struct {
	StartIndex int
	EndIndex   int
	Segments   []Source
}

// WorkerTask is one unit of web research dispatched in a fan-out batch.
// Task ids are unique within a run: follow-up batches continue numbering
// from the count of queries already issued.
type WorkerTask struct {
	SearchQuery string
	ID          int
}

// State is the conversation state threaded through one run. It is created
// once per request, owned by the Controller, and mutated only between
// batch barriers; workers return deltas instead of writing to it.
type State struct {
	Messages []Message

	QueryList          []string // queries pending for the next fan-out
	SearchQueries      []string // every query ever issued (append-only)
	WebResearchResults []string // one entry per completed worker (append-only)
	SourcesGathered    []Source // append-only until finalization dedups it

	ResearchLoopCount  int
	IsSufficient       bool
	KnowledgeGap       string
	FollowUpQueries    []string
	NumberOfRanQueries int

	// Optional per-run overrides; zero value means "use the configured
	// default".
	InitialSearchQueryCount int
	MaxResearchLoops        int
	ReasoningModel          string
}

// NewState builds a run state from a single user question.
func NewState(question string) *State {
	return &State{
		Messages: []Message{{Role: RoleUser, Content: question}},
	}
}

// FinalAnswer returns the content of the terminal assistant message, or ""
// if the run has not finished.
func (s *State) FinalAnswer() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

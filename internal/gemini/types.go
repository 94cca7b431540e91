package gemini

// Wire types for the generateContent REST endpoint. Field casing follows
// the v1beta JSON surface.

// Content represents content in a request or response.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part represents a part of the content.
type Part struct {
	Text string `json:"text,omitempty"`
}

// GenerationConfig represents generation parameters.
type GenerationConfig struct {
	Temperature      *float64               `json:"temperature,omitempty"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

// Tool represents a tool made available to the model.
type Tool struct {
	GoogleSearch *GoogleSearch `json:"google_search,omitempty"`
}

// GoogleSearch enables Google Search grounding.
type GoogleSearch struct{}

// Request represents the generateContent API request.
type Request struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
	Tools            []Tool           `json:"tools,omitempty"`
}

// Response represents the generateContent API response.
type Response struct {
	Candidates []Candidate `json:"candidates"`
	Error      *APIError   `json:"error,omitempty"`
}

// Candidate is one generated answer with its grounding evidence.
type Candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// APIError is the error envelope returned by the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GroundingMetadata links generated text spans to web resources.
type GroundingMetadata struct {
	GroundingChunks   []GroundingChunk   `json:"groundingChunks"`
	GroundingSupports []GroundingSupport `json:"groundingSupports"`
	WebSearchQueries  []string           `json:"webSearchQueries,omitempty"`
}

// GroundingChunk references one web resource.
type GroundingChunk struct {
	Web *WebChunk `json:"web,omitempty"`
}

// WebChunk carries the resource URI and display title.
type WebChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingSupport attaches chunk references to a span of the response text.
type GroundingSupport struct {
	Segment               Segment `json:"segment"`
	GroundingChunkIndices []int   `json:"groundingChunkIndices"`
}

// Segment is a byte-offset span into the response text.
type Segment struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

// SearchResponse is the flattened result of a search-grounded call,
// consumed by the research workers.
type SearchResponse struct {
	Text     string
	Chunks   []WebChunk
	Supports []SupportSpan
}

// SupportSpan is a text span plus the chunk indices that support it.
type SupportSpan struct {
	StartIndex   int
	EndIndex     int
	ChunkIndices []int
}

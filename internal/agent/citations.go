package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"prosearch/internal/gemini"
)

// shortURLPrefix is the base of the compact per-run tokens substituted for
// long grounding URLs to save prompt tokens. Finalization reverses the
// substitution.
const shortURLPrefix = "https://vertexaisearch.cloud.google.com/id/"

// Resolver assigns run-scoped short URLs to grounding sources. The first
// resolution of a URL allocates the next id; every later resolution of the
// same URL returns the same Source, regardless of which worker asks.
// Safe under concurrent calls from parallel research workers.
type Resolver struct {
	mu    sync.Mutex
	byURL map[string]Source
	next  int
}

// NewResolver creates an empty run-scoped resolver.
func NewResolver() *Resolver {
	return &Resolver{byURL: make(map[string]Source)}
}

// Resolve returns the Source for url, allocating a short URL on first
// sight. workerID only flavors the short token of a fresh allocation; it
// never causes a second allocation for a known URL.
func (r *Resolver) Resolve(url, title string, workerID int) Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src, ok := r.byURL[url]; ok {
		return src
	}

	src := Source{
		ID:       r.next,
		Label:    sourceLabel(title),
		Title:    title,
		ShortURL: fmt.Sprintf("%s%d-%d", shortURLPrefix, workerID, r.next),
		Value:    url,
	}
	r.next++
	r.byURL[url] = src
	return src
}

// Len reports how many distinct URLs have been resolved.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byURL)
}

// sourceLabel trims a file-style title ("Document One.pdf") down to its
// display name.
func sourceLabel(title string) string {
	if idx := strings.Index(title, "."); idx > 0 {
		return title[:idx]
	}
	return title
}

// buildCitations converts grounding supports into Citation records with
// resolved sources. Supports with empty or inverted spans are dropped, as
// are chunk references that point outside the chunk list or at chunks
// without a web URI.
func buildCitations(resp *gemini.SearchResponse, resolver *Resolver, workerID int) []Citation {
	if resp == nil || len(resp.Supports) == 0 {
		return nil
	}

	citations := make([]Citation, 0, len(resp.Supports))
	for _, support := range resp.Supports {
		if support.EndIndex <= support.StartIndex {
			continue
		}

		citation := Citation{
			StartIndex: support.StartIndex,
			EndIndex:   support.EndIndex,
		}
		for _, idx := range support.ChunkIndices {
			if idx < 0 || idx >= len(resp.Chunks) {
				continue
			}
			chunk := resp.Chunks[idx]
			if chunk.URI == "" {
				continue
			}
			citation.Segments = append(citation.Segments, resolver.Resolve(chunk.URI, chunk.Title, workerID))
		}
		if len(citation.Segments) == 0 {
			continue
		}
		citations = append(citations, citation)
	}
	return citations
}

// insertCitationMarkers annotates text with bracketed markdown links at
// each citation's end offset. Insertion proceeds in descending end-index
// order so earlier insertions never invalidate later offsets; offsets are
// interpreted against the original unmodified text.
func insertCitationMarkers(text string, citations []Citation) string {
	ordered := make([]Citation, len(citations))
	copy(ordered, citations)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].EndIndex != ordered[j].EndIndex {
			return ordered[i].EndIndex > ordered[j].EndIndex
		}
		return ordered[i].StartIndex > ordered[j].StartIndex
	})

	modified := text
	for _, citation := range ordered {
		// Clamp against the original text: earlier insertions have grown
		// modified, and offsets are only meaningful in the original.
		end := citation.EndIndex
		if end > len(text) {
			end = len(text)
		}
		var marker strings.Builder
		for _, seg := range citation.Segments {
			fmt.Fprintf(&marker, " [%s](%s)", seg.Label, seg.ShortURL)
		}
		modified = modified[:end] + marker.String() + modified[end:]
	}
	return modified
}

// flattenSegments collects every resolved source across a worker's
// citations, in citation order.
func flattenSegments(citations []Citation) []Source {
	var sources []Source
	for _, citation := range citations {
		sources = append(sources, citation.Segments...)
	}
	return sources
}

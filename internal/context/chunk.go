// Package context implements the stateless RAG Context Assembler
// (spec.md §4.7): candidate collection over a chunk store, four
// selection strategies bounded by a token budget, and deterministic
// tie-breaks. Grounded in
// original_source/stateless_rag_manager.py's ContentChunk/
// ContextSummary data model and StatelessContextOptimizer's four
// optimization strategies, reworked from its async/placeholder
// candidate-search methods into a concrete, testable Go
// implementation.
package context

import (
	"time"
)

// Type is a content chunk's kind, driving the hybrid strategy's
// type_importance weight (stateless_rag_manager.py's ChunkType).
type Type string

const (
	TypeCodeFunction    Type = "code_function"
	TypeCodeClass       Type = "code_class"
	TypeCodeFile        Type = "code_file"
	TypeDocumentation   Type = "documentation"
	TypeConversation    Type = "conversation"
	TypeTaskDescription Type = "task_description"
	TypeErrorLog        Type = "error_log"
	TypeCommitMessage   Type = "commit_message"
	TypeSummary         Type = "summary"
	TypeMetaSummary     Type = "meta_summary"
)

// typeImportance is the hybrid strategy's type_importance weight
// (stateless_rag_manager.py's type_weights, exact values).
var typeImportance = map[Type]float64{
	TypeCodeFunction:    1.0,
	TypeCodeClass:       0.9,
	TypeTaskDescription: 0.8,
	TypeErrorLog:        0.8,
	TypeDocumentation:   0.7,
	TypeConversation:    0.6,
	TypeSummary:         0.5,
	TypeCodeFile:        0.4,
	TypeCommitMessage:   0.3,
	TypeMetaSummary:     0.2,
}

func importanceOf(t Type) float64 {
	if v, ok := typeImportance[t]; ok {
		return v
	}
	return 0.5
}

// Chunk is a bounded, typed slice of indexed content (spec.md §3
// Content Chunk).
type Chunk struct {
	ID            string
	Project       string
	Agent         string
	Content       string
	Type          Type
	Metadata      map[string]string
	Embedding     []float64 // nil if not embedded
	Timestamp     time.Time
	ParentID      string
	ChildIDs      []string
	Summary       string
	Keywords      []string
	Relationships map[string][]string // relationship kind -> related chunk ids
	AccessCount   int
	LastAccessed  time.Time

	// relevance is scratch state populated by a selection pass; never
	// persisted, recomputed per query.
	relevance map[string]float64
}

// tokens estimates a token count the way the original does: roughly
// one token per four characters.
func tokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// TokenCost is the chunk's contribution to a token budget: the larger
// of its full content and its summary, since the assembler may emit
// either (spec.md §4.7).
func (c *Chunk) TokenCost() int {
	ct, st := tokens(c.Content), tokens(c.Summary)
	if ct > st {
		return ct
	}
	return st
}

func (c *Chunk) setRelevance(key string, v float64) {
	if c.relevance == nil {
		c.relevance = make(map[string]float64)
	}
	c.relevance[key] = v
}

func (c *Chunk) getRelevance(key string) float64 {
	if c.relevance == nil {
		return 0
	}
	return c.relevance[key]
}

// Summary is a synthesized, lower-cost stand-in for a group of chunks
// (spec.md §4.7; stateless_rag_manager.py's ContextSummary).
type Summary struct {
	ID                string
	Level             int
	Content           string
	ChunkIDs          []string
	ChildrenSummaryIDs []string
	TokenCount        int
	RelevanceScore    float64
	CreatedAt         time.Time
}

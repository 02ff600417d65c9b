// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retrieval defines the retriever contract consumed by rag and full
// workflows, and ships an in-memory keyword retriever for development and
// tests. Vector stores and embedding pipelines are external; the engine
// only sees this interface.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Passage is one retrieved document fragment with its relevance score.
type Passage struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Retriever returns the top-k passages relevant to a query whose score
// meets the threshold. Implementations must be safe for concurrent use.
type Retriever interface {
	// Name identifies the retriever for template requirement validation.
	Name() string

	// Retrieve returns at most k passages scoring at or above threshold,
	// ordered by descending score.
	Retrieve(ctx context.Context, query string, k int, threshold float64) ([]Passage, error)
}

// KeywordRetriever scores documents by term-frequency overlap with the
// query. Purely in-memory; useful as the dev/test collaborator behind the
// opaque Retriever contract.
type KeywordRetriever struct {
	mu   sync.RWMutex
	name string
	docs []keywordDoc
}

type keywordDoc struct {
	id       string
	content  string
	terms    map[string]int
	total    int
	metadata map[string]interface{}
}

// NewKeywordRetriever creates an empty keyword retriever.
func NewKeywordRetriever(name string) *KeywordRetriever {
	if name == "" {
		name = "keyword"
	}
	return &KeywordRetriever{name: name}
}

// Name returns the retriever name.
func (r *KeywordRetriever) Name() string {
	return r.name
}

// Add indexes a document.
func (r *KeywordRetriever) Add(id, content string, metadata map[string]interface{}) {
	terms := tokenize(content)
	total := 0
	for _, n := range terms {
		total += n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, keywordDoc{
		id:       id,
		content:  content,
		terms:    terms,
		total:    total,
		metadata: metadata,
	})
}

// Len returns the number of indexed documents.
func (r *KeywordRetriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// Retrieve returns at most k passages with score >= threshold, best first.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query string, k int, threshold float64) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	passages := make([]Passage, 0, len(r.docs))
	for _, doc := range r.docs {
		score := score(queryTerms, doc)
		if score < threshold || score == 0 {
			continue
		}
		passages = append(passages, Passage{
			ID:       doc.id,
			Content:  doc.content,
			Score:    score,
			Metadata: doc.metadata,
		})
	}
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > k {
		passages = passages[:k]
	}
	return passages, nil
}

// score is the fraction of query terms present in the document, weighted
// by dampened term frequency.
func score(query map[string]int, doc keywordDoc) float64 {
	if doc.total == 0 {
		return 0
	}
	var hit float64
	var total float64
	for term, qn := range query {
		total += float64(qn)
		if dn, ok := doc.terms[term]; ok {
			hit += float64(qn) * (1 + math.Log1p(float64(dn))) / 2
		}
	}
	if total == 0 {
		return 0
	}
	s := hit / total
	if s > 1 {
		s = 1
	}
	return s
}

func tokenize(s string) map[string]int {
	terms := make(map[string]int)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(field) < 2 {
			continue
		}
		terms[field]++
	}
	return terms
}

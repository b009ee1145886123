package docs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

/*
Keyword retriever.

Scores every stored chunk of a resource by term overlap with the query and
returns the top k. Deterministic and dependency-free; the Retriever
interface in the tutor service leaves room for a vector-backed
implementation later.
*/

// Retriever finds the chunks most relevant to a query.
type Retriever struct {
	Store *Store
}

func NewRetriever(store *Store) *Retriever { return &Retriever{Store: store} }

func (r *Retriever) Retrieve(ctx context.Context, resourceID, query string, k int) ([]string, error) {
	if k <= 0 {
		k = 3
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := r.Store.DB.QueryContext(ctx, r.Store.DB.Rebind(
		`SELECT content FROM document_chunks WHERE resource_id = ?`), resourceID)
	if err != nil {
		return nil, fmt.Errorf("docs: retrieve: %w", err)
	}
	defer rows.Close()

	type scored struct {
		content string
		score   int
		order   int
	}
	var candidates []scored
	i := 0
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		if s := overlap(terms, tokenize(content)); s > 0 {
			candidates = append(candidates, scored{content: content, score: s, order: i})
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].order < candidates[b].order
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.content
	}
	return out, nil
}

// stopwords that would otherwise dominate overlap scores.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
	"what": true, "how": true, "why": true, "do": true, "i": true, "you": true,
}

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

func overlap(query, chunk map[string]bool) int {
	n := 0
	for w := range query {
		if chunk[w] {
			n++
		}
	}
	return n
}

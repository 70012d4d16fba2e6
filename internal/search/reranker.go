package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/localdoc/docsearch/internal/model"
)

// Reranker re-orders candidate texts by relevance to the query. Rerank
// returns candidate indexes, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]int, error)
}

// OllamaReranker scores query/text pairs with a reranker model served by
// the local runtime, one generation per pair.
type OllamaReranker struct {
	client *model.OllamaClient
	model  string
}

// NewOllamaReranker creates a reranker over the runtime client.
func NewOllamaReranker(client *model.OllamaClient, rerankModel string) *OllamaReranker {
	return &OllamaReranker{client: client, model: rerankModel}
}

const rerankPrompt = `Score how relevant the passage is to the query on a scale from 0 to 10. Answer with only the number.

Query: %s

Passage: %s`

// Rerank requests a pairwise score for every candidate and sorts
// descending. Unparseable responses score zero instead of failing the
// whole query.
func (r *OllamaReranker) Rerank(ctx context.Context, query string, texts []string) ([]int, error) {
	type scored struct {
		idx   int
		score float64
	}
	results := make([]scored, len(texts))

	for i, text := range texts {
		results[i] = scored{idx: i}
		if text == "" {
			continue
		}
		resp, err := r.client.Generate(ctx, r.model, fmt.Sprintf(rerankPrompt, query, text), nil)
		if err != nil {
			return nil, err
		}
		results[i].score = parseScore(resp)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	order := make([]int, len(results))
	for i, s := range results {
		order[i] = s.idx
	}
	return order, nil
}

// parseScore pulls the first number out of a model response.
func parseScore(resp string) float64 {
	fields := strings.FieldsFunc(strings.TrimSpace(resp), func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	for _, f := range fields {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			return v
		}
	}
	return 0
}

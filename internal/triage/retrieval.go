package triage

import (
	"context"
	"fmt"
	"sort"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/textvec"
)

const (
	// DefaultTopK is the number of answers retrieved per query.
	DefaultTopK = 1

	// DefaultMinSimilarity is the lowest cosine similarity accepted as an answer.
	DefaultMinSimilarity = 0.1

	// candidateFactor over-fetches candidates so filtering can still fill TopK.
	candidateFactor = 3
)

// Fixed answers used when no corpus entry can be returned.
const (
	NoAnswerText       = "عذراً، لم أتمكن من إيجاد إجابة مناسبة. يرجى استشارة طبيب متخصص."
	RetrievalErrorText = "عذراً، حدث خطأ في استرجاع الإجابة."
)

// IndexSource provides the loaded answer index.
type IndexSource interface {
	AnswerIndex(ctx context.Context) (*artifact.AnswerIndex, error)
}

// Match is one accepted corpus entry with its similarity to the query.
type Match struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Category   string  `json:"category"`
	Similarity float64 `json:"similarity"`
}

// RetrieveOptions controls a single retrieval. An empty CategoryHint disables
// category filtering.
type RetrieveOptions struct {
	CategoryHint  string
	TopK          int
	MinSimilarity float64
}

// DefaultRetrieveOptions returns the standard options for a category hint.
func DefaultRetrieveOptions(categoryHint string) RetrieveOptions {
	return RetrieveOptions{CategoryHint: categoryHint, TopK: DefaultTopK, MinSimilarity: DefaultMinSimilarity}
}

// Answer is the tagged outcome of answer retrieval for the engine.
type Answer struct {
	Text       string
	Confidence float64
	Status     AnswerStatus
	Match      *Match
	// Cause is set when Status is AnswerDegraded.
	Cause error
}

// Retriever ranks the QA corpus against a query.
type Retriever struct {
	src           IndexSource
	topK          int
	minSimilarity float64
}

// NewRetriever creates a Retriever. topK < 1 and minSimilarity < 0 select the defaults.
func NewRetriever(src IndexSource, topK int, minSimilarity float64) *Retriever {
	if topK < 1 {
		topK = DefaultTopK
	}
	if minSimilarity < 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &Retriever{src: src, topK: topK, minSimilarity: minSimilarity}
}

// Retrieve returns up to opts.TopK matches ordered by similarity, possibly none.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]Match, error) {
	if opts.TopK < 1 {
		return nil, fmt.Errorf("retrieve: top_k must be positive, got %d", opts.TopK)
	}

	idx, err := r.src.AnswerIndex(ctx)
	if err != nil {
		return nil, err
	}
	return rank(idx, query, opts), nil
}

// Answer retrieves the best answer for query within category and converts
// every outcome, including failures, into an Answer.
func (r *Retriever) Answer(ctx context.Context, query, category string) (ans Answer) {
	defer func() {
		if p := recover(); p != nil {
			ans = degraded(fmt.Errorf("retrieval panic: %v", p))
		}
	}()

	matches, err := r.Retrieve(ctx, query, RetrieveOptions{
		CategoryHint:  category,
		TopK:          r.topK,
		MinSimilarity: r.minSimilarity,
	})
	if err != nil {
		return degraded(err)
	}
	if len(matches) == 0 {
		return Answer{Text: NoAnswerText, Status: AnswerNoMatch}
	}

	best := matches[0]
	conf, ok := unit(best.Similarity)
	if !ok {
		return degraded(fmt.Errorf("retrieval: non-finite similarity %v", best.Similarity))
	}
	return Answer{Text: best.Answer, Confidence: conf, Status: AnswerMatched, Match: &best}
}

func degraded(cause error) Answer {
	return Answer{Text: RetrievalErrorText, Status: AnswerDegraded, Cause: cause}
}

// rank scores every corpus row, then walks the top candidates applying the
// similarity threshold and category filter.
func rank(idx *artifact.AnswerIndex, query string, opts RetrieveOptions) []Match {
	q := idx.Vectorizer.Transform(query)

	sims := make([]float64, len(idx.QuestionVectors))
	order := make([]int, len(idx.QuestionVectors))
	for i, v := range idx.QuestionVectors {
		sims[i] = textvec.Cosine(q, v)
		order[i] = i
	}

	// stable: equal similarities keep corpus order
	sort.SliceStable(order, func(a, b int) bool {
		return sims[order[a]] > sims[order[b]]
	})

	if n := candidateFactor * opts.TopK; len(order) > n {
		order = order[:n]
	}

	var out []Match
	for _, i := range order {
		if len(out) >= opts.TopK {
			break
		}
		if sims[i] < opts.MinSimilarity {
			continue
		}
		row := idx.Corpus[i]
		if opts.CategoryHint != "" && row.Category != opts.CategoryHint {
			continue
		}
		out = append(out, Match{
			Question:   row.Question,
			Answer:     row.Answer,
			Category:   row.Category,
			Similarity: sims[i],
		})
	}
	return out
}

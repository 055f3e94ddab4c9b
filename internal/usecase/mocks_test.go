package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"evidence/internal/adapter/cache"
	"evidence/internal/adapter/chunker"
	"evidence/internal/adapter/embedding"
	"evidence/internal/adapter/fs"
	"evidence/internal/adapter/lexical"
	"evidence/internal/adapter/matcher"
	"evidence/internal/adapter/vecstore"
	"evidence/internal/domain"
	"evidence/internal/port"
)

// countingEmbedder wraps another embedder and counts provider calls.
type countingEmbedder struct {
	inner      port.Embedder
	embeds     int
	batchCalls int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.embeds++
	return e.inner.Embed(ctx, text)
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	return e.inner.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *countingEmbedder) ModelName() string { return e.inner.ModelName() }

// mapEmbedder returns fixed vectors for known texts and a fallback for the
// rest, making similarity checks fully deterministic.
type mapEmbedder struct {
	vecs     map[string][]float32
	fallback []float32
}

func (e *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return e.fallback, nil
}

func (e *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *mapEmbedder) Dimension() int    { return len(e.fallback) }
func (e *mapEmbedder) ModelName() string { return "map" }

// stubRetriever serves canned results per query and records every query it
// was asked.
type stubRetriever struct {
	results map[string][]domain.QuoteSearchResult
	queries []string
}

func (s *stubRetriever) Search(_ context.Context, query string, _ int) ([]domain.QuoteSearchResult, error) {
	s.queries = append(s.queries, query)
	return s.results[query], nil
}

// scriptedReasoner replays a fixed sequence of replies. A nil entry in errs
// means the call at that index succeeds.
type scriptedReasoner struct {
	replies []string
	errs    []error
	calls   int
}

func (r *scriptedReasoner) Complete(_ context.Context, _ string) (string, error) {
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return "", r.errs[i]
	}
	if i < len(r.replies) {
		return r.replies[i], nil
	}
	return "", fmt.Errorf("unexpected reasoner call %d", i)
}

func (r *scriptedReasoner) ModelName() string { return "scripted" }

type stubWebSearcher struct {
	results []domain.WebResult
	err     error
	calls   int
}

func (w *stubWebSearcher) Search(_ context.Context, _ string) ([]domain.WebResult, error) {
	w.calls++
	return w.results, w.err
}

// recordingObserver captures loop events and can run a hook when a round
// freezes, which tests use to cancel mid-loop.
type recordingObserver struct {
	candidateRounds []int
	verifications   []domain.SnippetVerification
	rounds          []domain.VerificationRound
	onRoundComplete func(domain.VerificationRound)
}

func (o *recordingObserver) OnCandidates(round int, _ string, _ []domain.QuoteSearchResult) {
	o.candidateRounds = append(o.candidateRounds, round)
}

func (o *recordingObserver) OnVerification(_ int, result domain.SnippetVerification) {
	o.verifications = append(o.verifications, result)
}

func (o *recordingObserver) OnRoundComplete(round domain.VerificationRound) {
	o.rounds = append(o.rounds, round)
	if o.onRoundComplete != nil {
		o.onRoundComplete(round)
	}
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, text := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// newTestIndexer wires a real indexer over a temp corpus with the given
// embedder. The store and lexical index live next to the corpus.
func newTestIndexer(t *testing.T, root string, embedder port.Embedder) (*IndexUseCase, *vecstore.Store, *lexical.Index) {
	t.Helper()
	store, err := vecstore.Open(filepath.Join(root, "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	lex := lexical.NewIndex(6, 20)
	walker := fs.NewWalker([]string{"**/*.txt"}, nil)
	chk := chunker.NewLineChunker(12, 3)
	return NewIndexUseCase(root, walker, chk, embedder, store, lex, 100), store, lex
}

func newTestRetriever(t *testing.T, files map[string]string, prefilterDocs int) *RetrieveUseCase {
	t.Helper()
	root := writeCorpus(t, files)
	embedder := embedding.NewMockEmbedder(64)
	indexer, store, lex := newTestIndexer(t, root, embedder)
	if _, err := indexer.EnsureIndexed(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	match := matcher.New(0.7, 0.95)
	return NewRetrieveUseCase(indexer, store, match, lex, embedder, 0.7, 0.3, prefilterDocs)
}

func newMock64() port.Embedder {
	return embedding.NewMockEmbedder(64)
}

func openTestCache(t *testing.T) *cache.Store {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

package usecase

import (
	"context"
	"log/slog"
	"sort"

	"evidence/internal/adapter/lexical"
	"evidence/internal/adapter/matcher"
	"evidence/internal/adapter/vecstore"
	"evidence/internal/domain"
	"evidence/internal/port"
)

// RetrieveUseCase composes semantic search over the quantized store with
// exact/fuzzy alignment per document into one ranked, deduplicated list.
// For large corpora the lexical index narrows the documents the matcher has
// to scan.
type RetrieveUseCase struct {
	indexer        *IndexUseCase
	store          *vecstore.Store
	matcher        *matcher.Matcher
	lexical        *lexical.Index
	embedder       port.Embedder
	minSimilarity  float64
	minContainment float64
	prefilterDocs  int
}

func NewRetrieveUseCase(
	indexer *IndexUseCase,
	store *vecstore.Store,
	matcher *matcher.Matcher,
	lexical *lexical.Index,
	embedder port.Embedder,
	minSimilarity, minContainment float64,
	prefilterDocs int,
) *RetrieveUseCase {
	if minSimilarity <= 0 {
		minSimilarity = 0.7
	}
	if minContainment <= 0 {
		minContainment = 0.3
	}
	if prefilterDocs <= 0 {
		prefilterDocs = 50
	}
	return &RetrieveUseCase{
		indexer:        indexer,
		store:          store,
		matcher:        matcher,
		lexical:        lexical,
		embedder:       embedder,
		minSimilarity:  minSimilarity,
		minContainment: minContainment,
		prefilterDocs:  prefilterDocs,
	}
}

// Search runs semantic and exact/fuzzy retrieval independently and merges
// them. When a document has both kinds of hit, the exact/fuzzy one wins:
// semantic search can surface the wrong document with superficially related
// content, while alignment cannot.
func (u *RetrieveUseCase) Search(ctx context.Context, query string, topK int) ([]domain.QuoteSearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	semantic := u.semanticSearch(ctx, query, topK)
	aligned := u.alignmentSearch(query)

	merged := mergeResults(aligned, semantic)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// FindBestMatch returns the single best result, or nil when nothing matches.
func (u *RetrieveUseCase) FindBestMatch(ctx context.Context, query string) (*domain.QuoteSearchResult, error) {
	results, err := u.Search(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// semanticSearch embeds the query and scans the quantized store. A failing
// embedding provider means no semantic signal, not an error.
func (u *RetrieveUseCase) semanticSearch(ctx context.Context, query string, topK int) []domain.QuoteSearchResult {
	vec, err := u.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, skipping semantic search", "error", err)
		return nil
	}

	scored, err := u.store.Search(vec, topK*2)
	if err != nil {
		slog.Warn("semantic search failed", "error", err)
		return nil
	}

	var results []domain.QuoteSearchResult
	for _, sc := range scored {
		if sc.Similarity < u.minSimilarity {
			continue
		}
		results = append(results, domain.QuoteSearchResult{
			Similarity:  sc.Similarity,
			MatchedText: sc.Chunk.Text,
			SourceFile:  sc.Chunk.FileName,
			StartLine:   sc.Chunk.StartLine,
			EndLine:     sc.Chunk.EndLine,
			Method:      domain.MatchEmbedding,
		})
	}
	return results
}

// alignmentSearch runs the hybrid matcher per document, pre-filtered by the
// lexical index once the corpus is large enough to make full scans expensive.
func (u *RetrieveUseCase) alignmentSearch(query string) []domain.QuoteSearchResult {
	docs := u.indexer.Documents()
	if len(docs) == 0 {
		return nil
	}

	if len(docs) > u.prefilterDocs {
		candidates := u.lexical.FindCandidatesFast(query, u.minContainment)
		narrowed := make([]domain.Document, 0, len(candidates))
		for _, c := range candidates {
			if doc, ok := u.indexer.Document(c.Document); ok {
				narrowed = append(narrowed, doc)
			}
		}
		docs = narrowed
	}

	var results []domain.QuoteSearchResult
	for i := range docs {
		doc := &docs[i]
		match := u.matcher.FindMatch(query, doc.Text)
		if !match.Matched {
			continue
		}

		method := domain.MatchFuzzy
		if match.Confidence >= 1.0 {
			method = domain.MatchExact
		}
		results = append(results, domain.QuoteSearchResult{
			Similarity:  match.Confidence,
			MatchedText: match.MatchedText,
			SourceFile:  doc.Name,
			StartLine:   doc.LineForOffset(match.StartOffset),
			EndLine:     doc.LineForOffset(match.EndOffset - 1),
			Method:      method,
		})
	}
	return results
}

// mergeResults dedupes by source document: any exact/fuzzy hit for a
// document supersedes all of that document's embedding hits.
func mergeResults(aligned, semantic []domain.QuoteSearchResult) []domain.QuoteSearchResult {
	alignedDocs := make(map[string]struct{}, len(aligned))
	for _, r := range aligned {
		alignedDocs[r.SourceFile] = struct{}{}
	}

	merged := make([]domain.QuoteSearchResult, 0, len(aligned)+len(semantic))
	merged = append(merged, aligned...)
	for _, r := range semantic {
		if _, shadowed := alignedDocs[r.SourceFile]; shadowed {
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

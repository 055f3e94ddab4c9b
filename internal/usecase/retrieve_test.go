package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evidence/internal/domain"
)

const goldStandardDoc = `Transcriptomics has advanced rapidly over the last decade.
Microarrays dominated early expression studies.
RNA-seq has become the gold standard for transcriptome analysis.
Single-cell methods now extend this further.`

func TestSearchExactQuote(t *testing.T) {
	u := newTestRetriever(t, map[string]string{"Smith2023.txt": goldStandardDoc}, 50)

	results, err := u.Search(context.Background(), "RNA-seq has become the gold standard for transcriptome analysis.", 5)
	require.NoError(t, err)
	require.Len(t, results, 1, "embedding hits for an exactly-matched document should be superseded")

	top := results[0]
	assert.Equal(t, 1.0, top.Similarity)
	assert.Equal(t, domain.MatchExact, top.Method)
	assert.Equal(t, "Smith2023.txt", top.SourceFile)
	assert.Equal(t, 3, top.StartLine)
	assert.Equal(t, 3, top.EndLine)
	assert.Contains(t, top.MatchedText, "gold standard")
}

func TestSearchRankingAndTruncation(t *testing.T) {
	files := map[string]string{
		"exact.txt":    "The gold standard method for analysis is well established.",
		"nearmiss.txt": "Some say the gold standard method of analysis has limits.",
		"filler.txt":   "Completely unrelated prose about weather patterns and rainfall.",
	}
	u := newTestRetriever(t, files, 50)

	query := "the gold standard method for analysis"
	results, err := u.Search(context.Background(), query, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity, "results must be sorted descending")
	}
	assert.Equal(t, "exact.txt", results[0].SourceFile)
	assert.Equal(t, domain.MatchExact, results[0].Method)

	fuzzyFound := false
	for _, r := range results {
		if r.SourceFile == "nearmiss.txt" {
			fuzzyFound = true
			assert.Equal(t, domain.MatchFuzzy, r.Method)
			assert.InDelta(t, 5.0/6.0, r.Similarity, 1e-9)
		}
	}
	assert.True(t, fuzzyFound, "near-miss document should surface as a fuzzy hit")

	one, err := u.Search(context.Background(), query, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "exact.txt", one[0].SourceFile)
}

func TestSearchDedupPrefersAlignment(t *testing.T) {
	u := newTestRetriever(t, map[string]string{"Smith2023.txt": goldStandardDoc}, 50)

	results, err := u.Search(context.Background(), "RNA-seq has become the gold standard for transcriptome analysis.", 10)
	require.NoError(t, err)

	for _, r := range results {
		if r.SourceFile == "Smith2023.txt" {
			assert.NotEqual(t, domain.MatchEmbedding, r.Method,
				"a document with an alignment hit must not also appear as an embedding hit")
		}
	}
}

func TestSearchLexicalPrefilter(t *testing.T) {
	files := map[string]string{
		"a.txt": "The observed effect was strongest in the treatment group.",
		"b.txt": "Control samples showed no measurable change over time.",
	}
	// prefilterDocs of 1 forces the lexical narrowing path.
	u := newTestRetriever(t, files, 1)

	results, err := u.Search(context.Background(), "The observed effect was strongest in the treatment group.", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a.txt", results[0].SourceFile)
	assert.Equal(t, domain.MatchExact, results[0].Method)
	assert.Equal(t, 1.0, results[0].Similarity)
}

func TestSearchEmptyQueryAndCancellation(t *testing.T) {
	u := newTestRetriever(t, map[string]string{"a.txt": "Some corpus text for the index."}, 50)

	results, err := u.Search(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.Search(ctx, "anything", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindBestMatch(t *testing.T) {
	u := newTestRetriever(t, map[string]string{"Smith2023.txt": goldStandardDoc}, 50)

	best, err := u.FindBestMatch(context.Background(), "RNA-seq has become the gold standard for transcriptome analysis.")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 1.0, best.Similarity)

	empty := newTestRetriever(t, map[string]string{}, 50)
	best, err = empty.FindBestMatch(context.Background(), "no corpus at all")
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestReindexSkipsUnchangedDocuments(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": goldStandardDoc})
	counting := &countingEmbedder{inner: newMock64()}
	indexer, _, _ := newTestIndexer(t, root, counting)

	first, err := indexer.EnsureIndexed(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesIndexed)
	assert.Positive(t, counting.batchCalls)

	counting.batchCalls = 0
	second, err := indexer.EnsureIndexed(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.FilesIndexed)
	assert.Equal(t, 1, second.FilesSkipped)
	assert.Zero(t, counting.batchCalls, "unchanged documents must not be re-embedded")
}

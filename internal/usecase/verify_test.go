package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evidence/internal/domain"
	"evidence/internal/port"
)

const (
	verdictSupports = `{"supports": true, "confidence": 0.9, "reasoning": "states it directly"}`
	verdictRejects  = `{"supports": false, "confidence": 0.2, "reasoning": "off topic"}`
)

type verifyFixture struct {
	indexer  *IndexUseCase
	verifier *VerifyUseCase
}

func newVerifyFixture(
	t *testing.T,
	files map[string]string,
	retriever port.Retriever,
	embedder port.Embedder,
	reasoner port.Reasoner,
	web port.WebSearcher,
	maxRounds int,
) verifyFixture {
	t.Helper()
	root := writeCorpus(t, files)
	indexer, _, _ := newTestIndexer(t, root, embedder)
	verifier := NewVerifyUseCase(indexer, retriever, embedder, reasoner, web, openTestCache(t), maxRounds, 5, 0.5, 0.75)
	return verifyFixture{indexer: indexer, verifier: verifier}
}

func candidate(text, source string) domain.QuoteSearchResult {
	return domain.QuoteSearchResult{
		Similarity:  0.9,
		MatchedText: text,
		SourceFile:  source,
		Method:      domain.MatchEmbedding,
	}
}

func TestFindSupportingEvidenceFirstRound(t *testing.T) {
	claim := "caffeine improves reaction time"
	retriever := &stubRetriever{results: map[string][]domain.QuoteSearchResult{
		claim: {candidate("Caffeine intake shortened reaction times across all trials.", "study.txt")},
	}}
	reasoner := &scriptedReasoner{replies: []string{verdictSupports}}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, nil, 3)

	observer := &recordingObserver{}
	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, observer)
	require.NoError(t, err)

	require.Len(t, rounds, 1)
	round := rounds[0]
	assert.Equal(t, 1, round.Round)
	assert.Equal(t, claim, round.Query)
	require.Len(t, round.Supporting, 1)
	require.Len(t, round.Results, 1)
	assert.True(t, round.Results[0].Supports)
	assert.Equal(t, 0.9, round.Results[0].Confidence)
	assert.False(t, round.Results[0].FromCache)
	assert.Positive(t, round.Results[0].Similarity, "similarity context should be computed")

	assert.Equal(t, []int{1}, observer.candidateRounds)
	require.Len(t, observer.rounds, 1)
	assert.Equal(t, 1, reasoner.calls)
}

func TestVerificationCacheSkipsProvider(t *testing.T) {
	claim := "caffeine improves reaction time"
	retriever := &stubRetriever{results: map[string][]domain.QuoteSearchResult{
		claim: {candidate("Caffeine intake shortened reaction times across all trials.", "study.txt")},
	}}
	reasoner := &scriptedReasoner{replies: []string{verdictSupports}}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, nil, 3)

	_, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, nil)
	require.NoError(t, err)
	require.Equal(t, 1, reasoner.calls)

	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, reasoner.calls, "cached verdict must not call the reasoning provider again")
	require.Len(t, rounds, 1)
	require.Len(t, rounds[0].Results, 1)
	assert.True(t, rounds[0].Results[0].FromCache)
	assert.Equal(t, 0.9, rounds[0].Results[0].Confidence)
}

func TestQueryRefinementBetweenRounds(t *testing.T) {
	claim := "the drug lowers blood pressure"
	retriever := &stubRetriever{results: map[string][]domain.QuoteSearchResult{
		claim:           {candidate("The compound had no measurable cardiovascular effect.", "a.txt")},
		"refined query": {candidate("Systolic pressure dropped significantly under the drug.", "b.txt")},
	}}
	reasoner := &scriptedReasoner{replies: []string{
		verdictRejects,
		"refined query\n",
		verdictSupports,
	}}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, nil, 3)

	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, nil)
	require.NoError(t, err)

	require.Len(t, rounds, 2)
	assert.Equal(t, claim, rounds[0].Query)
	assert.Empty(t, rounds[0].Supporting)
	assert.Equal(t, "refined query", rounds[1].Query)
	require.Len(t, rounds[1].Supporting, 1)
	assert.Equal(t, []string{claim, "refined query"}, retriever.queries)
}

func TestRefinementFailureKeepsPreviousQuery(t *testing.T) {
	claim := "the drug lowers blood pressure"
	retriever := &stubRetriever{results: map[string][]domain.QuoteSearchResult{
		claim: {candidate("The compound had no measurable cardiovascular effect.", "a.txt")},
	}}
	boom := errors.New("provider unavailable")
	reasoner := &scriptedReasoner{
		replies: []string{verdictRejects, "", ""},
		errs:    []error{nil, boom, boom},
	}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, nil, 3)

	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, nil)
	require.NoError(t, err)

	require.Len(t, rounds, 3)
	for _, round := range rounds {
		assert.Equal(t, claim, round.Query, "a failed refinement keeps the previous query")
	}
	// Rounds 2 and 3 hit the cached verdict, so the only reasoner calls are
	// one verification and two failed refinements.
	assert.Equal(t, 3, reasoner.calls)
}

func TestWebFallbackOnEmptyCorpus(t *testing.T) {
	claim := "dark matter interacts only gravitationally"
	retriever := &stubRetriever{}
	web := &stubWebSearcher{results: []domain.WebResult{{
		Title:    "A review of dark matter candidates",
		URL:      "https://example.org/works/W1",
		Abstract: "Observations constrain dark matter to gravitational interaction.",
	}}}
	reasoner := &scriptedReasoner{}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, web, 3)

	observer := &recordingObserver{}
	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, observer)
	require.NoError(t, err)

	require.Len(t, rounds, 1)
	fallback := rounds[0]
	assert.Equal(t, 4, fallback.Round, "fallback is numbered after the literature rounds")
	assert.True(t, fallback.WebFallback)
	require.Len(t, fallback.Candidates, 1)
	assert.Equal(t, domain.MatchWeb, fallback.Candidates[0].Method)
	assert.Equal(t, web.results[0].Abstract, fallback.Candidates[0].MatchedText)
	assert.Equal(t, web.results[0].URL, fallback.Candidates[0].SourceFile)
	assert.Equal(t, fallback.Candidates, fallback.Supporting)

	assert.Equal(t, []string{claim}, retriever.queries, "an empty round ends the literature loop")
	assert.Zero(t, reasoner.calls)
	assert.Len(t, observer.rounds, 1)
}

func TestNoFallbackWithoutWebSearcher(t *testing.T) {
	fx := newVerifyFixture(t, nil, &stubRetriever{}, newMock64(), &scriptedReasoner{}, nil, 3)

	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), "anything at all", nil)
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestCancellationStopsLoop(t *testing.T) {
	claim := "some contested claim"
	retriever := &stubRetriever{results: map[string][]domain.QuoteSearchResult{
		claim: {candidate("An unrelated passage about something else entirely.", "a.txt")},
	}}
	reasoner := &scriptedReasoner{replies: []string{verdictRejects}}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	observer := &recordingObserver{onRoundComplete: func(domain.VerificationRound) { cancel() }}

	rounds, err := fx.verifier.FindSupportingEvidence(ctx, claim, observer)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rounds)
	assert.Len(t, retriever.queries, 1, "round 2 retrieval must never run after cancellation")
}

func TestCancelledContextReturnsImmediately(t *testing.T) {
	retriever := &stubRetriever{}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), &scriptedReasoner{}, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.verifier.FindSupportingEvidence(ctx, "a claim", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, retriever.queries)
}

func TestMalformedVerdictIsNotCached(t *testing.T) {
	claim := "some claim"
	retriever := &stubRetriever{results: map[string][]domain.QuoteSearchResult{
		claim: {candidate("Some passage under review.", "a.txt")},
	}}
	reasoner := &scriptedReasoner{replies: []string{"not json", "not json"}}
	fx := newVerifyFixture(t, nil, retriever, newMock64(), reasoner, nil, 1)

	rounds, err := fx.verifier.FindSupportingEvidence(context.Background(), claim, nil)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	require.Len(t, rounds[0].Results, 1)
	assert.False(t, rounds[0].Results[0].Supports)
	assert.Zero(t, rounds[0].Results[0].Confidence)

	_, err = fx.verifier.FindSupportingEvidence(context.Background(), claim, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reasoner.calls, "a malformed verdict must be retried, not cached")
}

func TestValidateSupport(t *testing.T) {
	sentence := "The treatment clearly reduced symptoms in every trial."
	filler := "Unrelated filler sentence about methodology details."
	embedder := &mapEmbedder{
		vecs: map[string][]float32{
			"strong claim": {1, 0, 0},
			"good quote":   {1, 0, 0},
			"weak claim":   {1, 0, 0},
			"bad quote":    {0, 1, 0},
			sentence:       {1, 0, 0},
			filler:         {0, 0, 1},
		},
		fallback: []float32{0, 0, 1},
	}
	fx := newVerifyFixture(t, map[string]string{"src.txt": sentence + " " + filler}, nil, embedder, nil, nil, 3)
	_, err := fx.indexer.EnsureIndexed(context.Background(), nil)
	require.NoError(t, err)

	strong, err := fx.verifier.ValidateSupport(context.Background(), ValidationRequest{
		Claim: "strong claim", Quote: "good quote", Source: "src.txt",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, strong.Similarity, 1e-9)
	assert.True(t, strong.Supported)
	assert.Empty(t, strong.Suggestions, "no suggestions above the strong threshold")

	weak, err := fx.verifier.ValidateSupport(context.Background(), ValidationRequest{
		Claim: "weak claim", Quote: "bad quote", Source: "src.txt",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, weak.Similarity, 1e-9)
	assert.False(t, weak.Supported)
	assert.Equal(t, []string{sentence}, weak.Suggestions)

	again, err := fx.verifier.ValidateSupport(context.Background(), ValidationRequest{
		Claim: "weak claim", Quote: "bad quote", Source: "src.txt",
	})
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, weak.Similarity, again.Similarity)
}

func TestFlagWeakSupport(t *testing.T) {
	embedder := &mapEmbedder{
		vecs: map[string][]float32{
			"claim one": {1, 0, 0},
			"quote one": {1, 0, 0},
			"claim two": {1, 0, 0},
			"quote two": {0, 1, 0},
		},
		fallback: []float32{0, 0, 1},
	}
	fx := newVerifyFixture(t, nil, nil, embedder, nil, nil, 3)

	reqs := []ValidationRequest{
		{Claim: "claim one", Quote: "quote one", Source: "a.txt"},
		{Claim: "claim two", Quote: "quote two", Source: "b.txt"},
	}
	weak, err := fx.verifier.FlagWeakSupport(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, weak, 1)
	assert.Equal(t, "claim two", weak[0].Claim)
}

func TestBatchValidateCancellation(t *testing.T) {
	fx := newVerifyFixture(t, nil, nil, newMock64(), nil, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.verifier.BatchValidate(ctx, []ValidationRequest{{Claim: "c", Quote: "q"}})
	assert.ErrorIs(t, err, context.Canceled)
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"evidence/internal/adapter/cache"
	"evidence/internal/adapter/llm"
	"evidence/internal/domain"
	"evidence/internal/port"
)

// maxSuggestionSentences caps how many alternative quotes a validation offers.
const maxSuggestionSentences = 3

// VerifyUseCase is the verification feedback loop: retrieve candidate
// snippets, ask the reasoning provider whether each one directly supports the
// claim, refine the query on failure, and fall back to external web search
// when the corpus yields nothing.
//
// Rounds run strictly sequentially, as do snippet verifications within a
// round: later steps depend on earlier results and external providers are
// rate-limited. Cancellation is cooperative, checked before indexing, at
// round start, around each snippet verification, and around refinement and
// the web fallback.
type VerifyUseCase struct {
	indexer   *IndexUseCase
	retriever port.Retriever
	embedder  port.Embedder
	reasoner  port.Reasoner
	web       port.WebSearcher // nil disables the fallback
	cache     *cache.Store

	maxRounds       int
	topK            int
	weakThreshold   float64
	strongThreshold float64
}

func NewVerifyUseCase(
	indexer *IndexUseCase,
	retriever port.Retriever,
	embedder port.Embedder,
	reasoner port.Reasoner,
	web port.WebSearcher,
	cacheStore *cache.Store,
	maxRounds, topK int,
	weakThreshold, strongThreshold float64,
) *VerifyUseCase {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	if topK <= 0 {
		topK = 5
	}
	if weakThreshold <= 0 {
		weakThreshold = 0.5
	}
	if strongThreshold <= weakThreshold {
		strongThreshold = 0.75
	}
	return &VerifyUseCase{
		indexer:         indexer,
		retriever:       retriever,
		embedder:        embedder,
		reasoner:        reasoner,
		web:             web,
		cache:           cacheStore,
		maxRounds:       maxRounds,
		topK:            topK,
		weakThreshold:   weakThreshold,
		strongThreshold: strongThreshold,
	}
}

// FindSupportingEvidence runs the round loop for one claim and returns every
// completed round in order, including any web fallback round. A cancelled
// context returns ctx.Err() rather than partial data.
func (u *VerifyUseCase) FindSupportingEvidence(
	ctx context.Context,
	claim string,
	observer port.SearchObserver,
) ([]domain.VerificationRound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claim = strings.TrimSpace(claim)
	if claim == "" {
		return nil, fmt.Errorf("empty claim")
	}

	if _, err := u.indexer.EnsureIndexed(ctx, nil); err != nil {
		return nil, fmt.Errorf("corpus indexing failed: %w", err)
	}

	var rounds []domain.VerificationRound
	var claimVec []float32
	query := claim

	for round := 1; round <= u.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates, err := u.retriever.Search(ctx, query, u.topK)
		if err != nil {
			return nil, fmt.Errorf("retrieval failed in round %d: %w", round, err)
		}
		if len(candidates) == 0 {
			slog.Info("no candidates, stopping round loop", "round", round, "query", query)
			break
		}
		if observer != nil {
			observer.OnCandidates(round, query, candidates)
		}

		// The claim embedding is computed once, on the first round that
		// needs it, and reused for every similarity check afterwards.
		if claimVec == nil {
			vec, err := u.embedder.Embed(ctx, claim)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("claim embedding failed, similarity context disabled", "error", err)
			} else {
				claimVec = vec
			}
		}

		current := domain.VerificationRound{
			Round:      round,
			Query:      query,
			Candidates: candidates,
		}

		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			result := u.verifySnippet(ctx, claim, claimVec, candidate)
			current.Results = append(current.Results, result)
			if observer != nil {
				observer.OnVerification(round, result)
			}
			if result.Supports && result.Confidence >= u.weakThreshold {
				current.Supporting = append(current.Supporting, candidate)
			}

			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rounds = append(rounds, current)
		if observer != nil {
			observer.OnRoundComplete(current)
		}

		if len(current.Supporting) > 0 {
			return rounds, nil
		}

		if round < u.maxRounds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			query = u.refineQuery(ctx, claim, query, current.Results)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	fallback, err := u.webFallback(ctx, claim)
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		rounds = append(rounds, *fallback)
		if observer != nil {
			observer.OnRoundComplete(*fallback)
		}
	}

	return rounds, nil
}

// verifySnippet decides whether one snippet supports the claim, consulting
// the confidence cache first. Provider failures become a zero-confidence
// non-support, never an aborted round.
func (u *VerifyUseCase) verifySnippet(
	ctx context.Context,
	claim string,
	claimVec []float32,
	candidate domain.QuoteSearchResult,
) domain.SnippetVerification {
	if entry, hit := u.cache.GetConfidence(claim, candidate.MatchedText); hit {
		return domain.SnippetVerification{
			Snippet:    candidate,
			Supports:   entry.Supports,
			Confidence: entry.Confidence,
			Reasoning:  entry.Reasoning,
			FromCache:  true,
		}
	}

	similarity := u.snippetSimilarity(ctx, claimVec, candidate.MatchedText)

	prompt := verificationPrompt(claim, candidate.MatchedText, similarity)
	response, err := u.reasoner.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("verification call failed, treating as non-supporting", "error", err)
		return domain.SnippetVerification{Snippet: candidate, Similarity: similarity}
	}

	verdict, ok := llm.ParseVerdict(response)
	if !ok {
		slog.Warn("malformed verification response, treating as non-supporting")
		return domain.SnippetVerification{Snippet: candidate, Similarity: similarity}
	}

	if err := u.cache.PutConfidence(claim, candidate.MatchedText, cache.ConfidenceEntry{
		Supports:   verdict.Supports,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
	}); err != nil {
		slog.Warn("failed to cache verification", "error", err)
	}

	return domain.SnippetVerification{
		Snippet:    candidate,
		Supports:   verdict.Supports,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		Similarity: similarity,
	}
}

// snippetSimilarity embeds the snippet and compares it to the claim vector.
// Any failure means no semantic signal.
func (u *VerifyUseCase) snippetSimilarity(ctx context.Context, claimVec []float32, text string) float64 {
	if claimVec == nil {
		return 0
	}
	vec, err := u.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("snippet embedding failed", "error", err)
		return 0
	}
	return cosine(claimVec, vec)
}

// refineQuery asks the reasoning provider for a short replacement query based
// on why this round's snippets failed. On any failure the previous query is
// kept and the loop continues.
func (u *VerifyUseCase) refineQuery(
	ctx context.Context,
	claim, previous string,
	results []domain.SnippetVerification,
) string {
	var reasons []string
	for _, r := range results {
		if !r.Supports && r.Reasoning != "" {
			reasons = append(reasons, "- "+r.Reasoning)
		}
	}

	prompt := fmt.Sprintf(`A literature search for evidence supporting this claim found nothing that holds up:

Claim: %q
Previous search query: %q

Reviewer notes on why the retrieved passages did not support the claim:
%s

Suggest a better search query of 2-5 words targeting the claim's key concept.
Reply with the query only, no quotes or explanation.`, claim, previous, strings.Join(reasons, "\n"))

	response, err := u.reasoner.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("query refinement failed, keeping previous query", "error", err)
		return previous
	}

	refined := firstLine(response)
	refined = strings.Trim(refined, `"' `)
	if refined == "" {
		return previous
	}
	if words := strings.Fields(refined); len(words) > 8 {
		refined = strings.Join(words[:8], " ")
	}
	return refined
}

// webFallback wraps external search results as a synthetic round numbered
// maxRounds+1. Web results are treated as supporting by construction; no
// independent verification is applied to them.
func (u *VerifyUseCase) webFallback(ctx context.Context, claim string) (*domain.VerificationRound, error) {
	if u.web == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	webResults, err := u.web.Search(ctx, claim)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("web search fallback failed", "error", err)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(webResults) == 0 {
		return nil, nil
	}

	round := &domain.VerificationRound{
		Round:       u.maxRounds + 1,
		Query:       claim,
		WebFallback: true,
		WebResults:  webResults,
	}
	for _, w := range webResults {
		snippet := domain.QuoteSearchResult{
			MatchedText: w.Abstract,
			SourceFile:  w.URL,
			Method:      domain.MatchWeb,
		}
		round.Candidates = append(round.Candidates, snippet)
		round.Supporting = append(round.Supporting, snippet)
	}
	return round, nil
}

// ValidationRequest is one (claim, quote, source) triple to validate.
type ValidationRequest struct {
	Claim  string `json:"claim"`
	Quote  string `json:"quote"`
	Source string `json:"source"`
}

// ValidateSupport checks whether an existing quote supports a claim by
// semantic similarity. Below the strong threshold it also scans the named
// source document for up to three better-matching sentences. Results are
// cached per claim text.
func (u *VerifyUseCase) ValidateSupport(ctx context.Context, req ValidationRequest) (domain.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ValidationResult{}, err
	}

	if cached, hit := u.cache.GetValidation(req.Claim); hit {
		cached.FromCache = true
		return cached, nil
	}

	claimVec, err := u.embedder.Embed(ctx, req.Claim)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("failed to embed claim: %w", err)
	}
	quoteVec, err := u.embedder.Embed(ctx, req.Quote)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("failed to embed quote: %w", err)
	}

	result := domain.ValidationResult{
		Claim:      req.Claim,
		Quote:      req.Quote,
		Source:     req.Source,
		Similarity: cosine(claimVec, quoteVec),
	}
	result.Supported = result.Similarity >= u.weakThreshold

	if result.Similarity < u.strongThreshold {
		result.Suggestions = u.suggestBetterQuotes(ctx, claimVec, req.Source, result.Similarity)
	}

	if err := u.cache.PutValidation(req.Claim, result); err != nil {
		slog.Warn("failed to cache validation", "error", err)
	}
	return result, nil
}

// BatchValidate validates triples sequentially, checking for cancellation
// between each one.
func (u *VerifyUseCase) BatchValidate(ctx context.Context, reqs []ValidationRequest) ([]domain.ValidationResult, error) {
	results := make([]domain.ValidationResult, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := u.ValidateSupport(ctx, req)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// FlagWeakSupport validates triples and returns only those whose similarity
// falls below the weak-support threshold.
func (u *VerifyUseCase) FlagWeakSupport(ctx context.Context, reqs []ValidationRequest) ([]domain.ValidationResult, error) {
	all, err := u.BatchValidate(ctx, reqs)
	if err != nil {
		return nil, err
	}
	var weak []domain.ValidationResult
	for _, r := range all {
		if r.Similarity < u.weakThreshold {
			weak = append(weak, r)
		}
	}
	return weak, nil
}

// suggestBetterQuotes looks for sentences in the source document with higher
// similarity to the claim than the current quote.
func (u *VerifyUseCase) suggestBetterQuotes(
	ctx context.Context,
	claimVec []float32,
	source string,
	currentSim float64,
) []string {
	doc, ok := u.indexer.Document(source)
	if !ok {
		return nil
	}

	sentences := splitSentences(doc.Text)
	if len(sentences) == 0 {
		return nil
	}

	vecs, err := u.embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		slog.Warn("sentence embedding failed, no suggestions", "source", source, "error", err)
		return nil
	}

	type scored struct {
		text string
		sim  float64
	}
	var better []scored
	for i, vec := range vecs {
		if vec == nil {
			continue
		}
		if sim := cosine(claimVec, vec); sim > currentSim {
			better = append(better, scored{text: sentences[i], sim: sim})
		}
	}
	sort.Slice(better, func(i, j int) bool {
		return better[i].sim > better[j].sim
	})
	if len(better) > maxSuggestionSentences {
		better = better[:maxSuggestionSentences]
	}

	suggestions := make([]string, len(better))
	for i, s := range better {
		suggestions[i] = s.text
	}
	return suggestions
}

func verificationPrompt(claim, snippet string, similarity float64) string {
	return fmt.Sprintf(`You are verifying whether a passage from a source document provides direct evidence for a claim.

Claim: %q

Passage: %q

Context: the passage's semantic similarity to the claim is %.0f%%. Similarity is context only; a passage can be highly similar yet still fail to support the claim. Judge only whether the passage DIRECTLY supports the claim as stated.

Respond with a JSON object: {"supports": true|false, "confidence": 0.0-1.0, "reasoning": "one sentence"}`,
		claim, snippet, similarity*100)
}

// splitSentences is a heuristic splitter: terminal punctuation followed by
// whitespace ends a sentence. Good enough for suggestion ranking.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(b.String())
				if len(s) >= 20 {
					sentences = append(sentences, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); len(s) >= 20 {
		sentences = append(sentences, s)
	}
	return sentences
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

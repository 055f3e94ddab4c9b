package port

import (
	"context"

	"evidence/internal/domain"
)

// Retriever searches the indexed corpus for quote candidates.
type Retriever interface {
	// Search returns up to topK results ranked by similarity descending.
	Search(ctx context.Context, query string, topK int) ([]domain.QuoteSearchResult, error)
}

// SearchObserver receives streaming progress from the verification loop.
// All methods are called from the loop's goroutine, in order; a nil observer
// disables streaming.
type SearchObserver interface {
	// OnCandidates fires as soon as a round's snippets are retrieved,
	// before any verification happens.
	OnCandidates(round int, query string, candidates []domain.QuoteSearchResult)

	// OnVerification fires immediately after each snippet's support
	// decision is known.
	OnVerification(round int, result domain.SnippetVerification)

	// OnRoundComplete fires when a round is frozen.
	OnRoundComplete(round domain.VerificationRound)
}

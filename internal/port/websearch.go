package port

import (
	"context"

	"evidence/internal/domain"
)

// WebSearcher is the external web-search fallback used when the local
// corpus yields no supporting evidence.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]domain.WebResult, error)
}

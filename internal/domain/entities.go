package domain

import "time"

// Document is one full-text unit of the corpus.
type Document struct {
	Path        string
	Name        string
	Text        string
	ContentHash string
	LineOffsets []int
}

// LineForOffset maps a character offset into Text to a 1-based line number.
func (d *Document) LineForOffset(off int) int {
	if len(d.LineOffsets) == 0 {
		return 1
	}
	lo, hi := 0, len(d.LineOffsets)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if d.LineOffsets[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}

// Chunk is a bounded excerpt of a document with its embedding vector.
type Chunk struct {
	ID        string
	FilePath  string
	FileName  string
	Text      string
	StartLine int
	EndLine   int
	Embedding []float32
	CreatedAt time.Time
}

// Candidate is a lexical pre-filter hit for one document.
type Candidate struct {
	Document    string
	Containment float64
	Regions     []Region
}

// Region is a line range inside a candidate document worth aligning against.
type Region struct {
	StartLine int
	EndLine   int
	Score     float64
}

// MatchMethod tags how a search result was produced.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchFuzzy     MatchMethod = "fuzzy"
	MatchEmbedding MatchMethod = "embedding"
	MatchWeb       MatchMethod = "web"
)

// QuoteMatch is a character-level alignment of a query inside one document.
type QuoteMatch struct {
	Matched     bool
	Confidence  float64
	MatchedText string
	StartOffset int
	EndOffset   int
}

// QuoteSearchResult is one ranked hit from the unified retriever.
type QuoteSearchResult struct {
	Similarity  float64     `json:"similarity"`
	MatchedText string      `json:"matched_text"`
	SourceFile  string      `json:"source_file"`
	StartLine   int         `json:"start_line"`
	EndLine     int         `json:"end_line"`
	Method      MatchMethod `json:"method"`
}

// SnippetVerification is the support decision for one candidate snippet.
type SnippetVerification struct {
	Snippet    QuoteSearchResult `json:"snippet"`
	Supports   bool              `json:"supports"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Similarity float64           `json:"similarity"`
	FromCache  bool              `json:"from_cache"`
}

// VerificationRound is one retrieve-verify iteration of the feedback loop.
// A round is frozen once recorded; later rounds never mutate earlier ones.
type VerificationRound struct {
	Round       int                   `json:"round"`
	Query       string                `json:"query"`
	Candidates  []QuoteSearchResult   `json:"candidates"`
	Results     []SnippetVerification `json:"results"`
	Supporting  []QuoteSearchResult   `json:"supporting"`
	WebFallback bool                  `json:"web_fallback,omitempty"`
	WebResults  []WebResult           `json:"web_results,omitempty"`
}

// WebResult is one hit from the external web-search fallback.
type WebResult struct {
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Abstract string   `json:"abstract,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
}

// ValidationResult is the outcome of a standalone claim-quote support check.
type ValidationResult struct {
	Claim       string   `json:"claim"`
	Quote       string   `json:"quote"`
	Source      string   `json:"source"`
	Similarity  float64  `json:"similarity"`
	Supported   bool     `json:"supported"`
	Suggestions []string `json:"suggestions,omitempty"`
	FromCache   bool     `json:"from_cache"`
}

// Stats summarizes the indexed corpus.
type Stats struct {
	TotalDocs   int
	TotalChunks int
	Dimension   int
}

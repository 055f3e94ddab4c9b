package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"evidence/internal/domain"
)

// Matcher finds the best character-level alignment of a query inside a
// document's raw text: exact substring match after normalization first, then
// a sliding word-window scan for near-exact matches.
type Matcher struct {
	acceptThreshold float64
	earlyExitScore  float64
}

func New(acceptThreshold, earlyExitScore float64) *Matcher {
	if acceptThreshold <= 0 || acceptThreshold > 1 {
		acceptThreshold = 0.7
	}
	if earlyExitScore <= 0 || earlyExitScore > 1 {
		earlyExitScore = 0.95
	}
	return &Matcher{
		acceptThreshold: acceptThreshold,
		earlyExitScore:  earlyExitScore,
	}
}

// normText is a normalized rendering of a document that remembers, for every
// normalized byte, where it came from in the original text.
type normText struct {
	text   string
	starts []int // original byte offset of each normalized byte
	ends   []int // original byte offset just past each normalized byte's rune
}

// FindMatch locates the query inside documentText. Exact matches report
// confidence 1.0; fuzzy matches report the best word-overlap score, and
// anything under the accept threshold reports Matched=false.
func (m *Matcher) FindMatch(query, documentText string) domain.QuoteMatch {
	nq := normalizeTracked(query)
	nd := normalizeTracked(documentText)

	if nq.text == "" || nd.text == "" {
		return domain.QuoteMatch{}
	}

	if idx := strings.Index(nd.text, nq.text); idx >= 0 {
		start := nd.starts[idx]
		end := nd.ends[idx+len(nq.text)-1]
		return domain.QuoteMatch{
			Matched:     true,
			Confidence:  1.0,
			MatchedText: documentText[start:end],
			StartOffset: start,
			EndOffset:   end,
		}
	}

	return m.fuzzyMatch(nq, nd, documentText)
}

// fuzzyMatch slides a window of the query's word count across the document
// and keeps the best word-overlap window, exiting early on a near-perfect
// score.
func (m *Matcher) fuzzyMatch(nq, nd normText, documentText string) domain.QuoteMatch {
	queryWords := strings.Fields(nq.text)
	docWords, wordStarts, wordEnds := fieldsTracked(nd)
	if len(queryWords) == 0 || len(docWords) < 1 {
		return domain.QuoteMatch{}
	}

	window := len(queryWords)
	if window > len(docWords) {
		window = len(docWords)
	}

	querySet := make(map[string]struct{}, len(queryWords))
	for _, w := range queryWords {
		querySet[w] = struct{}{}
	}

	bestScore := -1.0
	bestStart := 0
	for start := 0; start+window <= len(docWords); start++ {
		matches := 0
		for _, w := range docWords[start : start+window] {
			if _, ok := querySet[w]; ok {
				matches++
			}
		}
		score := float64(matches) / float64(len(queryWords))
		if score > bestScore {
			bestScore = score
			bestStart = start
		}
		if score >= m.earlyExitScore {
			break
		}
	}

	if bestScore < m.acceptThreshold {
		return domain.QuoteMatch{Confidence: bestScore}
	}

	start := wordStarts[bestStart]
	end := wordEnds[bestStart+window-1]
	return domain.QuoteMatch{
		Matched:     true,
		Confidence:  bestScore,
		MatchedText: documentText[start:end],
		StartOffset: start,
		EndOffset:   end,
	}
}

// normalizeTracked lowercases, strips punctuation, and collapses whitespace,
// keeping a byte-level map back to the original text.
func normalizeTracked(text string) normText {
	var b strings.Builder
	starts := make([]int, 0, len(text))
	ends := make([]int, 0, len(text))
	pendingSpace := false
	spaceAt := 0

	for i, r := range text {
		size := utf8.RuneLen(r)
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
				starts = append(starts, spaceAt)
				ends = append(ends, spaceAt+1)
			}
			pendingSpace = false
			lower := unicode.ToLower(r)
			before := b.Len()
			b.WriteRune(lower)
			for j := before; j < b.Len(); j++ {
				starts = append(starts, i)
				ends = append(ends, i+size)
			}
		default:
			// Punctuation and whitespace both collapse to one separator.
			if !pendingSpace {
				pendingSpace = true
				spaceAt = i
			}
		}
	}

	return normText{text: b.String(), starts: starts, ends: ends}
}

// fieldsTracked splits normalized text into words along with each word's
// original start and end byte offsets.
func fieldsTracked(n normText) ([]string, []int, []int) {
	var words []string
	var starts, ends []int

	i := 0
	for i < len(n.text) {
		if n.text[i] == ' ' {
			i++
			continue
		}
		j := i
		for j < len(n.text) && n.text[j] != ' ' {
			j++
		}
		words = append(words, n.text[i:j])
		starts = append(starts, n.starts[i])
		ends = append(ends, n.ends[j-1])
		i = j
	}
	return words, starts, ends
}

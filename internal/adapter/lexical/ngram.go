package lexical

import (
	"log/slog"
	"sort"
	"strings"

	"evidence/internal/domain"
)

const (
	// N-grams in more than this fraction of documents carry no signal.
	commonDocFraction = 0.5
	// Below this many discriminating n-grams we fall back to the rarest ones.
	minDiscriminating = 10
	rareFallbackCount = 30
	// A candidate must match at least this many selected n-grams outright.
	minMatchFloor = 5
	maxRegions    = 3
	// Region windows scoring below this overlap are discarded.
	regionMinOverlap = 0.3
)

// Index is a character n-gram inverted index over the corpus. It is rebuilt
// in memory on every Build; nothing is persisted.
type Index struct {
	ngramSize    int
	regionWindow int
	docs         map[string]*docEntry
	postings     map[string]map[string]struct{}
}

type docEntry struct {
	name  string
	lines []string
	grams map[string]struct{}
}

// BuildResult summarizes one index build.
type BuildResult struct {
	IndexedCount     int
	UniqueNgramCount int
}

func NewIndex(ngramSize, regionWindow int) *Index {
	if ngramSize <= 0 {
		ngramSize = 6
	}
	if regionWindow <= 0 {
		regionWindow = 20
	}
	return &Index{
		ngramSize:    ngramSize,
		regionWindow: regionWindow,
		docs:         make(map[string]*docEntry),
		postings:     make(map[string]map[string]struct{}),
	}
}

// Build replaces the index contents with the n-gram sets of the given documents.
func (x *Index) Build(docs []domain.Document) BuildResult {
	x.docs = make(map[string]*docEntry, len(docs))
	x.postings = make(map[string]map[string]struct{})

	for i := range docs {
		doc := &docs[i]
		grams := ngramSet(normalize(doc.Text), x.ngramSize)
		x.docs[doc.Name] = &docEntry{
			name:  doc.Name,
			lines: strings.Split(doc.Text, "\n"),
			grams: grams,
		}
		for g := range grams {
			set, ok := x.postings[g]
			if !ok {
				set = make(map[string]struct{})
				x.postings[g] = set
			}
			set[doc.Name] = struct{}{}
		}
	}

	return BuildResult{
		IndexedCount:     len(x.docs),
		UniqueNgramCount: len(x.postings),
	}
}

// DocumentCount returns the number of indexed documents.
func (x *Index) DocumentCount() int {
	return len(x.docs)
}

// FindCandidates ranks documents by n-gram containment and attaches up to
// three high-overlap line regions per candidate.
func (x *Index) FindCandidates(query string, minContainment float64) []domain.Candidate {
	candidates, selected := x.rankCandidates(query, minContainment)
	for i := range candidates {
		entry := x.docs[candidates[i].Document]
		candidates[i].Regions = x.findRegions(entry, selected)
	}
	return candidates
}

// FindCandidatesFast returns document-level hits only, skipping the
// per-region scan, for callers that run full-document alignment anyway.
func (x *Index) FindCandidatesFast(query string, minContainment float64) []domain.Candidate {
	candidates, _ := x.rankCandidates(query, minContainment)
	return candidates
}

func (x *Index) rankCandidates(query string, minContainment float64) ([]domain.Candidate, []string) {
	if minContainment <= 0 {
		minContainment = 0.3
	}

	queryGrams := ngramSet(normalize(query), x.ngramSize)
	if len(queryGrams) == 0 || len(x.docs) == 0 {
		return nil, nil
	}

	selected := x.selectDiscriminating(queryGrams)
	if len(selected) == 0 {
		return nil, nil
	}

	matchCounts := make(map[string]int)
	for _, g := range selected {
		for doc := range x.postings[g] {
			matchCounts[doc]++
		}
	}

	threshold := int(float64(len(selected)) * minContainment)
	if threshold < minMatchFloor {
		threshold = minMatchFloor
	}
	if threshold > len(selected) {
		threshold = len(selected)
	}

	var candidates []domain.Candidate
	for doc, matches := range matchCounts {
		containment := float64(matches) / float64(len(selected))
		if matches >= threshold && containment >= minContainment {
			candidates = append(candidates, domain.Candidate{
				Document:    doc,
				Containment: containment,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Containment != candidates[j].Containment {
			return candidates[i].Containment > candidates[j].Containment
		}
		return candidates[i].Document < candidates[j].Document
	})

	return candidates, selected
}

// selectDiscriminating drops n-grams present in more than half the corpus.
// If that leaves too few for a long query, the 30 rarest n-grams by document
// frequency are used instead.
func (x *Index) selectDiscriminating(queryGrams map[string]struct{}) []string {
	maxDF := int(float64(len(x.docs)) * commonDocFraction)

	var selected []string
	for g := range queryGrams {
		if len(x.postings[g]) <= maxDF {
			selected = append(selected, g)
		}
	}

	if len(selected) < minDiscriminating && len(queryGrams) > minDiscriminating {
		all := make([]string, 0, len(queryGrams))
		for g := range queryGrams {
			all = append(all, g)
		}
		sort.Slice(all, func(i, j int) bool {
			di, dj := len(x.postings[all[i]]), len(x.postings[all[j]])
			if di != dj {
				return di < dj
			}
			return all[i] < all[j]
		})
		if len(all) > rareFallbackCount {
			all = all[:rareFallbackCount]
		}
		slog.Debug("lexical: falling back to rarest n-grams",
			"discriminating", len(selected), "selected", len(all))
		selected = all
	}

	sort.Strings(selected)
	return selected
}

// findRegions slides a line window across the document, scores each window by
// the fraction of selected query n-grams it contains, and merges overlapping
// windows above the overlap threshold into at most three regions.
func (x *Index) findRegions(entry *docEntry, selected []string) []domain.Region {
	if entry == nil || len(selected) == 0 || len(entry.lines) == 0 {
		return nil
	}

	window := x.regionWindow
	if window > len(entry.lines) {
		window = len(entry.lines)
	}
	stride := window / 2
	if stride < 1 {
		stride = 1
	}

	var scored []domain.Region
	for start := 0; start < len(entry.lines); start += stride {
		end := start + window
		if end > len(entry.lines) {
			end = len(entry.lines)
		}

		text := normalize(strings.Join(entry.lines[start:end], "\n"))
		grams := ngramSet(text, x.ngramSize)

		matches := 0
		for _, g := range selected {
			if _, ok := grams[g]; ok {
				matches++
			}
		}
		score := float64(matches) / float64(len(selected))
		if score >= regionMinOverlap {
			scored = append(scored, domain.Region{
				StartLine: start + 1,
				EndLine:   end,
				Score:     score,
			})
		}

		if end == len(entry.lines) {
			break
		}
	}

	if len(scored) == 0 {
		return nil
	}

	merged := mergeRegions(scored)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > maxRegions {
		merged = merged[:maxRegions]
	}
	return merged
}

// mergeRegions merges overlapping line ranges, keeping the best score.
func mergeRegions(regions []domain.Region) []domain.Region {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].StartLine < regions[j].StartLine
	})

	var merged []domain.Region
	for _, r := range regions {
		if len(merged) > 0 && r.StartLine <= merged[len(merged)-1].EndLine {
			last := &merged[len(merged)-1]
			if r.EndLine > last.EndLine {
				last.EndLine = r.EndLine
			}
			if r.Score > last.Score {
				last.Score = r.Score
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// normalize lowercases text and collapses runs of whitespace to single spaces.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ngramSet extracts the set of fixed-length character substrings.
func ngramSet(text string, n int) map[string]struct{} {
	grams := make(map[string]struct{})
	if len(text) < n {
		return grams
	}
	for i := 0; i+n <= len(text); i++ {
		grams[text[i:i+n]] = struct{}{}
	}
	return grams
}

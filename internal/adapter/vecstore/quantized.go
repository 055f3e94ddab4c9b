package vecstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"evidence/internal/adapter/fs"
	"evidence/internal/domain"
)

// SchemaVersion is the on-disk index schema version. A stored index with a
// different version is discarded and rebuilt, never partially migrated.
const SchemaVersion = 2

const defaultRecencyCap = 100

// Store persists per-chunk embeddings in 8-bit quantized form and performs
// cosine-similarity search with on-the-fly dequantization. The index file is
// read fully on load and rewritten fully on every mutation; single process,
// single writer.
type Store struct {
	path string

	mu         sync.RWMutex
	snippets   []storedSnippet
	fileHashes map[string]string
	createdAt  time.Time

	recency *recencyCache

	repairOnce sync.Once
}

// QuantRange is the per-vector range used for linear int8 quantization.
type QuantRange struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

type storedSnippet struct {
	ID        string      `json:"id"`
	FilePath  string      `json:"filePath"`
	FileName  string      `json:"fileName"`
	Text      string      `json:"text"`
	Embedding []int8      `json:"embedding"`
	Metadata  *QuantRange `json:"embeddingMetadata,omitempty"`
	StartLine int         `json:"startLine"`
	EndLine   int         `json:"endLine"`
	Timestamp time.Time   `json:"timestamp"`
}

type indexFile struct {
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Snippets   []storedSnippet `json:"snippets"`
	FileHashes [][2]string     `json:"fileHashes"`
}

// ScoredChunk is a search hit with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk      domain.Chunk
	Similarity float64
}

// Open loads the index at path, creating an empty store if none exists.
func Open(path string) (*Store, error) {
	s := &Store{
		path:       path,
		fileHashes: make(map[string]string),
		createdAt:  time.Now(),
		recency:    newRecencyCache(defaultRecencyCap),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		slog.Warn("vecstore: index file unreadable, rebuilding", "path", path, "error", err)
		return s, nil
	}

	if file.Version != SchemaVersion {
		slog.Warn("vecstore: schema version mismatch, discarding index",
			"found", file.Version, "want", SchemaVersion)
		return s, nil
	}

	s.snippets = file.Snippets
	s.createdAt = file.CreatedAt
	for _, pair := range file.FileHashes {
		s.fileHashes[pair[0]] = pair[1]
	}

	if s.repairLegacyMetadata() {
		// Re-persist once in the background so load never blocks on disk.
		s.repairOnce.Do(func() {
			go func() {
				if err := s.save(); err != nil {
					slog.Warn("vecstore: failed to re-persist repaired index", "error", err)
				}
			}()
		})
	}

	return s, nil
}

// repairLegacyMetadata reconstructs quantization ranges for snippets written
// by a schema that stored no metadata. The range is inferred from the stored
// int8 values, which preserves ranking even though absolute scale is lost.
func (s *Store) repairLegacyMetadata() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	repaired := false
	for i := range s.snippets {
		sn := &s.snippets[i]
		if sn.Metadata != nil || len(sn.Embedding) == 0 {
			continue
		}
		lo, hi := sn.Embedding[0], sn.Embedding[0]
		for _, q := range sn.Embedding {
			if q < lo {
				lo = q
			}
			if q > hi {
				hi = q
			}
		}
		sn.Metadata = &QuantRange{
			Min: float32(lo) / 127.0,
			Max: float32(hi) / 127.0,
		}
		repaired = true
	}
	if repaired {
		slog.Warn("vecstore: reconstructed quantization metadata for legacy snippets")
	}
	return repaired
}

// Quantize linearly maps each float to the nearest int8 in [-128,127] using
// the vector's own min/max range.
func Quantize(v []float32) ([]int8, QuantRange) {
	if len(v) == 0 {
		return nil, QuantRange{}
	}

	r := QuantRange{Min: v[0], Max: v[0]}
	for _, f := range v {
		if f < r.Min {
			r.Min = f
		}
		if f > r.Max {
			r.Max = f
		}
	}

	q := make([]int8, len(v))
	span := r.Max - r.Min
	if span == 0 {
		return q, r
	}
	for i, f := range v {
		scaled := (f-r.Min)/span*255.0 - 128.0
		q[i] = int8(math.Round(float64(scaled)))
	}
	return q, r
}

// Dequantize reverses Quantize within an error bound of (max-min)/255 per
// dimension.
func Dequantize(q []int8, r QuantRange) []float32 {
	v := make([]float32, len(q))
	span := r.Max - r.Min
	for i, b := range q {
		v[i] = (float32(b)+128.0)/255.0*span + r.Min
	}
	return v
}

// HasDocumentChanged reports whether a document's raw text differs from the
// content indexed for it. Unknown documents count as changed.
func (s *Store) HasDocumentChanged(sourceDoc, rawText string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.fileHashes[sourceDoc]
	return !ok || stored != fs.HashContent(rawText)
}

// AddChunks replaces a document's indexed chunks and records its content
// hash. Each chunk's full-precision vector goes to the recency cache; only
// the quantized form is persisted.
func (s *Store) AddChunks(chunks []domain.Chunk, sourceDoc, rawText string) error {
	s.mu.Lock()

	kept := s.snippets[:0]
	for _, sn := range s.snippets {
		if sn.FilePath != sourceDoc {
			kept = append(kept, sn)
		}
	}
	s.snippets = kept

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		q, r := Quantize(c.Embedding)
		meta := r
		s.snippets = append(s.snippets, storedSnippet{
			ID:        c.ID,
			FilePath:  c.FilePath,
			FileName:  c.FileName,
			Text:      c.Text,
			Embedding: q,
			Metadata:  &meta,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Timestamp: c.CreatedAt,
		})
		s.recency.put(c.ID, c.Embedding)
	}

	s.fileHashes[sourceDoc] = fs.HashContent(rawText)
	s.mu.Unlock()

	return s.save()
}

// RemoveDocument drops a document's chunks and hash from the index.
func (s *Store) RemoveDocument(sourceDoc string) error {
	s.mu.Lock()
	kept := s.snippets[:0]
	removed := false
	for _, sn := range s.snippets {
		if sn.FilePath == sourceDoc {
			removed = true
			continue
		}
		kept = append(kept, sn)
	}
	s.snippets = kept
	if _, ok := s.fileHashes[sourceDoc]; ok {
		delete(s.fileHashes, sourceDoc)
		removed = true
	}
	s.mu.Unlock()

	if !removed {
		return nil
	}
	return s.save()
}

// Search computes cosine similarity of every stored chunk against the
// full-precision query and returns the top k. Chunks with missing
// quantization metadata are skipped with a warning.
func (s *Store) Search(query []float32, k int) ([]ScoredChunk, error) {
	if len(query) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]ScoredChunk, 0, len(s.snippets))
	for i := range s.snippets {
		sn := &s.snippets[i]
		if sn.Metadata == nil || len(sn.Embedding) == 0 {
			slog.Warn("vecstore: snippet missing quantization metadata, skipped", "id", sn.ID)
			continue
		}

		var vec []float32
		if cached, ok := s.recency.get(sn.ID); ok && len(cached) == len(query) {
			vec = cached
		} else {
			vec = Dequantize(sn.Embedding, *sn.Metadata)
		}

		sim := cosineSimilarity(query, vec)
		results = append(results, ScoredChunk{
			Chunk: domain.Chunk{
				ID:        sn.ID,
				FilePath:  sn.FilePath,
				FileName:  sn.FileName,
				Text:      sn.Text,
				StartLine: sn.StartLine,
				EndLine:   sn.EndLine,
				CreatedAt: sn.Timestamp,
			},
			Similarity: sim,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats returns corpus counts for the indexed snippets.
func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dim := 0
	if len(s.snippets) > 0 {
		dim = len(s.snippets[0].Embedding)
	}
	return domain.Stats{
		TotalDocs:   len(s.fileHashes),
		TotalChunks: len(s.snippets),
		Dimension:   dim,
	}
}

// DocumentHashes returns a copy of the per-document content-hash map.
func (s *Store) DocumentHashes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.fileHashes))
	for k, v := range s.fileHashes {
		out[k] = v
	}
	return out
}

// save rewrites the whole index file.
func (s *Store) save() error {
	s.mu.RLock()
	file := indexFile{
		Version:   SchemaVersion,
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now(),
		Snippets:  s.snippets,
	}
	file.FileHashes = make([][2]string, 0, len(s.fileHashes))
	for path, hash := range s.fileHashes {
		file.FileHashes = append(file.FileHashes, [2]string{path, hash})
	}
	sort.Slice(file.FileHashes, func(i, j int) bool {
		return file.FileHashes[i][0] < file.FileHashes[j][0]
	})
	s.mu.RUnlock()

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
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

// recencyCache is a bounded store of full-precision vectors, evicting the
// oldest-inserted entry when full.
type recencyCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	cap     int
}

func newRecencyCache(capacity int) *recencyCache {
	if capacity <= 0 {
		capacity = defaultRecencyCap
	}
	return &recencyCache{
		entries: make(map[string][]float32, capacity),
		order:   make([]string, 0, capacity),
		cap:     capacity,
	}
}

func (c *recencyCache) put(id string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; exists {
		c.entries[id] = vec
		return
	}
	if len(c.entries) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[id] = vec
	c.order = append(c.order, id)
}

func (c *recencyCache) get(id string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[id]
	return vec, ok
}

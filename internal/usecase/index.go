package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"evidence/internal/adapter/chunker"
	"evidence/internal/adapter/fs"
	"evidence/internal/adapter/lexical"
	"evidence/internal/adapter/vecstore"
	"evidence/internal/domain"
	"evidence/internal/port"
)

// yieldEvery is how many files are processed between cancellation checks.
const yieldEvery = 10

// ProgressFunc receives indexing progress updates.
type ProgressFunc func(processed, total int, currentFile string)

// IndexUseCase keeps the quantized store and the lexical index in sync with
// the corpus on disk. Only documents whose content hash changed are
// re-embedded.
type IndexUseCase struct {
	root      string
	walker    *fs.Walker
	chunker   *chunker.LineChunker
	embedder  port.Embedder
	store     *vecstore.Store
	lexical   *lexical.Index
	batchSize int

	mu   sync.RWMutex
	docs map[string]domain.Document // by file name
}

func NewIndexUseCase(
	root string,
	walker *fs.Walker,
	chunker *chunker.LineChunker,
	embedder port.Embedder,
	store *vecstore.Store,
	lexical *lexical.Index,
	batchSize int,
) *IndexUseCase {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &IndexUseCase{
		root:      root,
		walker:    walker,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		lexical:   lexical,
		batchSize: batchSize,
		docs:      make(map[string]domain.Document),
	}
}

// IndexResult contains the results of one indexing pass.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesRemoved  int
	ChunksCreated int
	UniqueNgrams  int
	Errors        []string
}

// EnsureIndexed walks the corpus, re-embeds changed documents, drops removed
// ones, and rebuilds the in-memory lexical index.
func (u *IndexUseCase) EnsureIndexed(ctx context.Context, progress ProgressFunc) (*IndexResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &IndexResult{}

	files, err := u.walker.Walk(u.root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}

	docs := make(map[string]domain.Document, len(files))
	seen := make(map[string]bool, len(files))

	for i, file := range files {
		if i%yieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if progress != nil {
			progress(i, len(files), file.Path)
		}

		doc, err := fs.LoadDocument(file.Path)
		if err != nil {
			slog.Warn("skipping unreadable corpus file", "path", file.Path, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to read %s: %v", file.Path, err))
			continue
		}
		docs[doc.Name] = doc
		seen[doc.Path] = true

		if !u.store.HasDocumentChanged(doc.Path, doc.Text) {
			result.FilesSkipped++
			continue
		}

		chunks := u.chunker.Chunk(doc)
		if err := u.embedChunks(ctx, chunks); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Leave the stored hash alone so the next pass retries.
			slog.Warn("embedding failed, document left unindexed", "path", doc.Path, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to embed %s: %v", doc.Path, err))
			continue
		}

		if err := u.store.AddChunks(chunks, doc.Path, doc.Text); err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", doc.Path, err)
		}
		result.FilesIndexed++
		result.ChunksCreated += len(chunks)
	}

	for path := range u.store.DocumentHashes() {
		if !seen[path] {
			if err := u.store.RemoveDocument(path); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s: %v", path, err))
				continue
			}
			result.FilesRemoved++
		}
	}

	build := u.lexical.Build(sortedDocs(docs))
	result.UniqueNgrams = build.UniqueNgramCount

	u.mu.Lock()
	u.docs = docs
	u.mu.Unlock()

	if progress != nil {
		progress(len(files), len(files), "")
	}

	return result, nil
}

// embedChunks fills in chunk embeddings in batches.
func (u *IndexUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	for i := 0; i < len(chunks); i += u.batchSize {
		end := i + u.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-i)
		for j := i; j < end; j++ {
			texts[j-i] = chunks[j].Text
		}

		vecs, err := u.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for j := range vecs {
			chunks[i+j].Embedding = vecs[j]
		}
	}
	return nil
}

// Documents returns the corpus documents loaded by the last indexing pass.
func (u *IndexUseCase) Documents() []domain.Document {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return sortedDocs(u.docs)
}

// Document returns one corpus document by file name.
func (u *IndexUseCase) Document(name string) (domain.Document, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	doc, ok := u.docs[name]
	return doc, ok
}

func sortedDocs(m map[string]domain.Document) []domain.Document {
	docs := make([]domain.Document, 0, len(m))
	for _, d := range m {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Name < docs[j].Name
	})
	return docs
}

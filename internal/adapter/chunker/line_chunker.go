package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"evidence/internal/domain"
)

// LineChunker splits document text into overlapping line windows.
// Line ranges are 1-based and inclusive.
type LineChunker struct {
	chunkLines   int
	overlapLines int
}

func NewLineChunker(chunkLines, overlapLines int) *LineChunker {
	if chunkLines <= 0 {
		chunkLines = 12
	}
	if overlapLines < 0 || overlapLines >= chunkLines {
		overlapLines = chunkLines / 4
	}
	return &LineChunker{
		chunkLines:   chunkLines,
		overlapLines: overlapLines,
	}
}

func (c *LineChunker) Chunk(doc domain.Document) []domain.Chunk {
	lines := strings.Split(doc.Text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	step := c.chunkLines - c.overlapLines

	for start := 0; start < len(lines); start += step {
		end := start + c.chunkLines
		if end > len(lines) {
			end = len(lines)
		}

		text := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if text != "" {
			chunks = append(chunks, domain.Chunk{
				ID:        chunkID(doc.Path, start+1, end),
				FilePath:  doc.Path,
				FileName:  doc.Name,
				Text:      text,
				StartLine: start + 1,
				EndLine:   end,
				CreatedAt: time.Now(),
			})
		}

		if end == len(lines) {
			break
		}
	}

	return chunks
}

func chunkID(path string, startLine, endLine int) string {
	data := fmt.Sprintf("%s:%d-%d", path, startLine, endLine)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}

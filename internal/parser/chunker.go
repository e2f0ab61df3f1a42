package parser

import (
	"fmt"
	"strings"

	"pdf-qa/internal/models"
)

// Chunker splits text into overlapping windows of at most size runes.
// Consecutive chunks share exactly overlap runes, and dropping the first
// overlap runes of every chunk but the first gives back the input unchanged.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window parameters.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap <= 0 {
		return nil, fmt.Errorf("%w: chunk_size (%d) and chunk_overlap (%d) must be positive", models.ErrChunking, size, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)", models.ErrChunking, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts content into chunks, preferring block, then sentence, then word
// boundaries in the second half of each window. Invalid UTF-8 sequences are
// replaced with U+FFFD first, so the chunks reassemble to the sanitized text.
func (c *Chunker) Split(content string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: input text is empty", models.ErrChunking)
	}
	content = strings.ToValidUTF8(content, "\uFFFD")

	runes := []rune(content)
	n := len(runes)
	if n <= c.size {
		return []string{content}, nil
	}

	bounds := findBoundaries(content, runes)
	var chunks []string
	start := 0
	for {
		if n-start <= c.size {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end := c.cut(bounds, start)
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}
	return chunks, nil
}

// cut picks the end of the chunk starting at start. The result is always in
// (start+overlap, start+size], so every step makes progress.
func (c *Chunker) cut(bounds boundaries, start int) int {
	hi := start + c.size
	lo := start + max(c.overlap+1, c.size/2)
	if lo > hi {
		lo = hi
	}
	for _, r := range []boundaryRank{rankParagraph, rankSentence, rankWord} {
		if pos := bounds.last(r, lo, hi); pos > 0 {
			return pos
		}
	}
	return hi
}

// Chunks splits the document text and attaches sequence, page and source.
func (c *Chunker) Chunks(doc *models.Document) ([]models.Chunk, error) {
	content, starts := doc.Text()
	parts, err := c.Split(content)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, len(parts))
	offset := 0
	for i, part := range parts {
		chunks[i] = models.Chunk{
			ID:     models.ChunkID(i),
			Seq:    i,
			Text:   part,
			Page:   doc.PageAt(starts, offset),
			Source: doc.Source,
		}
		offset += len([]rune(part)) - c.overlap
	}
	return chunks, nil
}

// Reassemble is the inverse of Split.
func Reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			b.WriteString(chunk)
			continue
		}
		r := []rune(chunk)
		if len(r) > overlap {
			b.WriteString(string(r[overlap:]))
		}
	}
	return b.String()
}

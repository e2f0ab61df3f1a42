package models

import (
	"sort"
	"strings"
	"time"
)

// TextSource tells where the text of a page came from.
type TextSource string

const (
	SourceDirect TextSource = "direct"
	SourceOCR    TextSource = "ocr"
)

// PageText is the text of one page, tagged with how it was obtained.
type PageText struct {
	Number  int        `json:"number"`
	Source  TextSource `json:"source"`
	Content string     `json:"content"`
}

// Document is one uploaded file after extraction. The raw bytes are not kept.
type Document struct {
	Source string     `json:"source"`
	Pages  []PageText `json:"pages"`
}

// Text joins the pages with PageSeparator and returns the rune offset at
// which every page starts.
func (d *Document) Text() (string, []int) {
	var b strings.Builder
	starts := make([]int, 0, len(d.Pages))
	offset := 0
	for i, p := range d.Pages {
		if i > 0 {
			b.WriteString(PageSeparator)
			offset += len([]rune(PageSeparator))
		}
		starts = append(starts, offset)
		b.WriteString(p.Content)
		offset += len([]rune(p.Content))
	}
	return b.String(), starts
}

// PageAt returns the page number containing rune offset pos, given the page
// starts returned by Text.
func (d *Document) PageAt(starts []int, pos int) int {
	if len(d.Pages) == 0 {
		return 0
	}
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > pos }) - 1
	if i < 0 {
		i = 0
	}
	return d.Pages[i].Number
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID     string `json:"id"`
	Seq    int    `json:"seq"`
	Text   string `json:"text"`
	Page   int    `json:"page"`
	Source string `json:"source,omitempty"`
}

// Hit is a retrieved chunk with its cosine similarity to the query.
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// EmbedderInfo identifies the embedding space of an index.
type EmbedderInfo struct {
	Backend   string `json:"backend" yaml:"backend"`
	Model     string `json:"model" yaml:"model"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

// Manifest is persisted beside every index.
type Manifest struct {
	Name         string    `json:"name" yaml:"name"`
	Backend      string    `json:"backend" yaml:"backend"`
	Model        string    `json:"model" yaml:"model"`
	Dimension    int       `json:"dimension" yaml:"dimension"`
	ChunkCount   int       `json:"chunk_count" yaml:"chunk_count"`
	ChunkSize    int       `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap" yaml:"chunk_overlap"`
	Source       string    `json:"source" yaml:"source"`
	BuildID      string    `json:"build_id" yaml:"build_id"`
	Compressed   bool      `json:"compressed" yaml:"compressed"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// Embedder returns the embedding space recorded in the manifest.
func (m Manifest) Embedder() EmbedderInfo {
	return EmbedderInfo{Backend: m.Backend, Model: m.Model, Dimension: m.Dimension}
}

type PromptResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Sources []Hit  `json:"sources,omitempty"`
}

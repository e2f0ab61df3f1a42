package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-qa/internal/models"
)

func TestNewChunkerRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 10},
		{"zero overlap", 100, 0},
		{"negative overlap", 100, -5},
		{"overlap equals size", 100, 100},
		{"overlap larger than size", 100, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			assert.ErrorIs(t, err, models.ErrChunking)
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	for _, in := range []string{"", "   ", "\n\n\t"} {
		_, err := c.Split(in)
		assert.ErrorIs(t, err, models.ErrChunking)
	}
}

func TestSplitShortInputIsOneChunk(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	chunks, err := c.Split("  short text, kept as is \n")
	require.NoError(t, err)
	assert.Equal(t, []string{"  short text, kept as is \n"}, chunks)
}

func sampleTexts() map[string]string {
	sentence := "The quick brown fox jumps over the lazy dog. "
	return map[string]string{
		"sentences":     strings.Repeat(sentence, 80),
		"paragraphs":    strings.Repeat(strings.Repeat(sentence, 4)+"\n\n", 20),
		"no whitespace": strings.Repeat("abcdefghij", 300),
		"unicode":       strings.Repeat("Grüße aus Köln! Ünïcödé façade, 東京で会いましょう。 ", 60),
		"markdown":      strings.Repeat("# Heading\n\n- item one\n- item two\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\nSome text follows here.\n\n", 25),
	}
}

func TestSplitProperties(t *testing.T) {
	params := []struct{ size, overlap int }{
		{1000, 200},
		{100, 10},
		{50, 49},
		{37, 5},
	}
	for name, text := range sampleTexts() {
		for _, p := range params {
			c, err := NewChunker(p.size, p.overlap)
			require.NoError(t, err)

			chunks, err := c.Split(text)
			require.NoError(t, err, name)
			require.NotEmpty(t, chunks)

			for i, chunk := range chunks {
				n := len([]rune(chunk))
				assert.LessOrEqual(t, n, p.size, "%s: chunk %d too long", name, i)
				if len(chunks) > 1 {
					assert.Greater(t, n, p.overlap, "%s: chunk %d not longer than overlap", name, i)
				}
				if i > 0 {
					prev := []rune(chunks[i-1])
					cur := []rune(chunk)
					assert.Equal(t, string(prev[len(prev)-p.overlap:]), string(cur[:p.overlap]),
						"%s: chunks %d and %d do not share the overlap", name, i-1, i)
				}
			}
			assert.Equal(t, text, Reassemble(chunks, p.overlap), "%s: reassembly lost text", name)
		}
	}
}

func TestSplitInvalidUTF8(t *testing.T) {
	c, err := NewChunker(20, 5)
	require.NoError(t, err)

	long := strings.Repeat("abc \xff def. ", 10)
	want := strings.ToValidUTF8(long, "\uFFFD")
	chunks, err := c.Split(long)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
	}
	assert.Equal(t, want, Reassemble(chunks, 5))

	// short input is sanitized the same way
	chunks, err = c.Split("a\xffb")
	require.NoError(t, err)
	assert.Equal(t, []string{"a\uFFFDb"}, chunks)
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	first := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 38) // 70 runes
	second := strings.Repeat("word ", 30)
	chunks, err := c.Split(first + "\n\n" + second)
	require.NoError(t, err)

	assert.Equal(t, first+"\n\n", chunks[0])
}

func TestSplitPrefersSentenceOverWord(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	text := strings.Repeat("x", 60) + ". then more words follow without a stop in sight at all here ok"
	chunks, err := c.Split(text)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("x", 60)+". ", chunks[0])
}

func TestSplitIsDeterministic(t *testing.T) {
	c, err := NewChunker(120, 20)
	require.NoError(t, err)

	text := sampleTexts()["paragraphs"]
	a, err := c.Split(text)
	require.NoError(t, err)
	b, err := c.Split(text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunksRecordPageAndSequence(t *testing.T) {
	c, err := NewChunker(200, 20)
	require.NoError(t, err)

	doc := &models.Document{
		Source: "report.pdf",
		Pages: []models.PageText{
			{Number: 1, Source: models.SourceDirect, Content: strings.Repeat("First page sentence. ", 20)},
			{Number: 3, Source: models.SourceOCR, Content: strings.Repeat("Third page sentence. ", 20)},
		},
	}
	chunks, err := c.Chunks(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Seq)
		assert.Equal(t, models.ChunkID(i), ch.ID)
		assert.Equal(t, "report.pdf", ch.Source)
	}
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[len(chunks)-1].Page)

	text, _ := doc.Text()
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Text
	}
	assert.Equal(t, text, Reassemble(parts, 20))
}

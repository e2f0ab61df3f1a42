package parser

import (
	"sort"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// boundaryRank orders cut candidates; a higher rank is preferred.
type boundaryRank int

const (
	rankWord boundaryRank = iota + 1
	rankSentence
	rankParagraph
)

// boundaries holds, per rank, the sorted rune offsets where a chunk may end.
type boundaries map[boundaryRank][]int

var blockParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// findBoundaries scans runes once for sentence and word breaks and asks
// goldmark for the start of every block, which covers paragraphs, headings,
// list items and tables.
func findBoundaries(src string, runes []rune) boundaries {
	b := boundaries{}

	// byte offset of every rune, to translate goldmark segments
	runeAt := make([]int, 0, len(runes))
	for i := range src {
		runeAt = append(runeAt, i)
	}
	toRune := func(byteOff int) int {
		return sort.SearchInts(runeAt, byteOff)
	}

	seen := map[int]bool{}
	doc := blockParser.Parse(text.NewReader([]byte(src)))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := n.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		pos := toRune(lines.At(0).Start)
		if pos > 0 && pos < len(runes) && !seen[pos] {
			seen[pos] = true
			b[rankParagraph] = append(b[rankParagraph], pos)
		}
		return ast.WalkContinue, nil
	})
	sort.Ints(b[rankParagraph])

	for i := 1; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i-1]) || unicode.IsSpace(runes[i]) {
			continue
		}
		// i is the first rune of a word; cut right before it
		b[rankWord] = append(b[rankWord], i)
		j := i - 1
		for j > 0 && unicode.IsSpace(runes[j]) {
			j--
		}
		switch runes[j] {
		case '.', '!', '?':
			b[rankSentence] = append(b[rankSentence], i)
		}
	}
	return b
}

// last returns the largest boundary of rank r within [lo, hi], or -1.
func (b boundaries) last(r boundaryRank, lo, hi int) int {
	list := b[r]
	i := sort.SearchInts(list, hi+1) - 1
	if i >= 0 && list[i] >= lo {
		return list[i]
	}
	return -1
}

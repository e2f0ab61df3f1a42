package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
	"pdf-qa/internal/testutil"
)

type fakeRecognizer struct {
	unavailable error
	failWith    error
	text        map[int]string
	requested   []int
}

func (f *fakeRecognizer) Available() error { return f.unavailable }

func (f *fakeRecognizer) RecognizePages(_ context.Context, _ []byte, pages []int) (map[int]string, error) {
	f.requested = append(f.requested, pages...)
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := map[int]string{}
	for _, p := range pages {
		if s, ok := f.text[p]; ok {
			out[p] = s
		}
	}
	return out, nil
}

func TestLoadPDFTextLayer(t *testing.T) {
	ocr := &fakeRecognizer{}
	l := NewLoader(config.OCRModeMissingPages, ocr)

	data := testutil.BuildPDF("Invoice INV-001\nTotal due: 450 USD", "Payment terms: 30 days")
	doc, err := l.Load(context.Background(), "invoice.pdf", data)
	require.NoError(t, err)

	require.Len(t, doc.Pages, 2)
	assert.Equal(t, "invoice.pdf", doc.Source)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, models.SourceDirect, doc.Pages[0].Source)
	assert.Contains(t, doc.Pages[0].Content, "450")
	assert.Contains(t, doc.Pages[1].Content, "30 days")
	assert.Empty(t, ocr.requested, "OCR must not run when every page has text")
}

func TestLoadPDFOCRFallbackPerPage(t *testing.T) {
	ocr := &fakeRecognizer{text: map[int]string{2: "Scanned receipt total 99"}}
	l := NewLoader(config.OCRModeMissingPages, ocr)

	doc, err := l.Load(context.Background(), "mixed.pdf", testutil.BuildPDF("Typed cover page", ""))
	require.NoError(t, err)

	assert.Equal(t, []int{2}, ocr.requested)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, models.SourceDirect, doc.Pages[0].Source)
	assert.Equal(t, models.PageText{Number: 2, Source: models.SourceOCR, Content: "Scanned receipt total 99"}, doc.Pages[1])
}

func TestLoadPDFAllEmptyModeSkipsMixedDocuments(t *testing.T) {
	ocr := &fakeRecognizer{text: map[int]string{2: "never used"}}
	l := NewLoader(config.OCRModeAllEmpty, ocr)

	doc, err := l.Load(context.Background(), "mixed.pdf", testutil.BuildPDF("Typed cover page", ""))
	require.NoError(t, err)

	assert.Empty(t, ocr.requested)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, 1, doc.Pages[0].Number)
}

func TestLoadPDFScannedDocument(t *testing.T) {
	ocr := &fakeRecognizer{text: map[int]string{1: "page one by ocr", 2: "page two by ocr"}}
	l := NewLoader(config.OCRModeAllEmpty, ocr)

	doc, err := l.Load(context.Background(), "scan.pdf", testutil.BuildPDF("", ""))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, ocr.requested)
	require.Len(t, doc.Pages, 2)
	for _, p := range doc.Pages {
		assert.Equal(t, models.SourceOCR, p.Source)
	}
}

func TestLoadPDFOCRUnavailable(t *testing.T) {
	missing := fmt.Errorf("%w: tesseract not found", models.ErrOCRUnavailable)

	t.Run("no text at all", func(t *testing.T) {
		l := NewLoader(config.OCRModeMissingPages, &fakeRecognizer{unavailable: missing})
		_, err := l.Load(context.Background(), "scan.pdf", testutil.BuildPDF(""))
		assert.ErrorIs(t, err, models.ErrOCRUnavailable)
	})

	t.Run("nil engine", func(t *testing.T) {
		l := NewLoader(config.OCRModeMissingPages, nil)
		_, err := l.Load(context.Background(), "scan.pdf", testutil.BuildPDF(""))
		assert.ErrorIs(t, err, models.ErrOCRUnavailable)
	})

	t.Run("text layer is enough", func(t *testing.T) {
		l := NewLoader(config.OCRModeMissingPages, &fakeRecognizer{unavailable: missing})
		doc, err := l.Load(context.Background(), "mixed.pdf", testutil.BuildPDF("has text", ""))
		require.NoError(t, err)
		assert.Len(t, doc.Pages, 1)
	})
}

func TestLoadPDFNoReadableText(t *testing.T) {
	t.Run("ocr off", func(t *testing.T) {
		l := NewLoader(config.OCRModeOff, &fakeRecognizer{})
		_, err := l.Load(context.Background(), "scan.pdf", testutil.BuildPDF("", ""))
		assert.ErrorIs(t, err, models.ErrExtraction)
	})

	t.Run("ocr finds nothing", func(t *testing.T) {
		l := NewLoader(config.OCRModeMissingPages, &fakeRecognizer{text: map[int]string{1: "  \n"}})
		_, err := l.Load(context.Background(), "scan.pdf", testutil.BuildPDF(""))
		assert.ErrorIs(t, err, models.ErrExtraction)
	})

	t.Run("ocr fails", func(t *testing.T) {
		l := NewLoader(config.OCRModeMissingPages, &fakeRecognizer{failWith: errors.New("render failed")})
		_, err := l.Load(context.Background(), "scan.pdf", testutil.BuildPDF(""))
		assert.ErrorIs(t, err, models.ErrExtraction)
	})
}

func TestLoadRejectsBadInput(t *testing.T) {
	l := NewLoader(config.OCRModeOff, nil)

	_, err := l.Load(context.Background(), "broken.pdf", []byte("this is not a pdf"))
	assert.ErrorIs(t, err, models.ErrExtraction)

	_, err = l.Load(context.Background(), "empty.pdf", nil)
	assert.ErrorIs(t, err, models.ErrExtraction)

	_, err = l.Load(context.Background(), "image.png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestLoadPlainText(t *testing.T) {
	l := NewLoader(config.OCRModeOff, nil)

	doc, err := l.Load(context.Background(), "notes.md", []byte("# Notes\n\nremember the milk"))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "# Notes\n\nremember the milk", doc.Pages[0].Content)
}

func TestLoadLatin1TextIsValidUTF8(t *testing.T) {
	l := NewLoader(config.OCRModeOff, nil)

	doc, err := l.Load(context.Background(), "legacy.txt", []byte("caf\xe9 au lait"))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "caf\uFFFD au lait", doc.Pages[0].Content)
}

func zipFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadPPTXOrdersSlides(t *testing.T) {
	data := zipFiles(t, map[string]string{
		"ppt/slides/slide10.xml": `<p:sld><a:t>Tenth</a:t></p:sld>`,
		"ppt/slides/slide2.xml":  `<p:sld><a:t>Second</a:t><a:t>slide &amp; more</a:t></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld><a:t>First</a:t></p:sld>`,
		"ppt/slides/_rels/x.xml": `<a:t>ignored</a:t>`,
	})

	doc, err := NewLoader(config.OCRModeOff, nil).Load(context.Background(), "deck.pptx", data)
	require.NoError(t, err)

	require.Len(t, doc.Pages, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{doc.Pages[0].Number, doc.Pages[1].Number, doc.Pages[2].Number})
	assert.Equal(t, "Second slide & more", doc.Pages[1].Content)
}

func TestLoadDOCX(t *testing.T) {
	data := zipFiles(t, map[string]string{
		"[Content_Types].xml":          `<Types/>`,
		"word/_rels/document.xml.rels": `<Relationships/>`,
		"word/document.xml": `<w:document><w:body>` +
			`<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>Revenue grew by 12%</w:t></w:r></w:p>` +
			`</w:body></w:document>`,
	})

	doc, err := NewLoader(config.OCRModeOff, nil).Load(context.Background(), "report.docx", data)
	require.NoError(t, err)

	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "Quarterly report\n\nRevenue grew by 12%", doc.Pages[0].Content)
}

func TestLoadSpreadsheets(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Amount"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Widget"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 450))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l := NewLoader(config.OCRModeOff, nil)
	for _, name := range []string{"sales.xlsx", "sales.xlsm"} {
		doc, err := l.Load(context.Background(), name, buf.Bytes())
		require.NoError(t, err, name)
		require.Len(t, doc.Pages, 1, name)
		assert.Contains(t, doc.Pages[0].Content, "## Sheet: Sheet1", name)
		assert.Contains(t, doc.Pages[0].Content, "Widget\t450", name)
	}
}

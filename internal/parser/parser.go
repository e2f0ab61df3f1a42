package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"

	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// Recognizer turns rendered pages into text. Pages are 1-based. A page that
// could not be recognized is left out of the result.
type Recognizer interface {
	Available() error
	RecognizePages(ctx context.Context, data []byte, pages []int) (map[int]string, error)
}

// Loader turns an uploaded file into a Document of non-empty pages.
type Loader struct {
	ocrMode string
	ocr     Recognizer
}

// NewLoader returns a Loader. ocr may be nil when mode is off.
func NewLoader(ocrMode string, ocr Recognizer) *Loader {
	if ocrMode == "" {
		ocrMode = config.OCRModeMissingPages
	}
	return &Loader{ocrMode: ocrMode, ocr: ocr}
}

// Load dispatches on the file extension.
func (l *Loader) Load(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrExtraction, filename)
	}

	var (
		pages []models.PageText
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		pages, err = l.loadPDF(ctx, data)
	case ".docx":
		pages, err = parseDOCX(data)
	case ".pptx":
		pages, err = parsePPTX(data)
	case ".xlsx":
		pages, err = parseXLSX(data)
	case ".xlsm", ".xltx":
		pages, err = parseSpreadsheet(data)
	case ".txt", ".md":
		pages = []models.PageText{{Number: 1, Source: models.SourceDirect, Content: string(data)}}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	pages = nonEmpty(pages)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no readable text in %s", models.ErrExtraction, filename)
	}

	log.Debug().Str("file", filename).Int("pages", len(pages)).Msg("document loaded")
	return &models.Document{Source: filepath.Base(filename), Pages: pages}, nil
}

// nonEmpty drops blank pages and replaces invalid UTF-8 in the rest.
func nonEmpty(pages []models.PageText) []models.PageText {
	out := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p.Content) != "" {
			p.Content = strings.ToValidUTF8(p.Content, "\uFFFD")
			out = append(out, p)
		}
	}
	return out
}

var (
	docxParagraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRe      = regexp.MustCompile(`(?s)<w:t(?: [^>]*)?>(.*?)</w:t>`)
	slideTextRe     = regexp.MustCompile(`(?s)<a:t>(.*?)</a:t>`)
	slideNameRe     = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func parseDOCX(data []byte) ([]models.PageText, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: read docx: %w", models.ErrExtraction, err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range docxParagraphRe.FindAllString(content, -1) {
		var line strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(p, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	// DOCX has no page numbers
	return []models.PageText{{Number: 1, Source: models.SourceDirect, Content: strings.Join(paragraphs, "\n\n")}}, nil
}

func parsePPTX(data []byte) ([]models.PageText, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: read pptx: %w", models.ErrExtraction, err)
	}

	var pages []models.PageText
	for _, file := range zr.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			log.Warn().Err(err).Str("slide", file.Name).Msg("skipping unreadable slide")
			continue
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warn().Err(err).Str("slide", file.Name).Msg("skipping unreadable slide")
			continue
		}
		pages = append(pages, models.PageText{Number: num, Source: models.SourceDirect, Content: extractTextFromXML(string(body))})
	}
	// zip order is not slide order
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func extractTextFromXML(xmlContent string) string {
	var parts []string
	for _, m := range slideTextRe.FindAllStringSubmatch(xmlContent, -1) {
		parts = append(parts, html.UnescapeString(m[1]))
	}
	return strings.Join(parts, " ")
}

func parseXLSX(data []byte) ([]models.PageText, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("%w: read xlsx: %w", models.ErrExtraction, err)
	}

	var pages []models.PageText
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.PageText{Number: sheetNum + 1, Source: models.SourceDirect, Content: text.String()})
	}
	return pages, nil
}

func parseSpreadsheet(data []byte) ([]models.PageText, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: read spreadsheet: %w", models.ErrExtraction, err)
	}
	defer f.Close()

	var pages []models.PageText
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("skipping unreadable sheet")
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.PageText{Number: sheetNum + 1, Source: models.SourceDirect, Content: text.String()})
	}
	return pages, nil
}

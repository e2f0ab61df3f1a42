package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

func (l *Loader) loadPDF(ctx context.Context, data []byte) ([]models.PageText, error) {
	pages, err := readTextLayer(data)
	if err != nil {
		return nil, err
	}

	missing := l.pagesForOCR(pages)
	if len(missing) == 0 {
		return pages, nil
	}

	recognized, err := l.recognize(ctx, data, missing)
	if err != nil {
		if errors.Is(err, models.ErrOCRUnavailable) && hasText(pages) {
			// the text layer alone still gives a usable document
			log.Warn().Err(err).Ints("pages", missing).Msg("skipping OCR for pages without text")
			return pages, nil
		}
		return nil, err
	}

	for i := range pages {
		if text, ok := recognized[pages[i].Number]; ok && strings.TrimSpace(text) != "" {
			pages[i] = models.PageText{Number: pages[i].Number, Source: models.SourceOCR, Content: text}
		}
	}
	if !hasText(pages) {
		return nil, fmt.Errorf("%w: no readable text in document, even after OCR", models.ErrExtraction)
	}
	return pages, nil
}

// readTextLayer returns one entry per page, in order, including blank pages.
func readTextLayer(data []byte) (pages []models.PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: malformed pdf: %v", models.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", models.ErrExtraction, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", models.ErrExtraction)
	}
	pages = make([]models.PageText, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				log.Warn().Err(err).Int("page", i).Msg("failed to read page text")
				text = ""
			}
		}
		pages = append(pages, models.PageText{Number: i, Source: models.SourceDirect, Content: text})
	}
	return pages, nil
}

// pagesForOCR lists the pages the configured mode wants recognized.
func (l *Loader) pagesForOCR(pages []models.PageText) []int {
	var blank []int
	for _, p := range pages {
		if strings.TrimSpace(p.Content) == "" {
			blank = append(blank, p.Number)
		}
	}

	switch l.ocrMode {
	case config.OCRModeOff:
		return nil
	case config.OCRModeAllEmpty:
		if len(blank) != len(pages) {
			return nil
		}
	}
	return blank
}

func (l *Loader) recognize(ctx context.Context, data []byte, pages []int) (map[int]string, error) {
	if l.ocr == nil {
		return nil, fmt.Errorf("%w: no OCR engine configured", models.ErrOCRUnavailable)
	}
	if err := l.ocr.Available(); err != nil {
		return nil, err
	}

	log.Info().Ints("pages", pages).Msg("running OCR on pages without a text layer")
	out, err := l.ocr.RecognizePages(ctx, data, pages)
	if err != nil {
		if errors.Is(err, models.ErrOCRUnavailable) || errors.Is(err, models.ErrExtraction) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ocr: %w", models.ErrExtraction, err)
	}
	return out, nil
}

func hasText(pages []models.PageText) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Content) != "" {
			return true
		}
	}
	return false
}

// Package ocr recognizes text on PDF pages that have no text layer. Pages are
// rendered with MuPDF and read by the tesseract command line tool.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
)

type Engine struct {
	binary   string
	tessdata string
	language string
	dpi      float64
}

func NewEngine(cfg config.OCRConfig) *Engine {
	e := &Engine{
		binary:   cfg.TesseractPath,
		tessdata: cfg.TessdataDir,
		language: cfg.Language,
		dpi:      cfg.DPI,
	}
	if e.binary == "" {
		e.binary = "tesseract"
	}
	if e.language == "" {
		e.language = "eng"
	}
	if e.dpi <= 0 {
		e.dpi = 300
	}
	return e
}

// Available reports ErrOCRUnavailable when the tesseract binary cannot be found.
func (e *Engine) Available() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%w: %s not found: %w", models.ErrOCRUnavailable, e.binary, err)
	}
	return nil
}

// RecognizePages renders each requested page (1-based) and runs tesseract on
// it. Pages that fail are logged and left out of the result.
func (e *Engine) RecognizePages(ctx context.Context, data []byte, pages []int) (map[int]string, error) {
	if err := e.Available(); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf for rendering: %w", models.ErrExtraction, err)
	}
	defer doc.Close()

	tempFolder, err := os.MkdirTemp("", "pdf-qa-ocr-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempFolder)

	out := make(map[int]string, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if page < 1 || page > doc.NumPage() {
			log.Warn().Int("page", page).Int("pages", doc.NumPage()).Msg("ocr page out of range")
			continue
		}
		text, err := e.recognizePage(ctx, doc, tempFolder, page)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("ocr failed, dropping page")
			continue
		}
		out[page] = text
	}
	return out, nil
}

func (e *Engine) recognizePage(ctx context.Context, doc *fitz.Document, dir string, page int) (string, error) {
	img, err := doc.ImageDPI(page-1, e.dpi)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}

	imageFile := filepath.Join(dir, fmt.Sprintf("page-%04d.png", page))
	f, err := os.Create(imageFile)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode page image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	ocrCmd := exec.CommandContext(ctx, e.binary,
		imageFile,
		"stdout",
		"-l", e.language,
		"--psm", "3",
	)
	if e.tessdata != "" {
		ocrCmd.Env = append(os.Environ(), "TESSDATA_PREFIX="+e.tessdata)
	}
	var ocrOut, ocrErr bytes.Buffer
	ocrCmd.Stdout = &ocrOut
	ocrCmd.Stderr = &ocrErr
	if err := ocrCmd.Run(); err != nil {
		return "", fmt.Errorf("failed to run tesseract: %w: %s", err, strings.TrimSpace(ocrErr.String()))
	}

	text := strings.TrimSpace(ocrOut.String())
	if text == "" {
		return "", fmt.Errorf("got nothing at page %d", page)
	}
	return text, nil
}

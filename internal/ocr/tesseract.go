// Package ocr provides a local Tesseract engine as an alternative to remote OCR.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// DefaultLanguages are the Tesseract traineddata names used when none are given.
var DefaultLanguages = []string{"ara", "eng"}

// PageImager supplies the images of a page range. *pdf.Source implements it.
type PageImager interface {
	PageImages(start, end int) (map[int][][]byte, error)
}

// TesseractExtractor is a pipeline.BatchExtractor that OCRs the page images of each batch
// locally. Output follows the remote engine's layout: every page starts with "PAGE n".
type TesseractExtractor struct {
	images    PageImager
	languages []string
	recognize func(img []byte, languages []string) (string, error)
}

// NewTesseractExtractor builds an extractor over images. Languages default to
// DefaultLanguages.
func NewTesseractExtractor(images PageImager, languages ...string) *TesseractExtractor {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	return &TesseractExtractor{images: images, languages: languages, recognize: recognizeImage}
}

func (t *TesseractExtractor) Extract(ctx context.Context, b pipeline.Batch) (string, error) {
	pageImages, err := t.images.PageImages(b.StartPage, b.EndPage)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for page := b.StartPage; page <= b.EndPage; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "PAGE %d", page)
		for i, img := range pageImages[page] {
			text, err := t.recognize(img, t.languages)
			if err != nil {
				return "", fmt.Errorf("page %d image %d: %w", page, i+1, err)
			}
			if text != "" {
				sb.WriteString("\n")
				sb.WriteString(text)
			}
		}
	}
	return sb.String(), nil
}

func recognizeImage(img []byte, languages []string) (string, error) {
	c := gosseract.NewClient()
	defer c.Close()
	if err := c.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

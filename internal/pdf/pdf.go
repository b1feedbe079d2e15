package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const MIMEType = "application/pdf"

// pageSeparator separates pages in extracted text, as pdftotext does.
const pageSeparator = "\f"

// Source is a validated, optimized PDF held in memory.
type Source struct {
	data      []byte
	pageCount int
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Load validates and optimizes a PDF. Scanned documents often carry minor structural
// defects, so validation is relaxed.
func Load(r io.ReadSeeker) (*Source, error) {
	var optimized bytes.Buffer
	if err := api.Optimize(r, &optimized, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	data := optimized.Bytes()
	pageCount, err := api.PageCount(bytes.NewReader(data), relaxedConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	return &Source{data: data, pageCount: pageCount}, nil
}

// LoadFile loads the PDF at path.
func LoadFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// PageCount returns the number of pages.
func (s *Source) PageCount() int { return s.pageCount }

// Bytes returns the optimized PDF.
func (s *Source) Bytes() []byte { return s.data }

// Document describes the source for the pipeline.
func (s *Source) Document(id, name string) pipeline.Document {
	return pipeline.Document{
		ID:        id,
		Name:      name,
		ByteSize:  int64(len(s.data)),
		PageCount: s.pageCount,
		MIMEType:  MIMEType,
	}
}

// PageRange returns a standalone PDF holding pages start..end (1-based, inclusive).
func (s *Source) PageRange(start, end int) ([]byte, error) {
	if start < 1 || end < start || end > s.pageCount {
		return nil, fmt.Errorf("page range %d-%d outside document of %d pages", start, end, s.pageCount)
	}
	var out bytes.Buffer
	pages := []string{fmt.Sprintf("%d-%d", start, end)}
	if err := api.Trim(bytes.NewReader(s.data), &out, pages, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("failed to slice pages %d-%d: %w", start, end, err)
	}
	return out.Bytes(), nil
}

// Text reads the embedded text layer of every page. Pages are separated by a form feed.
// A page whose content cannot be read contributes no text.
func (s *Source) Text() (string, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(s.data), relaxedConfig())
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}
	pages := make([]string, 0, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pages = append(pages, pageText(ctx, pageNr))
	}
	return strings.Join(pages, pageSeparator), nil
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return ParseContentStream(data)
}

// PageRangeExtractor fills each batch payload with the batch's pages as a standalone PDF
// before delegating to the wrapped extractor.
type PageRangeExtractor struct {
	Source *Source
	Next   pipeline.BatchExtractor
}

func (p PageRangeExtractor) Extract(ctx context.Context, b pipeline.Batch) (string, error) {
	if len(b.Payload) == 0 {
		payload, err := p.Source.PageRange(b.StartPage, b.EndPage)
		if err != nil {
			return "", err
		}
		b.Payload = payload
	}
	return p.Next.Extract(ctx, b)
}

package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()
	var (
		buf     bytes.Buffer
		offsets []int
	)
	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	kids := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}
	object("<< /Type /Catalog /Pages 2 0 R >>")
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i := 1; i <= pages; i++ {
		content := fmt.Sprintf("BT /F1 12 Tf 72 700 Td (Page %d text) Tj ET", i)
		object(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*(i-1)))
		object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func loadTestPDF(t *testing.T, pages int) *Source {
	t.Helper()
	src, err := Load(bytes.NewReader(buildPDF(t, pages)))
	require.NoError(t, err)
	return src
}

func TestLoad_MultiPage(t *testing.T) {
	src := loadTestPDF(t, 3)
	assert.Equal(t, 3, src.PageCount())
	assert.NotEmpty(t, src.Bytes())

	doc := src.Document("doc-1", "scan.pdf")
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "scan.pdf", doc.Name)
	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, int64(len(src.Bytes())), doc.ByteSize)
	assert.Equal(t, MIMEType, doc.MIMEType)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, buildPDF(t, 2), 0o644))

	src, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, src.PageCount())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestSource_PageRange(t *testing.T) {
	src := loadTestPDF(t, 5)
	for _, r := range [][2]int{{1, 1}, {2, 4}, {1, 5}, {5, 5}} {
		data, err := src.PageRange(r[0], r[1])
		require.NoError(t, err, "%v", r)

		slice, err := Load(bytes.NewReader(data))
		require.NoError(t, err, "%v", r)
		assert.Equal(t, r[1]-r[0]+1, slice.PageCount(), "%v", r)
	}
}

func TestSource_PageRangeKeepsPageText(t *testing.T) {
	src := loadTestPDF(t, 4)
	data, err := src.PageRange(3, 4)
	require.NoError(t, err)
	slice, err := Load(bytes.NewReader(data))
	require.NoError(t, err)

	text, err := slice.Text()
	require.NoError(t, err)
	assert.Equal(t, []string{"Page 3 text", "Page 4 text"}, strings.Split(text, pageSeparator))
}

func TestSource_Text(t *testing.T) {
	src := loadTestPDF(t, 3)
	text, err := src.Text()
	require.NoError(t, err)

	pages := strings.Split(text, pageSeparator)
	require.Len(t, pages, 3)
	for i, page := range pages {
		assert.Equal(t, fmt.Sprintf("Page %d text", i+1), page)
	}
}

func TestSource_PageImagesWithoutImages(t *testing.T) {
	src := loadTestPDF(t, 3)
	images, err := src.PageImages(1, 3)
	require.NoError(t, err)
	assert.Empty(t, images)

	_, err = src.PageImages(2, 4)
	assert.Error(t, err)
}

func TestPageRangeExtractor_SlicesBatchPages(t *testing.T) {
	src := loadTestPDF(t, 6)
	var payloadPages []int
	next := pipeline.ExtractorFunc(func(ctx context.Context, b pipeline.Batch) (string, error) {
		slice, err := Load(bytes.NewReader(b.Payload))
		if err != nil {
			return "", err
		}
		payloadPages = append(payloadPages, slice.PageCount())
		return slice.Text()
	})
	ex := PageRangeExtractor{Source: src, Next: next}

	plan, err := pipeline.Plan(src.Document("doc", "scan.pdf"), pipeline.PlanConfig{PagesPerBatch: 4})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	var texts []string
	for _, b := range plan {
		text, err := ex.Extract(context.Background(), b)
		require.NoError(t, err)
		texts = append(texts, text)
	}
	assert.Equal(t, []int{4, 2}, payloadPages)
	assert.Equal(t, "Page 5 text"+pageSeparator+"Page 6 text", texts[1])
}

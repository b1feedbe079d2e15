package pdf

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageImages returns the encoded images embedded on pages start..end, keyed by page
// number. Scanned pages usually carry a single full-page image.
func (s *Source) PageImages(start, end int) (map[int][][]byte, error) {
	if start < 1 || end < start || end > s.pageCount {
		return nil, fmt.Errorf("page range %d-%d outside document of %d pages", start, end, s.pageCount)
	}
	pages := []string{fmt.Sprintf("%d-%d", start, end)}
	extracted, err := api.ExtractImagesRaw(bytes.NewReader(s.data), pages, relaxedConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to extract images from pages %d-%d: %w", start, end, err)
	}

	out := make(map[int][][]byte, end-start+1)
	for _, byObj := range extracted {
		objNrs := make([]int, 0, len(byObj))
		for objNr := range byObj {
			objNrs = append(objNrs, objNr)
		}
		slices.Sort(objNrs)
		for _, objNr := range objNrs {
			img := byObj[objNr]
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("failed to read image %s on page %d: %w", img.Name, img.PageNr, err)
			}
			out[img.PageNr] = append(out[img.PageNr], data)
		}
	}
	return out, nil
}

package pipeline

// PlanConfig controls how a document is partitioned into batches.
type PlanConfig struct {
	PagesPerBatch int
	// OverlapPages extends every batch after the first backwards by this many pages.
	// Overlapping text is not deduplicated by the merger.
	OverlapPages int
	// MaxBatches truncates the plan when > 0. Zero plans every page.
	MaxBatches int
}

func (c PlanConfig) validate() error {
	if c.PagesPerBatch <= 0 {
		return configError("pagesPerBatch must be > 0, got %d", c.PagesPerBatch)
	}
	if c.OverlapPages < 0 {
		return configError("overlapPages must be >= 0, got %d", c.OverlapPages)
	}
	if c.OverlapPages >= c.PagesPerBatch {
		return configError("overlapPages (%d) must be smaller than pagesPerBatch (%d)", c.OverlapPages, c.PagesPerBatch)
	}
	if c.MaxBatches < 0 {
		return configError("maxBatches must be >= 0, got %d", c.MaxBatches)
	}
	return nil
}

// Plan partitions doc into ordered batches numbered from 1. It is a pure function of its
// inputs. A document without pages yields an empty plan.
func Plan(doc Document, cfg PlanConfig) ([]Batch, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	total := doc.PageCount
	if total <= 0 {
		return []Batch{}, nil
	}

	count := (total + cfg.PagesPerBatch - 1) / cfg.PagesPerBatch
	if cfg.MaxBatches > 0 && cfg.MaxBatches < count {
		count = cfg.MaxBatches
	}

	batches := make([]Batch, 0, count)
	for n := 1; n <= count; n++ {
		coreStart := 1 + (n-1)*cfg.PagesPerBatch
		end := min(coreStart+cfg.PagesPerBatch-1, total)
		start := coreStart
		if n > 1 {
			start = max(1, coreStart-cfg.OverlapPages)
		}
		batches = append(batches, Batch{
			Number:    n,
			StartPage: start,
			EndPage:   end,
		})
	}
	return batches, nil
}

const (
	defaultPagesPerBatch = 20
	largeDocPages        = 300
	hugeDocPages         = 500
	// Above this average page size the document is image-dominated.
	heavyPageBytes = 1 << 20
)

// RecommendBatchSize is advice only: smaller batches for long documents and for documents
// whose pages are dominated by images. It never returns less than 1.
func RecommendBatchSize(doc Document) int {
	size := defaultPagesPerBatch
	switch {
	case doc.PageCount > hugeDocPages:
		size = 5
	case doc.PageCount > largeDocPages:
		size = 10
	}
	if doc.BytesPerPage() > heavyPageBytes {
		size /= 2
	}
	return max(size, 1)
}

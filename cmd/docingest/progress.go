package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// batchProgress renders pipeline progress events as a progress bar on stderr. The bar is
// created on the first event, when the batch count is known.
type batchProgress struct {
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	done   int
	failed int
}

func (p *batchProgress) handle(ev pipeline.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = progressbar.NewOptions(ev.TotalBatches,
			progressbar.OptionSetDescription("Extracting batches"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
		)
	}

	switch ev.Status {
	case pipeline.ProgressRetrying:
		p.bar.Describe(fmt.Sprintf("Retrying batch %d (attempt %d)", ev.BatchNumber, ev.Attempt))
	case pipeline.ProgressCompleted, pipeline.ProgressFailed:
		p.done++
		if ev.Status == pipeline.ProgressFailed {
			p.failed++
		}
		p.bar.Describe(fmt.Sprintf("Extracting batches (%d failed)", p.failed))
		_ = p.bar.Set(p.done)
	}
}

func (p *batchProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

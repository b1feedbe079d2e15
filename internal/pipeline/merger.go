package pipeline

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Markers are the literal boundary strings written into merged text. Both formats take the
// batch number, start page and end page; FailurePlaceholder also takes the error text.
type Markers struct {
	BatchHeader        string
	FailurePlaceholder string
	UnknownError       string
}

var (
	EnglishMarkers = Markers{
		BatchHeader:        "===== Batch %d (pages %d-%d) =====",
		FailurePlaceholder: "[[ Batch %d failed: pages %d-%d were not extracted: %s ]]",
		UnknownError:       "unknown error",
	}
	ArabicMarkers = Markers{
		BatchHeader:        "===== الدفعة %d (الصفحات %d-%d) =====",
		FailurePlaceholder: "[[ فشلت الدفعة %d: لم يتم استخراج الصفحات %d-%d: %s ]]",
		UnknownError:       "خطأ غير معروف",
	}
)

// MarkersFor returns the marker set for a language tag ("ar" or anything else for English).
func MarkersFor(lang string) Markers {
	if strings.HasPrefix(strings.ToLower(lang), "ar") {
		return ArabicMarkers
	}
	return EnglishMarkers
}

const sectionSeparator = "\n\n"

// Merger assembles batch outcomes into a document-level result. It is the only place
// outcomes are put into batch-number order.
type Merger struct {
	markers Markers
}

// NewMerger returns a Merger writing the given markers.
func NewMerger(m Markers) *Merger {
	return &Merger{markers: m}
}

// Merge sorts outcomes by batch number and concatenates them. Failed batches leave a
// placeholder naming the page range and the error, so gaps stay locatable.
func (m *Merger) Merge(outcomes []BatchOutcome) MergedResult {
	sorted := slices.Clone(outcomes)
	slices.SortStableFunc(sorted, func(a, b BatchOutcome) int {
		return cmp.Compare(a.BatchNumber, b.BatchNumber)
	})

	var (
		res      MergedResult
		sections = make([]string, 0, len(sorted))
		elapsed  time.Duration
	)
	for _, o := range sorted {
		elapsed += o.Elapsed
		if o.Success {
			res.SuccessfulBatches++
			header := fmt.Sprintf(m.markers.BatchHeader, o.BatchNumber, o.StartPage, o.EndPage)
			sections = append(sections, header+"\n"+o.Text)
			continue
		}
		reason := m.markers.UnknownError
		if o.Err != nil {
			reason = o.Err.Error()
		}
		res.FailedBatches = append(res.FailedBatches, o.BatchNumber)
		res.FailedRanges = append(res.FailedRanges, PageRange{Start: o.StartPage, End: o.EndPage})
		sections = append(sections, fmt.Sprintf(m.markers.FailurePlaceholder, o.BatchNumber, o.StartPage, o.EndPage, reason))
	}

	res.Text = strings.Join(sections, sectionSeparator)
	res.TotalProcessingTime = elapsed
	switch {
	case len(res.FailedBatches) == 0:
		res.Status = StatusCompleted
	case res.SuccessfulBatches == 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusPartiallyCompleted
	}
	return res
}

// Merge merges with English markers.
func Merge(outcomes []BatchOutcome) MergedResult {
	return NewMerger(EnglishMarkers).Merge(outcomes)
}

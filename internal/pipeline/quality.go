package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quality verdict reasons, in evaluation order.
const (
	ReasonLowDensity    = "low density"
	ReasonHighGarbage   = "high garbage"
	ReasonLowScript     = "low target-script content"
	ReasonAcceptable    = "acceptable"
	defaultGarbageRegex = `\x{FFFD}` + // replacement character
		`|[\x00-\x08\x0B\x0E-\x1F\x7F]` + // control characters other than \t \n \f \r
		`|[\x{E000}-\x{F8FF}]` + // private use area (CID fonts without ToUnicode)
		`|[ØÙÚÛ][\x{0080}-\x{00BF}]` + // UTF-8 Arabic decoded as Latin-1
		`|Ã[\x{0080}-\x{00BF}]` +
		`|[\x{25A0}-\x{25A1}\x{25AF}]{2,}` // tofu boxes
)

// Route is the hybrid routing decision for a document.
type Route string

const (
	RouteLocal     Route = "local"
	RouteRemoteOCR Route = "remote-ocr"
)

// QualityThresholds configures the evaluator's decision policy.
type QualityThresholds struct {
	MinTextDensity  float64 // non-whitespace characters per page
	MaxGarbageRatio float64
	MinScriptRatio  float64
	// Script is the target script. Defaults to Arabic.
	Script *unicode.RangeTable
	// GarbagePatterns replaces the built-in corruption signatures when set.
	GarbagePatterns []string
}

// DefaultQualityThresholds returns the production policy.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinTextDensity:  100,
		MaxGarbageRatio: 0.05,
		MinScriptRatio:  0.50,
		Script:          unicode.Arabic,
	}
}

// QualityMetrics is the value-type verdict for one document's local text.
type QualityMetrics struct {
	TextDensity  float64
	GarbageRatio float64
	ScriptRatio  float64
	IsAcceptable bool
	Reason       string
	Detail       string
}

// Route returns RouteLocal for acceptable text and RouteRemoteOCR otherwise.
func (m QualityMetrics) Route() Route {
	if m.IsAcceptable {
		return RouteLocal
	}
	return RouteRemoteOCR
}

// QualityEvaluator scores locally extracted text. It is stateless and safe for concurrent use.
type QualityEvaluator struct {
	thresholds QualityThresholds
	garbage    *regexp.Regexp
}

// NewQualityEvaluator builds an evaluator. Invalid garbage patterns are configuration errors.
func NewQualityEvaluator(t QualityThresholds) (*QualityEvaluator, error) {
	if t.Script == nil {
		t.Script = unicode.Arabic
	}
	if t.MinTextDensity < 0 || t.MaxGarbageRatio < 0 || t.MinScriptRatio < 0 {
		return nil, configError("quality thresholds must be non-negative")
	}
	expr := defaultGarbageRegex
	if len(t.GarbagePatterns) > 0 {
		expr = strings.Join(t.GarbagePatterns, "|")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, configError("garbage patterns: %v", err)
	}
	return &QualityEvaluator{thresholds: t, garbage: re}, nil
}

// Evaluate scores rawText spread over pageCount pages. The first failing check, in the
// order density, garbage, script, determines the reason.
func (e *QualityEvaluator) Evaluate(rawText string, pageCount int) QualityMetrics {
	if pageCount < 1 {
		pageCount = 1
	}
	nonSpace, script := countRunes(rawText, e.thresholds.Script)

	m := QualityMetrics{
		TextDensity:  float64(nonSpace) / float64(pageCount),
		GarbageRatio: e.garbageRatio(rawText),
	}
	if nonSpace > 0 {
		m.ScriptRatio = float64(script) / float64(nonSpace)
	}

	t := e.thresholds
	switch {
	case m.TextDensity < t.MinTextDensity:
		m.Reason = ReasonLowDensity
		m.Detail = fmt.Sprintf("%.1f chars/page < %.1f", m.TextDensity, t.MinTextDensity)
	case m.GarbageRatio > t.MaxGarbageRatio:
		m.Reason = ReasonHighGarbage
		m.Detail = fmt.Sprintf("garbage ratio %.3f > %.3f", m.GarbageRatio, t.MaxGarbageRatio)
	case m.ScriptRatio < t.MinScriptRatio:
		m.Reason = ReasonLowScript
		m.Detail = fmt.Sprintf("script ratio %.3f < %.3f", m.ScriptRatio, t.MinScriptRatio)
	default:
		m.IsAcceptable = true
		m.Reason = ReasonAcceptable
		m.Detail = fmt.Sprintf("%.1f chars/page, garbage %.3f, script %.3f", m.TextDensity, m.GarbageRatio, m.ScriptRatio)
	}
	return m
}

// garbageRatio is matched runes over total runes; empty text is maximally suspect.
func (e *QualityEvaluator) garbageRatio(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 1.0
	}
	matched := 0
	for _, loc := range e.garbage.FindAllStringIndex(text, -1) {
		matched += utf8.RuneCountInString(text[loc[0]:loc[1]])
	}
	ratio := float64(matched) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

func countRunes(text string, script *unicode.RangeTable) (nonSpace, inScript int) {
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		if unicode.Is(script, r) {
			inScript++
		}
	}
	return nonSpace, inScript
}

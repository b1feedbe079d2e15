package pipeline

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultEvaluator(t *testing.T) *QualityEvaluator {
	t.Helper()
	e, err := NewQualityEvaluator(DefaultQualityThresholds())
	require.NoError(t, err)
	return e
}

func TestQualityEvaluator_EmptyTextIsLowDensity(t *testing.T) {
	e := newDefaultEvaluator(t)

	for _, pages := range []int{0, 1, 50} {
		m := e.Evaluate("", pages)
		assert.False(t, m.IsAcceptable)
		assert.Equal(t, ReasonLowDensity, m.Reason)
		assert.Equal(t, 0.0, m.TextDensity)
		assert.Equal(t, 1.0, m.GarbageRatio)
		assert.Equal(t, 0.0, m.ScriptRatio)
		assert.Equal(t, RouteRemoteOCR, m.Route())
	}
}

func TestQualityEvaluator_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		pages      int
		acceptable bool
		reason     string
	}{
		{
			name:       "arabic prose",
			text:       strings.Repeat("مرحبا ", 40),
			pages:      1,
			acceptable: true,
			reason:     ReasonAcceptable,
		},
		{
			name:       "density exactly at floor",
			text:       strings.Repeat("ب", 100),
			pages:      1,
			acceptable: true,
			reason:     ReasonAcceptable,
		},
		{
			name:   "density just below floor",
			text:   strings.Repeat("ب", 99),
			pages:  1,
			reason: ReasonLowDensity,
		},
		{
			name:   "density is per page",
			text:   strings.Repeat("ب", 150),
			pages:  2,
			reason: ReasonLowDensity,
		},
		{
			name:       "garbage exactly at ceiling",
			text:       strings.Repeat("ب", 190) + strings.Repeat("\uFFFD", 10),
			pages:      1,
			acceptable: true,
			reason:     ReasonAcceptable,
		},
		{
			name:   "garbage above ceiling",
			text:   strings.Repeat("ب", 189) + strings.Repeat("\uFFFD", 11),
			pages:  1,
			reason: ReasonHighGarbage,
		},
		{
			name:   "mojibake arabic",
			text:   strings.Repeat("Ø§Ù„", 60),
			pages:  1,
			reason: ReasonHighGarbage,
		},
		{
			name:       "script ratio exactly at floor",
			text:       strings.Repeat("ب", 100) + strings.Repeat("a", 100),
			pages:      1,
			acceptable: true,
			reason:     ReasonAcceptable,
		},
		{
			name:   "script ratio below floor",
			text:   strings.Repeat("ب", 100) + strings.Repeat("a", 101),
			pages:  1,
			reason: ReasonLowScript,
		},
		{
			name:   "density checked before garbage",
			text:   strings.Repeat("\uFFFD", 20),
			pages:  1,
			reason: ReasonLowDensity,
		},
		{
			name:   "garbage checked before script",
			text:   strings.Repeat("a", 150) + strings.Repeat("\uFFFD", 50),
			pages:  1,
			reason: ReasonHighGarbage,
		},
	}

	e := newDefaultEvaluator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := e.Evaluate(tt.text, tt.pages)
			assert.Equal(t, tt.acceptable, m.IsAcceptable, m.Detail)
			assert.Equal(t, tt.reason, m.Reason)
		})
	}
}

func TestQualityEvaluator_WhitespaceIgnoredForDensity(t *testing.T) {
	e := newDefaultEvaluator(t)

	m := e.Evaluate(strings.Repeat("ب \n\t", 100), 1)
	assert.Equal(t, 100.0, m.TextDensity)
	assert.Equal(t, 1.0, m.ScriptRatio)
	assert.True(t, m.IsAcceptable)
}

func TestQualityEvaluator_FormFeedIsNotGarbage(t *testing.T) {
	e := newDefaultEvaluator(t)

	m := e.Evaluate(strings.Repeat("ب", 120)+"\f"+strings.Repeat("ت", 120), 2)
	assert.Equal(t, 0.0, m.GarbageRatio)
	assert.True(t, m.IsAcceptable)
}

func TestQualityEvaluator_CustomThresholds(t *testing.T) {
	e, err := NewQualityEvaluator(QualityThresholds{
		MinTextDensity:  10,
		MaxGarbageRatio: 0.5,
		MinScriptRatio:  0.9,
		Script:          unicode.Latin,
		GarbagePatterns: []string{`#+`},
	})
	require.NoError(t, err)

	m := e.Evaluate("plain latin text here", 1)
	assert.True(t, m.IsAcceptable)

	m = e.Evaluate("####################latin", 1)
	assert.Equal(t, ReasonHighGarbage, m.Reason)
}

func TestNewQualityEvaluator_InvalidConfig(t *testing.T) {
	_, err := NewQualityEvaluator(QualityThresholds{GarbagePatterns: []string{"("}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewQualityEvaluator(QualityThresholds{MinTextDensity: -1})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

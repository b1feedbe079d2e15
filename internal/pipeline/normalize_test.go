package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"trims lines", "  first  \n\tsecond\t", "first\nsecond"},
		{"collapses spaces", "a    b \t c", "a b c"},
		{"collapses blank lines", "a\n\n\n\n\nb\n\nc", "a\n\nb\n\nc"},
		{"crlf", "a\r\nb", "a\nb"},
		{"whitespace only lines", "a\n   \n \t \n\nb", "a\n\nb"},
		{"arabic presentation forms", "\uFEE3\uFEAE\uFEA3\uFE92\uFE8E", "\u0645\u0631\u062D\u0628\u0627"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizingExtractor(t *testing.T) {
	inner := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		return "  PAGE 1 \n\n\n\nPAGE 2  ", nil
	})
	text, err := normalizingExtractor{next: inner}.Extract(context.Background(), Batch{Number: 1})
	require.NoError(t, err)
	assert.Equal(t, "PAGE 1\n\nPAGE 2", text)
}

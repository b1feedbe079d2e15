package pipeline

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	blankRunRegex = regexp.MustCompile(`\n{3,}`)
	spaceRunRegex = regexp.MustCompile(`[ \t\x{00A0}]+`)
)

// NormalizeText cleans extracted text before it is merged: compatibility forms are folded
// (Arabic presentation forms become base letters), every line is trimmed, runs of spaces
// collapse to one, and three or more newlines collapse to a single blank line.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRegex.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankRunRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// normalizingExtractor cleans every successful extraction.
type normalizingExtractor struct {
	next BatchExtractor
}

func (n normalizingExtractor) Extract(ctx context.Context, b Batch) (string, error) {
	text, err := n.next.Extract(ctx, b)
	if err != nil {
		return "", err
	}
	return NormalizeText(text), nil
}

package pipeline

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkTokens is the token budget used for plain-text documents.
const DefaultMaxChunkTokens = 30000

// EstimateTokens approximates the token count of text at three characters per token, a
// conservative ratio for Arabic.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 3
}

// SplitTextByTokens packs whole lines into chunks of at most maxTokens estimated tokens.
// A line that alone exceeds the budget is split on word boundaries. Text within budget is
// returned as a single chunk.
func SplitTextByTokens(text string, maxTokens int) ([]string, error) {
	if maxTokens <= 0 {
		return nil, configError("maxTokens must be > 0, got %d", maxTokens)
	}
	if EstimateTokens(text) <= maxTokens {
		return []string{text}, nil
	}

	var (
		chunks  []string
		current []string
		runes   int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = current[:0]
			runes = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lineRunes := utf8.RuneCountInString(line) + 1
		if lineRunes/3 > maxTokens {
			flush()
			chunks = append(chunks, splitWords(line, maxTokens)...)
			continue
		}
		if (runes+lineRunes)/3 > maxTokens && len(current) > 0 {
			flush()
		}
		current = append(current, line)
		runes += lineRunes
	}
	flush()
	return chunks, nil
}

func splitWords(line string, maxTokens int) []string {
	var (
		out   []string
		words []string
		runes int
	)
	for _, w := range strings.Fields(line) {
		wr := utf8.RuneCountInString(w) + 1
		if (runes+wr)/3 > maxTokens && len(words) > 0 {
			out = append(out, strings.Join(words, " "))
			words = words[:0]
			runes = 0
		}
		words = append(words, w)
		runes += wr
	}
	if len(words) > 0 {
		out = append(out, strings.Join(words, " "))
	}
	return out
}

// PlanText turns a plain-text document into batches, one per non-blank chunk. Page numbers
// are chunk numbers and the payload is the chunk text.
func PlanText(text string, maxTokens int) ([]Batch, error) {
	chunks, err := SplitTextByTokens(text, maxTokens)
	if err != nil {
		return nil, err
	}
	batches := make([]Batch, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) == "" {
			continue
		}
		n := len(batches) + 1
		batches = append(batches, Batch{
			Number:    n,
			StartPage: n,
			EndPage:   n,
			Payload:   []byte(c),
		})
	}
	return batches, nil
}

package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("مرحبا!"))
}

func TestSplitTextByTokens_WithinBudget(t *testing.T) {
	chunks, err := SplitTextByTokens("short text\nsecond line", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"short text\nsecond line"}, chunks)
}

func TestSplitTextByTokens_PacksLines(t *testing.T) {
	line := strings.Repeat("x", 29) // 30 runes with the newline, 10 tokens
	text := strings.Join([]string{line, line, line, line, line}, "\n")

	chunks, err := SplitTextByTokens(text, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, line+"\n"+line, chunks[0])
	assert.Equal(t, line+"\n"+line, chunks[1])
	assert.Equal(t, line, chunks[2])
	assert.Equal(t, text, strings.Join(chunks, "\n"))
}

func TestSplitTextByTokens_SplitsOversizeLineOnWords(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = "word"
	}
	long := strings.Join(words, " ")
	text := "head\n" + long + "\ntail"

	chunks, err := SplitTextByTokens(text, 10)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)
	assert.Equal(t, "head", chunks[0])
	assert.Equal(t, "tail", chunks[len(chunks)-1])
	for _, c := range chunks[1 : len(chunks)-1] {
		assert.LessOrEqual(t, EstimateTokens(c), 10)
	}
	assert.Equal(t, long, strings.Join(chunks[1:len(chunks)-1], " "))
}

func TestSplitTextByTokens_InvalidBudget(t *testing.T) {
	_, err := SplitTextByTokens("text", 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPlanText(t *testing.T) {
	line := strings.Repeat("y", 29)
	batches, err := PlanText(strings.Repeat(line+"\n", 4), 20)
	require.NoError(t, err)
	require.NotEmpty(t, batches)
	for i, b := range batches {
		assert.Equal(t, i+1, b.Number)
		assert.Equal(t, i+1, b.StartPage)
		assert.Equal(t, i+1, b.EndPage)
		assert.NotEmpty(t, strings.TrimSpace(string(b.Payload)))
	}
}

package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentenceStrategy(t *testing.T) {
	text := "First sentence here. Second sentence follows! Third one asks? Fourth closes."
	chunks, err := Split(text, StrategySentence, 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Every chunk stays within budget and the full text survives.
	joined := strings.Join(chunks, " ")
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100+1)
	}
	assert.Contains(t, joined, "First sentence here.")
	assert.Contains(t, joined, "Fourth closes.")
}

func TestSplitSentenceOverlap(t *testing.T) {
	text := "Alpha beta gamma delta. Epsilon zeta eta theta. Iota kappa lambda mu. Nu xi omicron pi."
	chunks, err := Split(text, StrategySentence, 50, 25)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Overlap re-seeds each chunk with trailing sentences of the previous
	// one, so consecutive chunks share text.
	for i := 1; i < len(chunks); i++ {
		prevTail := lastSentence(chunks[i-1])
		if len(prevTail) <= 25 {
			assert.True(t, strings.HasPrefix(chunks[i], prevTail),
				"chunk %d should start with the previous tail %q, got %q", i, prevTail, chunks[i])
		}
	}
}

func lastSentence(chunk string) string {
	sentences := splitSentences(chunk)
	if len(sentences) == 0 {
		return ""
	}
	return sentences[len(sentences)-1]
}

func TestSplitSentenceNoBoundaries(t *testing.T) {
	// No terminator followed by a capital: the whole text is one sentence.
	text := strings.Repeat("word ", 30)
	chunks, err := Split(strings.TrimSpace(text), StrategySentence, 500, 50)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestSplitParagraphStrategy(t *testing.T) {
	text := "Paragraph one stands alone.\n\nParagraph two stands alone as well.\n\nParagraph three."
	chunks, err := Split(text, StrategyParagraph, 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0], "Paragraph one")
	assert.Contains(t, chunks[len(chunks)-1], "Paragraph three")
}

func TestSplitParagraphOverlapCarriesLastParagraph(t *testing.T) {
	text := "Short one.\n\nShort two.\n\n" + strings.Repeat("Long filler paragraph text. ", 5)
	chunks, err := Split(text, StrategyParagraph, 120, 40)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	// "Short two." fits in the overlap budget, so chunk 2 starts with it.
	assert.True(t, strings.HasPrefix(chunks[1], "Short two."), "got %q", chunks[1])
}

func TestSplitFixedStrategy(t *testing.T) {
	text := strings.Repeat("a", 1000)
	chunks, err := Split(text, StrategyFixed, 300, 50)
	require.NoError(t, err)

	// Stride is size - overlap = 250.
	require.Len(t, chunks, 4)
	assert.Len(t, chunks[0], 300)
	assert.Len(t, chunks[1], 300)
	assert.Equal(t, chunks[0][250:], chunks[1][:50])
}

func TestSplitEmptyText(t *testing.T) {
	for _, strategy := range []string{StrategySentence, StrategyParagraph, StrategyFixed} {
		chunks, err := Split("   ", strategy, 500, 50)
		require.NoError(t, err, strategy)
		assert.Empty(t, chunks, strategy)
	}
}

func TestSplitValidation(t *testing.T) {
	_, err := Split("text", "unknown", 500, 50)
	assert.Error(t, err)

	_, err = Split("text", StrategyFixed, 0, 0)
	assert.Error(t, err)

	// Overlap must stay below size.
	_, err = Split("text", StrategyFixed, 100, 100)
	assert.Error(t, err)
}

// Package chunker splits extracted document text into overlapping passages
// ready for embedding.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy names accepted by Split.
const (
	StrategySentence  = "sentence"
	StrategyParagraph = "paragraph"
	StrategyFixed     = "fixed"
)

// sentence boundary: terminal punctuation, whitespace, then a capital letter.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+[A-Z]`)

// Split chunks text with the named strategy. chunkSize is the target chunk
// length in characters and overlap seeds each chunk with the tail of the
// previous one. overlap must be smaller than chunkSize.
func Split(text, strategy string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	switch strategy {
	case StrategySentence:
		return bySentence(text, chunkSize, overlap), nil
	case StrategyParagraph:
		return byParagraph(text, chunkSize, overlap), nil
	case StrategyFixed:
		return byFixed(text, chunkSize, overlap), nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}

// splitSentences cuts text at terminal punctuation followed by whitespace and
// a capital letter. The punctuation stays with the preceding sentence and the
// capital opens the next one.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		loc := sentenceBoundary.FindStringIndex(rest)
		if loc == nil {
			break
		}
		// loc[1] is just past the capital letter; the split point is the
		// start of that letter.
		cut := loc[1] - 1
		sentence := strings.TrimSpace(rest[:cut])
		if sentence != "" {
			out = append(out, sentence)
		}
		rest = rest[cut:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

func bySentence(text string, chunkSize, overlap int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
		// Seed the next chunk with trailing sentences whose combined
		// length stays within the overlap budget.
		var seed []string
		seedLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			n := len(current[i])
			if seedLen+n > overlap {
				break
			}
			seed = append([]string{current[i]}, seed...)
			seedLen += n
		}
		current = seed
		currentLen = seedLen
	}

	for _, sentence := range sentences {
		if currentLen > 0 && currentLen+len(sentence) > chunkSize {
			flush()
		}
		current = append(current, sentence)
		currentLen += len(sentence)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func byParagraph(text string, chunkSize, overlap int) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	for _, paragraph := range paragraphs {
		if currentLen > 0 && currentLen+len(paragraph) > chunkSize {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			// Only the last paragraph seeds the next chunk, and only
			// when it fits the overlap budget.
			last := current[len(current)-1]
			if len(last) <= overlap {
				current = []string{last}
				currentLen = len(last)
			} else {
				current = nil
				currentLen = 0
			}
		}
		current = append(current, paragraph)
		currentLen += len(paragraph)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}

func byFixed(text string, chunkSize, overlap int) []string {
	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

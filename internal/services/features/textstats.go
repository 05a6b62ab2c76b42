package features

import (
	"strings"
	"unicode"
)

type textStats struct {
	length     int
	words      int
	sentences  int
	paragraphs int
	syllables  int
}

func computeTextStats(text string) textStats {
	stats := textStats{length: len(text)}

	stats.words = len(strings.Fields(text))

	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			stats.sentences++
		}
	}
	if stats.sentences == 0 && stats.words > 0 {
		stats.sentences = 1
	}

	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			stats.paragraphs++
		}
	}

	stats.syllables = countSyllables(text)
	return stats
}

// countSyllables approximates syllable count as vowel groups. Good enough
// for a relative readability signal; nothing downstream treats it as exact.
func countSyllables(text string) int {
	count := 0
	inGroup := false
	for _, r := range strings.ToLower(text) {
		if isVowel(r) {
			if !inGroup {
				count++
				inGroup = true
			}
		} else {
			inGroup = false
		}
	}
	return count
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u', 'á', 'à', 'â', 'ã', 'é', 'ê', 'í', 'ó', 'ô', 'õ', 'ú':
		return true
	}
	return false
}

// readability is a simplified Flesch reading-ease score scaled into [0, 1].
func readability(stats textStats) float64 {
	if stats.words == 0 || stats.sentences == 0 {
		return 0
	}
	wordsPerSentence := float64(stats.words) / float64(stats.sentences)
	syllablesPerWord := float64(stats.syllables) / float64(stats.words)

	score := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score / 100
}

func countKeywords(lower string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		count += strings.Count(lower, kw)
	}
	return count
}

// saturate maps a count onto [0, 1] with diminishing returns after scale.
func saturate(count int, scale float64) float64 {
	if count <= 0 {
		return 0
	}
	v := float64(count) / scale
	if v > 1 {
		return 1
	}
	return v
}

package sophnet

import "unicode"

// EstimateTokens approximates the provider token count without a tokenizer.
// CJK runes count one token each; other runes are grouped four to a token.
// The estimate never decreases as text grows.
func EstimateTokens(text string) int {
	var wide, narrow int
	for _, r := range text {
		if isWideRune(r) {
			wide++
		} else {
			narrow++
		}
	}
	return wide + (narrow+3)/4
}

func isWideRune(r rune) bool {
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // fullwidth forms
		return true
	}
	return false
}

// truncateToBudget shortens text proportionally when its estimate exceeds
// budget. A non-empty text keeps at least one rune.
func truncateToBudget(text string, budget int) (string, bool) {
	if budget <= 0 || text == "" {
		return text, false
	}
	estimate := EstimateTokens(text)
	if estimate <= budget {
		return text, false
	}
	runes := []rune(text)
	keep := len(runes) * budget / estimate
	if keep < 1 {
		keep = 1
	}
	return string(runes[:keep]), true
}

package pipeline

import (
	"math"
	"unicode/utf8"
)

// DefaultTokensPerChar is the token-per-character estimation factor. The
// pipeline deliberately avoids an exact tokenizer; a character-count
// heuristic is close enough for budgeting and works for Khmer, which most
// tokenizers split near character granularity.
const DefaultTokensPerChar = 0.3

// TokenEstimator approximates the token cost of a string.
type TokenEstimator struct {
	TokensPerChar float64
}

// NewTokenEstimator returns an estimator, defaulting the factor when the
// argument is zero or negative.
func NewTokenEstimator(tokensPerChar float64) TokenEstimator {
	if tokensPerChar <= 0 {
		tokensPerChar = DefaultTokensPerChar
	}
	return TokenEstimator{TokensPerChar: tokensPerChar}
}

// Estimate returns ceil(rune_count × factor). Rune count, not byte count:
// Khmer script is three bytes per character in UTF-8.
func (e TokenEstimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * e.TokensPerChar))
}

// EstimateTurns sums the estimated cost of a slice of turns.
func (e TokenEstimator) EstimateTurns(turns []ConversationTurn) int {
	total := 0
	for _, t := range turns {
		total += e.Estimate(t.Content)
	}
	return total
}

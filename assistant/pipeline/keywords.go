package pipeline

import (
	"strings"
	"unicode"
)

// KeywordSet is a set of normalized tokens used only for relevance scoring.
type KeywordSet map[string]struct{}

// KeywordExtractor derives a KeywordSet from turn content. It is a
// replaceable strategy: a stronger multilingual matcher can be substituted
// as long as the Jaccard contract on keyword sets is preserved.
type KeywordExtractor interface {
	Extract(text string) KeywordSet
}

// minDirectKeywords is the extraction count below which the lexical
// extractor falls back to character n-grams. Khmer is written without
// whitespace word boundaries, so whitespace splitting alone often yields
// nothing useful.
const minDirectKeywords = 5

// domainVocabulary holds terms that always count as keywords when they
// appear anywhere in a turn, including inside unsegmented Khmer text.
var domainVocabulary = []string{
	// English
	"loan", "interest", "rate", "repay", "repayment", "installment",
	"wallet", "balance", "topup", "transfer", "kyc", "verification",
	"account", "limit", "fee", "penalty", "overdue", "disburse",
	"marketplace", "order", "refund", "otp", "pin", "collateral",
	// Khmer
	"កម្ចី", "ឥណទាន", "ការប្រាក់", "អត្រា", "បង់រំលោះ", "កាបូប",
	"សមតុល្យ", "ផ្ទេរប្រាក់", "គណនី", "ផ្ទៀងផ្ទាត់", "កម្រៃ",
	"ពិន័យ", "ហួសកំណត់", "ទូទាត់",
}

// stopWords are dropped during whitespace tokenization.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "can": {}, "do": {}, "for": {}, "from": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {}, "on": {},
	"or": {}, "please": {}, "the": {}, "to": {}, "want": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {},
	"with": {}, "you": {}, "your": {},
	// Khmer particles and pronouns
	"នៅ": {}, "ជា": {}, "និង": {}, "ទេ": {}, "បាន": {}, "គឺ": {},
	"ខ្ញុំ": {}, "អ្នក": {}, "នេះ": {}, "នោះ": {}, "ដែល": {}, "ឬ": {},
}

// LexicalExtractor is the handcrafted lexical heuristic used by the context
// builder: vocabulary matching, whitespace tokens, and an n-gram fallback
// for scripts without word boundaries. It is not a tokenizer and not an
// embedding model.
type LexicalExtractor struct{}

// NewLexicalExtractor returns the default extraction strategy.
func NewLexicalExtractor() LexicalExtractor { return LexicalExtractor{} }

// Extract derives the keyword set for one turn.
func (LexicalExtractor) Extract(text string) KeywordSet {
	set := make(KeywordSet)
	lowered := strings.ToLower(text)

	for _, term := range domainVocabulary {
		if strings.Contains(lowered, term) {
			set[term] = struct{}{}
		}
	}

	for _, tok := range strings.Fields(lowered) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if tok == "" || isNumeric(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}

	if len(set) < minDirectKeywords {
		for _, gram := range characterNGrams(lowered, 3) {
			set[gram] = struct{}{}
		}
		for _, gram := range characterNGrams(lowered, 4) {
			set[gram] = struct{}{}
		}
	}

	return set
}

// isNumeric reports whether the token is purely digits (with separators).
func isNumeric(tok string) bool {
	seen := false
	for _, r := range tok {
		switch {
		case unicode.IsDigit(r):
			seen = true
		case r == '.' || r == ',' || r == '%' || r == '$':
			// separators and units do not make a token textual
		default:
			return false
		}
	}
	return seen
}

// characterNGrams returns overlapping n-grams over the non-space runes of s.
func characterNGrams(s string, n int) []string {
	runes := make([]rune, 0, len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			runes = append(runes, r)
		}
	}
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// Jaccard returns the Jaccard similarity of two keyword sets: intersection
// over union. Either set being empty scores exactly 0.
func Jaccard(a, b KeywordSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

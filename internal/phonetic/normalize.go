// Package phonetic scores transcripts against wake words using a
// recognizer-error-aware similarity measure
package phonetic

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize maps a transcript to canonical matching form: NFKC, katakana
// folded to hiragana, lowercased, punctuation and whitespace removed.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	folded := norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		r = katakanaToHiragana(r)
		r = unicode.ToLower(r)
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// katakanaToHiragana folds the katakana syllabary block onto hiragana so
// both scripts match structurally. The long-vowel mark and other marks
// outside the block pass through.
func katakanaToHiragana(r rune) rune {
	if r >= 'ァ' && r <= 'ヶ' {
		return r - 'ァ' + 'ぁ'
	}
	return r
}

// Tokenize splits a raw transcript into candidate words on whitespace and
// punctuation, with each token individually normalized. Used by the
// long-transcript extraction path.
func Tokenize(text string) []string {
	folded := norm.NFKC.String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := Normalize(f); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

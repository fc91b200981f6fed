// Package textnorm folds conversation text into a canonical form so that
// keyword containment is case-, width- and diacritic-insensitive.
package textnorm

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidText is returned for input that is not valid UTF-8.
var ErrInvalidText = errors.New("text is not valid UTF-8")

// Normalize decomposes s, strips combining marks (accents, Hebrew niqqud and
// cantillation), case-folds it and collapses whitespace.
func Normalize(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidText
	}

	// Transformers carry state, so a fresh chain is built per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("normalizing text: %w", err)
	}

	out = cases.Fold().String(out)
	return strings.Join(strings.Fields(out), " "), nil
}

// NormalizeAll normalizes every phrase, dropping empty and invalid entries.
func NormalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		n, err := Normalize(p)
		if err != nil || n == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ContainsWord reports whether the normalized phrase occurs in the normalized
// text without being glued to surrounding Latin letters or digits. Scripts
// that attach prefixes to words (Hebrew ב/ל/ה/ו) match as plain substrings.
func ContainsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	start := 0
	for {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)

		before, _ := utf8.DecodeLastRuneInString(text[:idx])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !latinWordRune(before) && !latinWordRune(after) {
			return true
		}
		start = idx + 1
		if start >= len(text) {
			return false
		}
	}
}

// MatchAny returns the phrases from the list found in text via ContainsWord.
func MatchAny(text string, phrases []string) []string {
	var found []string
	for _, p := range phrases {
		if ContainsWord(text, p) {
			found = append(found, p)
		}
	}
	return found
}

func latinWordRune(r rune) bool {
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsDigit(r) || (unicode.IsLetter(r) && unicode.In(r, unicode.Latin))
}

// Package segment splits running text into candidate sentences.
//
// Boundaries are heuristic: a run of terminal punctuation followed by
// whitespace and then an upper-case letter (or the end of the text). This
// keeps "3.5 stars" and most lower-case abbreviations intact, but a name
// such as "Dr. Who" still splits.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinLength is the shortest sentence, in runes, worth classifying.
const DefaultMinLength = 40

// Sentence is a slice of the input text. Start and End are byte offsets,
// so text[Start:End] == Text always holds.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// Segmenter splits text into sentences of at least MinLength runes.
type Segmenter struct {
	MinLength int
}

// Segment splits text with the default minimum length.
func Segment(text string) []Sentence {
	return Segmenter{MinLength: DefaultMinLength}.Segment(text)
}

// Segment returns sentences in source order. It keeps no state between calls.
func (s Segmenter) Segment(text string) []Sentence {
	minLen := s.MinLength
	if minLen <= 0 {
		minLen = DefaultMinLength
	}

	var out []Sentence
	emit := func(start, end int) {
		sent, ok := trimmed(text, start, end)
		if !ok {
			return
		}
		if utf8.RuneCountInString(sent.Text) < minLen || !HasTerminal(sent.Text) {
			return
		}
		out = append(out, sent)
	}

	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isTerminal(r) {
			i += size
			continue
		}

		// Consume the punctuation run and any closing quotes or brackets.
		end := i + size
		for end < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[end:])
			if !isTerminal(r2) && !isCloser(r2) {
				break
			}
			end += s2
		}

		if end == len(text) {
			emit(start, end)
			start = end
			break
		}

		next, nsize := utf8.DecodeRuneInString(text[end:])
		if !unicode.IsSpace(next) {
			i = end
			continue
		}

		// Find the first visible character after the whitespace.
		j := end + nsize
		for j < len(text) {
			r3, s3 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r3) {
				break
			}
			j += s3
		}
		if j < len(text) && !startsSentence(text[j:]) {
			i = end
			continue
		}

		emit(start, end)
		start = j
		i = j
	}
	if start < len(text) {
		emit(start, len(text))
	}
	return out
}

// HasTerminal reports whether s contains sentence-terminal punctuation.
func HasTerminal(s string) bool {
	return strings.ContainsAny(s, ".!?")
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func isOpener(r rune) bool {
	switch r {
	case '"', '\'', '(', '[', '“', '‘':
		return true
	}
	return false
}

// startsSentence reports whether s begins with an upper-case letter,
// optionally behind opening quotes or brackets.
func startsSentence(s string) bool {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if isOpener(r) {
			s = s[size:]
			continue
		}
		return unicode.IsUpper(r)
	}
	return true
}

// trimmed strips surrounding whitespace while keeping offsets exact.
func trimmed(text string, start, end int) (Sentence, bool) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start >= end {
		return Sentence{}, false
	}
	return Sentence{Text: text[start:end], Start: start, End: end}, true
}

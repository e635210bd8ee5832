// Package pretoken segments UTF-8 text into the chunks the BPE engine
// encodes independently. It reimplements, as a hand-rolled scanner, the
// GPT-2 reference regex
//
//	's|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+
//
// by trying, at each position, the first of five alternatives that matches
// a non-empty prefix of the remaining input.
package pretoken

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Chunk is a byte-offset range into the scanned text.
type Chunk struct {
	Start, End int
}

// Bytes returns the chunk's slice of text.
func (c Chunk) Bytes(text string) string { return text[c.Start:c.End] }

var contractionSuffixes = []string{"'s", "'t", "'re", "'ve", "'m", "'ll", "'d"}

// Scan segments text into an ordered, non-overlapping, non-empty list of
// chunks whose concatenation reconstructs text exactly. It returns an error
// if any position fails to match every alternative. Every rune is a letter,
// a number, whitespace or "other", and invalid UTF-8 bytes decode as
// U+FFFD, which the "other" run matches, so the alternatives cover every
// input and this error is not produced in practice.
func Scan(text string) ([]Chunk, error) {
	var chunks []Chunk
	pos := 0
	n := len(text)

	for pos < n {
		end := matchOne(text, pos)
		if end <= pos {
			return nil, fmt.Errorf("pretoken: no grammar alternative matched at offset %d", pos)
		}
		chunks = append(chunks, Chunk{Start: pos, End: end})
		pos = end
	}

	return chunks, nil
}

// matchOne tries each alternative in grammar order and returns the end
// offset of the first that matches a non-empty prefix starting at pos, or
// pos itself if none match.
func matchOne(text string, pos int) int {
	if end := matchContraction(text, pos); end > pos {
		return end
	}
	if end := matchRun(text, pos, unicode.IsLetter); end > pos {
		return end
	}
	if end := matchRun(text, pos, unicode.IsNumber); end > pos {
		return end
	}
	if end := matchRun(text, pos, isOther); end > pos {
		return end
	}
	if end := matchWhitespaceRun(text, pos); end > pos {
		return end
	}
	return pos
}

func isOther(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsSpace(r)
}

// matchContraction matches one of the seven literal suffixes, optionally
// preceded by a single ASCII space. The leading space is only kept if the
// suffix itself matches.
func matchContraction(text string, pos int) int {
	p := pos
	if p < len(text) && text[p] == ' ' {
		p++
	}
	for _, suf := range contractionSuffixes {
		if hasPrefixAt(text, p, suf) {
			return p + len(suf)
		}
	}
	return pos
}

func hasPrefixAt(text string, pos int, prefix string) bool {
	if pos+len(prefix) > len(text) {
		return false
	}
	return text[pos:pos+len(prefix)] == prefix
}

// matchRun matches one or more runes satisfying class, optionally preceded
// by a single ASCII space. The leading space is only kept if at least one
// run-class rune follows.
func matchRun(text string, pos int, class func(rune) bool) int {
	p := pos
	if p < len(text) && text[p] == ' ' {
		p++
	}
	start := p
	for p < len(text) {
		r, size := utf8.DecodeRuneInString(text[p:])
		if !class(r) {
			break
		}
		p += size
	}
	if p == start {
		return pos
	}
	return p
}

// matchWhitespaceRun matches a maximal run of Unicode-whitespace code
// points with no leading-space prefix of its own. It reproduces the GPT-2
// reference's negative-lookahead idiom ` ?\s+(?!\S)|\s+`: when the run is
// followed by a non-whitespace character and is more than one code point
// long, the final whitespace code point is held back so the next chunk can
// claim it as its own optional leading space.
func matchWhitespaceRun(text string, pos int) int {
	var runeStarts []int
	p := pos
	for p < len(text) {
		r, size := utf8.DecodeRuneInString(text[p:])
		if !unicode.IsSpace(r) {
			break
		}
		runeStarts = append(runeStarts, p)
		p += size
	}
	if len(runeStarts) == 0 {
		return pos
	}
	if p < len(text) && len(runeStarts) > 1 {
		return runeStarts[len(runeStarts)-1]
	}
	return p
}

package ingest

import (
	"regexp"
	"strings"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Split breaks text into memory-sized pieces. Paragraphs (separated by blank
// lines) become one piece each with whitespace collapsed; a paragraph longer
// than maxWords is cut into windows of maxWords words that share overlap words
// with the previous window.
func Split(text string, maxWords, overlap int) []string {
	var pieces []string
	for _, para := range paragraphBreak.Split(text, -1) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if maxWords <= 0 || len(words) <= maxWords {
			pieces = append(pieces, strings.Join(words, " "))
			continue
		}
		pieces = append(pieces, windows(words, maxWords, overlap)...)
	}
	return pieces
}

func windows(words []string, size, overlap int) []string {
	step := size - overlap
	if step <= 0 {
		step = 1
	}
	var out []string
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

package subscriber

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/user/clawgate/internal/config"
)

var paragraphSep = regexp.MustCompile(`\n[ \t]*\n+`)

// Chunk splits text into chat-sized pieces between MinChars and MaxChars.
// Under the paragraph preference a blank-line separator is a hard boundary
// wherever it falls; within a piece the break cascade falls back through
// newline, sentence end, and whitespace before hard-splitting at MaxChars.
func Chunk(text string, cfg config.ChunkConfig) []string {
	min, max := cfg.MinChars, cfg.MaxChars
	if min <= 0 {
		min = 800
	}
	if max <= min {
		max = min + 400
	}

	if pref := cfg.BreakPreference; pref == "" || pref == "paragraph" {
		var out []string
		for _, para := range paragraphSep.Split(text, -1) {
			out = append(out, chunkRun(para, min, max, "newline")...)
		}
		return out
	}
	return chunkRun(text, min, max, cfg.BreakPreference)
}

// chunkRun splits one unbroken run of text by size alone.
func chunkRun(text string, min, max int, pref string) []string {
	if len(text) <= max {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var out []string
	rest := text
	for len(rest) > max {
		cut := findBreak(rest, min, max, pref)
		if chunk := strings.TrimSpace(rest[:cut]); chunk != "" {
			out = append(out, chunk)
		}
		rest = strings.TrimLeft(rest[cut:], " \t\n")
	}
	if t := strings.TrimSpace(rest); t != "" {
		out = append(out, t)
	}
	return out
}

func findBreak(s string, min, max int, pref string) int {
	window := s[min:max]

	cascade := []string{"paragraph", "newline", "sentence", "whitespace"}
	for i, kind := range cascade {
		if kind == pref {
			cascade = cascade[i:]
			break
		}
	}

	for _, kind := range cascade {
		switch kind {
		case "paragraph":
			if i := strings.LastIndex(window, "\n\n"); i >= 0 {
				return min + i + 2
			}
		case "newline":
			if i := strings.LastIndex(window, "\n"); i >= 0 {
				return min + i + 1
			}
		case "sentence":
			for i := max - 1; i > min; i-- {
				if s[i] == ' ' && isSentenceEnd(s[i-1]) {
					return i + 1
				}
			}
		case "whitespace":
			if i := strings.LastIndex(window, " "); i >= 0 {
				return min + i + 1
			}
		}
	}

	// Hard split, backed off to a rune boundary.
	cut := max
	for cut > min && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// Package subscriber turns raw agent event streams into deliverable reply
// blocks: reasoning stripped, text chunked, tool chatter aggregated.
package subscriber

import (
	"regexp"
	"strings"
)

var (
	thinkOpen  = []string{"<thinking>", "<think>"}
	thinkClose = []string{"</thinking>", "</think>"}
)

func findAny(s string, tags []string, from int) (pos, length int) {
	pos = -1
	for _, tag := range tags {
		if i := strings.Index(s[from:], tag); i >= 0 {
			if pos == -1 || from+i < pos {
				pos = from + i
				length = len(tag)
			}
		}
	}
	return pos, length
}

// StripThinking removes reasoning spans. Paired tags are removed with their
// contents, nesting honored; an unpaired open tag swallows everything after
// it, and an unpaired close tag swallows everything before it.
func StripThinking(s string) string {
	for {
		op, ol := findAny(s, thinkOpen, 0)
		if op == -1 {
			break
		}
		depth := 1
		i := op + ol
		end := -1
		for depth > 0 {
			no, nol := findAny(s, thinkOpen, i)
			nc, ncl := findAny(s, thinkClose, i)
			if nc == -1 {
				break
			}
			if no != -1 && no < nc {
				depth++
				i = no + nol
				continue
			}
			depth--
			i = nc + ncl
			if depth == 0 {
				end = i
			}
		}
		if end == -1 {
			s = s[:op]
			break
		}
		s = s[:op] + s[end:]
	}
	if cp, cl := findAny(s, thinkClose, 0); cp != -1 {
		s = s[cp+cl:]
	}
	return s
}

var finalRe = regexp.MustCompile(`(?s)<final>(.*?)</final>`)

// ExtractFinal applies final-tag enforcement. Well-formed pairs yield their
// interiors; a lone tag is elided and the remainder kept; text without tags
// passes through unchanged, so a model that forgets the tag still replies.
func ExtractFinal(s string) string {
	matches := finalRe.FindAllStringSubmatch(s, -1)
	if len(matches) > 0 {
		var parts []string
		for _, m := range matches {
			if t := strings.TrimSpace(m[1]); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	s = strings.ReplaceAll(s, "<final>", "")
	return strings.ReplaceAll(s, "</final>", "")
}

var mediaRe = regexp.MustCompile(`MEDIA:(\S+)`)

// ExtractMedia pulls MEDIA:<path> tokens out of the text and returns the
// cleaned text plus the referenced paths.
func ExtractMedia(s string) (string, []string) {
	var media []string
	for _, m := range mediaRe.FindAllStringSubmatch(s, -1) {
		media = append(media, m[1])
	}
	if media == nil {
		return s, nil
	}
	s = mediaRe.ReplaceAllString(s, "")
	return s, media
}

package subscriber

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	sanitizeMaxChars = 8000
	imageProbeBytes  = 64
)

// toolAgg collapses identical consecutive tool invocations into one note,
// "bash (3 occurrences)" instead of three lines.
type toolAgg struct {
	sig   string
	label string
	count int
}

// observe records one invocation and returns the note for the previous run
// of invocations when the signature changes.
func (a *toolAgg) observe(tool, args string) (note string, flushed bool) {
	sig := tool + "\x00" + args
	if sig == a.sig {
		a.count++
		return "", false
	}
	note, flushed = a.flush()
	a.sig = sig
	a.label = tool
	a.count = 1
	return note, flushed
}

func (a *toolAgg) flush() (string, bool) {
	if a.count == 0 {
		return "", false
	}
	note := a.label
	if a.count > 1 {
		note = fmt.Sprintf("%s (%d occurrences)", a.label, a.count)
	}
	a.sig = ""
	a.count = 0
	return note, true
}

// SanitizeToolPayload bounds tool metadata for logs and delivery: long text
// is truncated in the middle, raw image bytes are replaced with a size stub.
func SanitizeToolPayload(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		if looksLikeImage(s) {
			out[k] = map[string]any{"bytes": len(s), "omitted": true}
			continue
		}
		if len(s) > sanitizeMaxChars {
			half := sanitizeMaxChars / 2
			s = s[:half] + "…(truncated)…" + s[len(s)-half:]
		}
		out[k] = s
	}
	return out
}

func looksLikeImage(s string) bool {
	if strings.HasPrefix(s, "data:image/") {
		return true
	}
	if len(s) < imageProbeBytes {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s[:imageProbeBytes])
	if err != nil {
		return false
	}
	// PNG and JPEG magic bytes
	return strings.HasPrefix(string(raw), "\x89PNG") || strings.HasPrefix(string(raw), "\xff\xd8\xff")
}

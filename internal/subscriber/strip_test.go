package subscriber

import (
	"reflect"
	"testing"
)

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no tags", "plain reply", "plain reply"},
		{"paired", "a<thinking>secret</thinking>b", "ab"},
		{"short form", "a<think>secret</think>b", "ab"},
		{"mixed forms", "a<think>secret</thinking>b", "ab"},
		{"nested", "a<thinking>x<thinking>y</thinking>z</thinking>b", "ab"},
		{"multiple spans", "<think>1</think>a<think>2</think>b", "ab"},
		{"unpaired open", "visible<thinking>never closed", "visible"},
		{"unpaired close", "leaked reasoning</thinking>the reply", "the reply"},
		{"only reasoning", "<thinking>all of it</thinking>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripThinking(tt.in); got != tt.want {
				t.Errorf("StripThinking(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractFinal(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"well-formed pair", "notes <final>the reply</final> more notes", "the reply"},
		{"two pairs joined", "<final>a</final>x<final>b</final>", "a\n\nb"},
		{"lone open tag elided", "scratch <final>the reply", "scratch the reply"},
		{"lone close tag elided", "the reply</final>", "the reply"},
		{"no tags pass through", "just a reply", "just a reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFinal(tt.in); got != tt.want {
				t.Errorf("ExtractFinal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractMedia(t *testing.T) {
	text, media := ExtractMedia("here you go\nMEDIA:/tmp/chart.png\nand MEDIA:/tmp/b.jpg done")
	if !reflect.DeepEqual(media, []string{"/tmp/chart.png", "/tmp/b.jpg"}) {
		t.Errorf("media = %v", media)
	}
	if got := text; got != "here you go\n\nand  done" {
		t.Errorf("cleaned text = %q", got)
	}

	text, media = ExtractMedia("no attachments")
	if media != nil || text != "no attachments" {
		t.Errorf("plain text should pass through, got %q %v", text, media)
	}
}

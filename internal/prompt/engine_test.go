package prompt

import (
	"strings"
	"testing"

	"github.com/user/clawgate/internal/types"
)

func testEngine(t *testing.T, maxTokens, reserve int) *Engine {
	t.Helper()
	e, err := New("gpt-4", maxTokens, reserve)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestWindowKeepsRecentHistory(t *testing.T) {
	e := testEngine(t, 200, 50)

	long := strings.Repeat("filler words for padding out the budget ", 20)
	history := []types.HistoryEntry{
		{Role: "user", Content: long},
		{Role: "assistant", Content: "old reply"},
		{Role: "user", Content: "recent question"},
	}

	msgs := e.Window("system", history, "current")
	if msgs[0].Role != "system" || msgs[len(msgs)-1].Content != "current" {
		t.Fatalf("window shape wrong: %+v", msgs)
	}
	for _, m := range msgs {
		if m.Content == long {
			t.Error("oversized oldest entry should be trimmed first")
		}
	}
	found := false
	for _, m := range msgs {
		if m.Content == "recent question" {
			found = true
		}
	}
	if !found {
		t.Error("most recent history entry should survive")
	}
}

func TestWindowAlwaysKeepsBody(t *testing.T) {
	e := testEngine(t, 10, 5)
	msgs := e.Window("sys", nil, "the question")
	if len(msgs) != 2 || msgs[1].Content != "the question" {
		t.Fatalf("body must never be dropped, got %+v", msgs)
	}
}

func TestRenderSystem(t *testing.T) {
	out, err := RenderSystem("", "telegram:42", "telegram", []string{"bash"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "telegram:42") {
		t.Error("session key missing from rendered prompt")
	}
	if !strings.Contains(out, "<final>") {
		t.Error("final-tag instruction missing when enforcement is on")
	}

	out, err = RenderSystem("", "k", "telegram", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "<final>") {
		t.Error("final-tag instruction present without enforcement")
	}
}

package gateway

import (
	"testing"

	"github.com/user/clawgate/internal/config"
)

func TestLaneDropOld(t *testing.T) {
	qc := config.QueueConfig{Cap: 2, Drop: "old"}
	l := &lane{}
	for _, m := range []string{"a", "b", "c"} {
		l.add(m, qc)
	}
	if got := l.flush(); got != "b\nc" {
		t.Errorf("flush = %q", got)
	}
}

func TestLaneDropNew(t *testing.T) {
	qc := config.QueueConfig{Cap: 2, Drop: "new"}
	l := &lane{}
	for _, m := range []string{"a", "b", "c"} {
		l.add(m, qc)
	}
	if got := l.flush(); got != "a\nb" {
		t.Errorf("flush = %q", got)
	}
}

func TestLaneSummarizeCollapsesBacklog(t *testing.T) {
	qc := config.QueueConfig{Cap: 2, Drop: "summarize"}
	l := &lane{}
	for _, m := range []string{"a", "b", "c"} {
		l.add(m, qc)
	}
	want := "[3 messages while you were busy]"
	if got := l.flush(); got != want {
		t.Errorf("flush = %q, want %q", got, want)
	}
	if !l.empty() {
		t.Error("flush should clear the lane")
	}
}

func TestLaneSummarizeLaterArrivalsFollowNote(t *testing.T) {
	qc := config.QueueConfig{Cap: 2, Drop: "summarize"}
	l := &lane{}
	for _, m := range []string{"a", "b", "c", "d"} {
		l.add(m, qc)
	}
	want := "[3 messages while you were busy]\nd"
	if got := l.flush(); got != want {
		t.Errorf("flush = %q, want %q", got, want)
	}
}

func TestLaneFlushDeduplicates(t *testing.T) {
	qc := config.QueueConfig{Cap: 10, Drop: "old"}
	l := &lane{}
	for _, m := range []string{"a", "b", "a", "b", "c"} {
		l.add(m, qc)
	}
	if got := l.flush(); got != "a\nb\nc" {
		t.Errorf("flush = %q", got)
	}
}

func TestLaneFlushResetsSummary(t *testing.T) {
	qc := config.QueueConfig{Cap: 1, Drop: "summarize"}
	l := &lane{}
	l.add("a", qc)
	l.add("b", qc)
	l.flush()

	l.add("c", qc)
	if got := l.flush(); got != "c" {
		t.Errorf("summary count must not leak into the next flush: %q", got)
	}
}

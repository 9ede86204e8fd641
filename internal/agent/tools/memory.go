package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/user/clawgate/internal/agent"
)

// MemoryFile is a line-per-fact markdown file shared by the memory tools.
// One instance guards one path.
type MemoryFile struct {
	mu   sync.Mutex
	path string
}

func NewMemoryFile(path string) *MemoryFile {
	return &MemoryFile{path: path}
}

// Tools returns the save/delete/list trio backed by this file.
func (m *MemoryFile) Tools() []agent.Tool {
	return []agent.Tool{
		&memorySave{m},
		&memoryDelete{m},
		&memoryList{m},
	}
}

func (m *MemoryFile) read() (string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (m *MemoryFile) save(content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.read()
	if err != nil {
		return "", err
	}
	line := "- " + content
	for _, l := range strings.Split(existing, "\n") {
		if strings.TrimSpace(l) == strings.TrimSpace(line) {
			return "Memory already exists: " + content, nil
		}
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return "", err
	}
	return "Saved: " + content, nil
}

func (m *MemoryFile) delete(content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.read()
	if err != nil {
		return "", err
	}
	target := "- " + content
	var kept []string
	found := false
	for _, l := range strings.Split(existing, "\n") {
		if strings.TrimSpace(l) == strings.TrimSpace(target) {
			found = true
			continue
		}
		if l != "" {
			kept = append(kept, l)
		}
	}
	if !found {
		return "Memory not found: " + content, nil
	}

	out := ""
	if len(kept) > 0 {
		out = strings.Join(kept, "\n") + "\n"
	}
	if err := os.WriteFile(m.path, []byte(out), 0644); err != nil {
		return "", err
	}
	return "Deleted: " + content, nil
}

func (m *MemoryFile) list() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := m.read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "No memories stored yet.", nil
	}
	return content, nil
}

var contentParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"content": {"type": "string", "description": "The fact or preference"}
	},
	"required": ["content"]
}`)

func decodeContent(args json.RawMessage) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if params.Content == "" {
		return "", fmt.Errorf("content is required")
	}
	return params.Content, nil
}

type memorySave struct{ file *MemoryFile }

func (t *memorySave) Name() string        { return "memory_save" }
func (t *memorySave) Description() string { return "Save a fact or preference to persistent memory" }
func (t *memorySave) Parameters() json.RawMessage {
	return contentParams
}
func (t *memorySave) Execute(_ context.Context, args json.RawMessage) (string, error) {
	content, err := decodeContent(args)
	if err != nil {
		return "", err
	}
	return t.file.save(content)
}

type memoryDelete struct{ file *MemoryFile }

func (t *memoryDelete) Name() string { return "memory_delete" }
func (t *memoryDelete) Description() string {
	return "Delete a fact or preference from persistent memory"
}
func (t *memoryDelete) Parameters() json.RawMessage {
	return contentParams
}
func (t *memoryDelete) Execute(_ context.Context, args json.RawMessage) (string, error) {
	content, err := decodeContent(args)
	if err != nil {
		return "", err
	}
	return t.file.delete(content)
}

type memoryList struct{ file *MemoryFile }

func (t *memoryList) Name() string        { return "memory_list" }
func (t *memoryList) Description() string { return "List all facts and preferences in persistent memory" }
func (t *memoryList) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}
func (t *memoryList) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	return t.file.list()
}

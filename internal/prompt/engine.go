// Package prompt assembles token-budgeted message windows for agent runs.
package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/clawgate/internal/types"
	"github.com/user/clawgate/pkg/llm"
)

// Engine trims session history to fit the model's context window, leaving
// room for the response.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New selects a tokenizer for the model and sets the token budget.
// maxTokens is the context window size; reserve is held back for output.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown models fall back to cl100k_base.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{tokenizer: enc, maxTokens: maxTokens, reserve: reserve}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Window builds system + history + user messages, dropping the oldest
// history entries that do not fit the input budget. The current body is
// never dropped.
func (e *Engine) Window(system string, history []types.HistoryEntry, body string) []llm.Message {
	budget := e.maxTokens - e.reserve
	budget -= e.CountTokens(system)
	budget -= e.CountTokens(body)

	// Walk newest to oldest so recent context survives a tight budget.
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := e.CountTokens(history[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		kept++
	}

	messages := make([]llm.Message, 0, kept+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	for _, h := range history[len(history)-kept:] {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: body})
	return messages
}

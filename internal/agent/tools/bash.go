// Package tools holds the built-in tools offered to agent runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

const bashMaxOutput = 20000

// Bash executes shell commands on the host.
type Bash struct {
	timeout time.Duration
}

func NewBash(timeout time.Duration) *Bash {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Bash{timeout: timeout}
}

func (b *Bash) Name() string        { return "bash" }
func (b *Bash) Description() string { return "Execute a shell command on the host machine" }
func (b *Bash) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The command to run"}
		},
		"required": ["command"]
	}`)
}

func (b *Bash) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if req.Command == "" {
		return "", fmt.Errorf("command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "bash", "-c", req.Command).CombinedOutput()
	result := string(out)
	if len(result) > bashMaxOutput {
		result = result[:bashMaxOutput] + "\n[output truncated]"
	}
	if err != nil {
		return fmt.Sprintf("%s\n[exit error: %v]", result, err), nil
	}
	return result, nil
}

package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/user/clawgate/internal/types"
)

// DefaultSystem is the built-in system prompt. It uses Go text/template
// syntax with Data fields: .Time, .SessionKey, .Surface, .Tools.
const DefaultSystem = `You are a personal assistant reached through chat. You receive messages from your user over {{.Surface}} and reply in the same conversation.

## Current Context

- Time: {{.Time}}
- Session: {{.SessionKey}}
{{- if .Tools}}
- Available tools: {{.Tools}}
{{- end}}

## Response Style

- Be concise and direct. Chat messages are short; do not pad responses.
- Use plain text. Markdown is fine for lists and code, but keep formatting light.
- If a message needs no reply (an acknowledgement, a message clearly not addressed to you), respond with exactly NO_REPLY and nothing else.
- Do not repeat the user's question back to them. Just answer it.
`

// FinalTagInstruction is appended to the system prompt when the reply
// pipeline only delivers text wrapped in <final> tags.
const FinalTagInstruction = `
## Final Replies

Wrap the text you want delivered to the user in <final> tags, like <final>your reply</final>. Anything outside the tags is working context and will not be sent.
`

// Data feeds the system prompt template.
type Data struct {
	Time       string
	SessionKey string
	Surface    string
	Tools      string
}

// RenderSystem executes the system prompt template. An empty tmpl uses
// DefaultSystem; enforceFinal appends the final-tag instruction.
func RenderSystem(tmpl string, key types.SessionKey, surface string, tools []string, enforceFinal bool) (string, error) {
	if tmpl == "" {
		tmpl = DefaultSystem
	}
	if enforceFinal {
		tmpl += FinalTagInstruction
	}
	t, err := template.New("system").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse system prompt: %w", err)
	}
	var buf bytes.Buffer
	err = t.Execute(&buf, Data{
		Time:       time.Now().Format(time.RFC3339),
		SessionKey: string(key),
		Surface:    surface,
		Tools:      strings.Join(tools, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

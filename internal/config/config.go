package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser mirrors the heartbeat scheduler's parser so validation accepts
// exactly what the scheduler will.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// GroupConfig is a per-group override inside a surface. Deeper overrides win
// over the surface-level settings.
type GroupConfig struct {
	RequireMention *bool    `json:"require_mention,omitempty"`
	AllowFrom      []string `json:"allow_from,omitempty"`
}

// SurfaceConfig is the gate configuration for one transport surface.
//
// AllowFrom semantics: nil means "no DM allowlist" (all senders pass rule 2);
// a present-but-empty list means self-chat mode (own identity only). A surface
// with any AllowFrom list is treated as a personal-account deployment, where
// native mention metadata is unreliable and therefore ignored.
type SurfaceConfig struct {
	Enabled         *bool                   `json:"enabled,omitempty"`
	AllowFrom       []string                `json:"allow_from,omitempty"`
	MentionPatterns []string                `json:"mention_patterns,omitempty"`
	Groups          map[string]*GroupConfig `json:"groups,omitempty"`
}

// SessionConfig controls session key derivation and lifecycle.
type SessionConfig struct {
	Scope         string   `json:"scope"` // per-sender | per-group | global
	MainKey       string   `json:"main_key"`
	IdleMinutes   int      `json:"idle_minutes"`
	HistoryLimit  int      `json:"history_limit"`
	ResetTriggers []string `json:"reset_triggers,omitempty"`
}

// QueueConfig controls what happens to inputs arriving while a run is active.
type QueueConfig struct {
	Mode       string            `json:"mode"` // steer | followup | collect | steer-backlog | interrupt
	DebounceMs int               `json:"debounce_ms"`
	Cap        int               `json:"cap"`
	Drop       string            `json:"drop"` // old | new | summarize
	BySurface  map[string]string `json:"by_surface,omitempty"`
}

// ChunkConfig bounds each delivered block and selects the break heuristic.
type ChunkConfig struct {
	MinChars        int    `json:"min_chars"`
	MaxChars        int    `json:"max_chars"`
	BreakPreference string `json:"break_preference"` // paragraph | newline | sentence
}

// ReplyConfig controls how the assistant stream is turned into blocks.
type ReplyConfig struct {
	BlockReplyChunking ChunkConfig `json:"block_reply_chunking"`
	BlockReplyBreak    string      `json:"block_reply_break"` // text_end | message_end
	EnforceFinalTag    bool        `json:"enforce_final_tag"`
}

// HeartbeatJob is one scheduled idle wakeup.
type HeartbeatJob struct {
	SessionKey string `json:"session_key"`
	Every      string `json:"every"` // duration, e.g. "30m"
	Model      string `json:"model,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Target     string `json:"target"` // "last", a surface name, or "none"
}

// MappingMatch selects which webhook mapping applies to a request.
type MappingMatch struct {
	Path   string `json:"path,omitempty"`
	Source string `json:"source,omitempty"`
}

// WebhookMapping translates a named HTTP event into a wake or agent action.
type WebhookMapping struct {
	Match           MappingMatch `json:"match"`
	Action          string       `json:"action"` // wake | agent
	SessionKey      string       `json:"session_key,omitempty"`
	MessageTemplate string       `json:"message_template,omitempty"`
	WakeMode        string       `json:"wake_mode,omitempty"` // now | next-heartbeat
	Transform       string       `json:"transform,omitempty"`
	Surface         string       `json:"surface,omitempty"`
	To              string       `json:"to,omitempty"`
}

// HooksConfig is the webhook ingestor configuration.
type HooksConfig struct {
	Enabled      bool             `json:"enabled"`
	Listen       string           `json:"listen"`
	Token        string           `json:"token"`
	MaxBodyBytes int64            `json:"max_body_bytes"`
	Mappings     []WebhookMapping `json:"mappings,omitempty"`
}

type Config struct {
	StateDir       string `json:"state_dir"`
	LogLevel       string `json:"log_level"`
	MaxConcurrent  int    `json:"max_concurrent"`
	TimeoutSeconds int    `json:"timeout_seconds"`

	Surfaces   map[string]*SurfaceConfig `json:"surfaces"`
	Session    SessionConfig             `json:"session"`
	Queue      QueueConfig               `json:"queue"`
	Reply      ReplyConfig               `json:"reply"`
	Heartbeats []HeartbeatJob            `json:"heartbeats,omitempty"`
	Hooks      HooksConfig               `json:"hooks"`

	Telegram TelegramConfig `json:"telegram"`
	Brave    BraveConfig    `json:"brave"`
	LLM      LLMConfig      `json:"llm"`
}

// TelegramConfig holds the bot-API credentials for the telegram surface.
type TelegramConfig struct {
	Token string `json:"token"`
}

// BraveConfig enables the web_search tool when an API key is present.
type BraveConfig struct {
	APIKey string `json:"api_key"`
}

// LLMConfig is the model provider configuration.
type LLMConfig struct {
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`

	MaxContextTokens int `json:"max_context_tokens"`
	OutputReserve    int `json:"output_reserve"`
}

func defaults() *Config {
	cfg := &Config{
		StateDir:       filepath.Join(os.Getenv("HOME"), ".clawgate"),
		LogLevel:       "info",
		MaxConcurrent:  2,
		TimeoutSeconds: 600,
		Surfaces:       map[string]*SurfaceConfig{},
		Session: SessionConfig{
			Scope:        "per-sender",
			MainKey:      "main",
			IdleMinutes:  60,
			HistoryLimit: 50,
		},
		Queue: QueueConfig{
			Mode:       "collect",
			DebounceMs: 1000,
			Cap:        20,
			Drop:       "old",
		},
		Reply: ReplyConfig{
			BlockReplyChunking: ChunkConfig{
				MinChars:        800,
				MaxChars:        1200,
				BreakPreference: "paragraph",
			},
			BlockReplyBreak: "message_end",
		},
		Hooks: HooksConfig{
			Listen:       "127.0.0.1:8377",
			MaxBodyBytes: 256 << 10,
		},
		LLM: LLMConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			MaxTokens:        2000,
			Temperature:      0.7,
			MaxContextTokens: 128000,
			OutputReserve:    4096,
		},
	}
	return cfg
}

// Load reads the config file at path, writing defaults first if it does not
// exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	if token := os.Getenv("CLAWGATE_HOOKS_TOKEN"); token != "" {
		cfg.Hooks.Token = token
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if braveKey := os.Getenv("BRAVE_API_KEY"); braveKey != "" {
		cfg.Brave.APIKey = braveKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}

var queueModes = map[string]bool{
	"steer": true, "followup": true, "collect": true,
	"steer-backlog": true, "interrupt": true,
}

// Validate checks cross-field constraints and returns human-readable
// warnings for recoverable problems. Invalid mention patterns are logged
// and skipped at match time rather than failing startup.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if !queueModes[c.Queue.Mode] {
		return nil, fmt.Errorf("queue.mode %q is not one of steer|followup|collect|steer-backlog|interrupt", c.Queue.Mode)
	}
	if c.Queue.Mode == "interrupt" {
		warnings = append(warnings, `queue.mode "interrupt" cancels the active run and restarts; use "steer" to preempt in place`)
	}
	for surface, mode := range c.Queue.BySurface {
		if !queueModes[mode] {
			return nil, fmt.Errorf("queue.by_surface[%s]: unknown mode %q", surface, mode)
		}
	}
	switch c.Queue.Drop {
	case "old", "new", "summarize":
	default:
		return nil, fmt.Errorf("queue.drop %q is not one of old|new|summarize", c.Queue.Drop)
	}

	switch c.Reply.BlockReplyChunking.BreakPreference {
	case "paragraph", "newline", "sentence":
	default:
		return nil, fmt.Errorf("reply.block_reply_chunking.break_preference %q is not one of paragraph|newline|sentence", c.Reply.BlockReplyChunking.BreakPreference)
	}
	if min, max := c.Reply.BlockReplyChunking.MinChars, c.Reply.BlockReplyChunking.MaxChars; min <= 0 || max < min {
		return nil, fmt.Errorf("reply.block_reply_chunking: need 0 < min_chars <= max_chars, got %d/%d", min, max)
	}

	switch c.Session.Scope {
	case "per-sender", "per-group", "global":
	default:
		return nil, fmt.Errorf("session.scope %q is not one of per-sender|per-group|global", c.Session.Scope)
	}

	for name, sc := range c.Surfaces {
		for _, pat := range sc.MentionPatterns {
			if _, err := regexp.Compile("(?i)" + pat); err != nil {
				warnings = append(warnings, fmt.Sprintf("surfaces[%s]: skipping invalid mention pattern %q: %v", name, pat, err))
			}
		}
	}

	for i, hb := range c.Heartbeats {
		if _, derr := time.ParseDuration(hb.Every); derr != nil {
			if _, cerr := cronParser.Parse(hb.Every); cerr != nil {
				return nil, fmt.Errorf("heartbeats[%d].every %q is neither a duration nor a cron expression: %w", i, hb.Every, cerr)
			}
		}
	}

	for i, m := range c.Hooks.Mappings {
		if m.Action != "wake" && m.Action != "agent" {
			return nil, fmt.Errorf("hooks.mappings[%d].action %q is not wake|agent", i, m.Action)
		}
		if m.Match.Path == "" && m.Match.Source == "" {
			return nil, fmt.Errorf("hooks.mappings[%d]: match needs a path or source", i)
		}
	}

	return warnings, nil
}

// QueueModeFor returns the effective queue mode for a surface, honoring
// the by_surface override table.
func (c *Config) QueueModeFor(surface string) string {
	if mode, ok := c.Queue.BySurface[surface]; ok {
		return mode
	}
	return c.Queue.Mode
}

// LogValidation writes validation warnings through slog. Fatal problems are
// the caller's to handle.
func LogValidation(warnings []string) {
	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}
}

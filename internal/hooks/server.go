// Package hooks is the webhook ingestor: an authenticated HTTP surface
// that lets external systems wake sessions and run agent prompts.
package hooks

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/types"
)

// Backend is the slice of the run pipeline the hook server drives.
type Backend interface {
	// Wake submits text into a session's normal pipeline; replies are
	// delivered to the session's conversation.
	Wake(key types.SessionKey, surface, to, text string)
	// RunDirect runs a prompt and returns the shaped reply without
	// delivering it anywhere.
	RunDirect(key types.SessionKey, surface, to, text string) (string, error)
}

// Server handles the /hooks HTTP surface. All routes except /health
// require the shared token, via Bearer auth, X-Gateway-Token, or ?token=.
type Server struct {
	conf       func() *config.Config
	backend    Backend
	transforms *TransformRegistry
	mux        *http.ServeMux

	mu      sync.Mutex
	pending map[types.SessionKey][]string
}

func NewServer(conf func() *config.Config, backend Backend) *Server {
	s := &Server{
		conf:       conf,
		backend:    backend,
		transforms: NewTransformRegistry(),
		mux:        http.NewServeMux(),
		pending:    make(map[types.SessionKey][]string),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /hooks/wake", s.auth(s.handleWake))
	s.mux.HandleFunc("POST /hooks/agent", s.auth(s.handleAgent))
	s.mux.HandleFunc("POST /hooks/{name}", s.auth(s.handleMapped))
	return s
}

// Transforms exposes the registry so deployments can add their own.
func (s *Server) Transforms() *TransformRegistry {
	return s.transforms
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := s.conf().Hooks
	max := int64(cfg.MaxBodyBytes)
	if max <= 0 {
		max = 256 << 10
	}
	r.Body = http.MaxBytesReader(w, r.Body, max)
	s.mux.ServeHTTP(w, r)
}

// auth wraps a handler with shared-token checking.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.conf().Hooks.Token
		if token == "" || presentedToken(r) != token {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func presentedToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := r.Header.Get("X-Gateway-Token"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// wakeRequest is the body for POST /hooks/wake.
type wakeRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"` // "now" (default) or "next-heartbeat"
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	var req wakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	key := s.mainKey()
	if req.Mode == "next-heartbeat" {
		s.park(key, req.Text)
	} else {
		surface, to, _ := strings.Cut(string(key), ":")
		s.backend.Wake(key, surface, to, req.Text)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// agentRequest is the body for POST /hooks/agent.
type agentRequest struct {
	Message    string `json:"message"`
	Name       string `json:"name"`
	SessionKey string `json:"sessionKey"`
	WakeMode   string `json:"wakeMode"`
	Deliver    bool   `json:"deliver"`
	Channel    string `json:"channel"`
	To         string `json:"to"`
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	key := types.SessionKey(req.SessionKey)
	if key == "" {
		name := req.Name
		if name == "" {
			name = "agent"
		}
		key = types.NewSessionKey("hook", name)
	}

	if req.WakeMode == "next-heartbeat" {
		s.park(key, req.Message)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deferred"})
		return
	}

	if req.Deliver {
		s.backend.Wake(key, req.Channel, req.To, req.Message)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		return
	}

	out, err := s.backend.RunDirect(key, req.Channel, req.To, req.Message)
	if err != nil {
		slog.Error("hook agent run failed", "key", key, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"response": out})
}

// handleMapped serves POST /hooks/{name} through the configured mappings.
func (s *Server) handleMapped(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	if len(payload) > 0 && !gjson.ValidBytes(payload) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	mapping := s.match(name, payload)
	if mapping == nil {
		writeJSONError(w, http.StatusNotFound, "no matching hook")
		return
	}

	message := Expand(mapping.MessageTemplate, nil, payload)
	if message == "" {
		message = string(payload)
	}
	message, err = s.transforms.Apply(mapping.Transform, message)
	if err != nil {
		slog.Error("hook transform failed", "hook", name, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "transform failed")
		return
	}

	key := s.mappedKey(name, mapping, message, payload)

	switch {
	case mapping.WakeMode == "next-heartbeat":
		s.park(key, message)
	case mapping.Action == "agent":
		out, err := s.backend.RunDirect(key, mapping.Surface, mapping.To, message)
		if err != nil {
			slog.Error("hook agent run failed", "hook", name, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"response": out})
		return
	default: // wake
		s.backend.Wake(key, mapping.Surface, mapping.To, message)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// mappedKey resolves the mapping's session key, which is itself a template:
// named placeholders see the hook as an inbound event (the rendered message
// is {{Body}}, the hook name is {{From}}), dotted paths read the payload.
func (s *Server) mappedKey(name string, mapping *config.WebhookMapping, message string, payload []byte) types.SessionKey {
	fallback := types.NewSessionKey("hook", name)
	if mapping.SessionKey == "" {
		return fallback
	}
	evt := &types.InboundEvent{
		Surface: mapping.Surface,
		From:    name,
		To:      mapping.To,
		Body:    message,
	}
	key := Expand(mapping.SessionKey, EventVars(evt, fallback, false), payload)
	if key == "" {
		return fallback
	}
	return types.SessionKey(key)
}

func (s *Server) match(name string, payload []byte) *config.WebhookMapping {
	for i := range s.conf().Hooks.Mappings {
		m := &s.conf().Hooks.Mappings[i]
		if m.Match.Path != name {
			continue
		}
		if m.Match.Source != "" && gjson.GetBytes(payload, "source").String() != m.Match.Source {
			continue
		}
		return m
	}
	return nil
}

// mainKey is where bare wake-ups land.
func (s *Server) mainKey() types.SessionKey {
	key := s.conf().Session.MainKey
	if key == "" {
		key = "main"
	}
	return types.SessionKey(key)
}

// park holds text for the session's next heartbeat.
func (s *Server) park(key types.SessionKey, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = append(s.pending[key], text)
}

// DrainDeferred returns and clears the texts parked for a session. The
// heartbeat scheduler folds them into its next beat prompt.
func (s *Server) DrainDeferred(key types.SessionKey) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending[key]
	delete(s.pending, key)
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBodyError(w, err)
		return false
	}
	return true
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	writeJSONError(w, http.StatusBadRequest, "invalid JSON")
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

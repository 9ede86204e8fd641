package config

import (
	"strings"
)

// secretKeys are the credential-bearing paths; `config list` and the set
// echo mask their values.
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"telegram.token": true,
	"hooks.token":    true,
	"brave.api_key":  true,
}

// IsSecretKey reports whether the dot-separated path holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns the nested config document into dot-separated paths, e.g.
// {"hooks": {"listen": ":8377"}} → {"hooks.listen": ":8377"}. Arrays stay
// whole, as leaves.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flatten(key, child, out)
		default:
			out[key] = v
		}
	}
}

// Unflatten rebuilds the nested document from dot-separated paths. It is
// the write half of the get/set round trip.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
			} else {
				next, ok := current[part]
				if !ok {
					next = make(map[string]any)
					current[part] = next
				}
				m, ok := next.(map[string]any)
				if !ok {
					m = make(map[string]any)
					current[part] = m
				}
				current = m
			}
		}
	}
	return out
}

// MaskSecrets copies the flat map with credential values reduced to
// "***" plus their last 4 characters. Empty values stay empty, so the
// listing still shows which secrets are unset.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if secretKeys[k] {
			s, ok := v.(string)
			if ok && s != "" {
				if len(s) <= 4 {
					out[k] = "***" + s
				} else {
					out[k] = "***" + s[len(s)-4:]
				}
			} else {
				out[k] = v
			}
		} else {
			out[k] = v
		}
	}
	return out
}

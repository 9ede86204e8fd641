package hooks

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Transform rewrites a mapping's rendered message before it is submitted.
type Transform func(input string) (string, error)

// TransformRegistry holds named transforms referenced by webhook mappings.
type TransformRegistry struct {
	transforms map[string]Transform
}

// NewTransformRegistry returns a registry with the built-ins registered.
func NewTransformRegistry() *TransformRegistry {
	r := &TransformRegistry{transforms: make(map[string]Transform)}
	r.Register("html-to-markdown", func(in string) (string, error) {
		return htmltomarkdown.ConvertString(in)
	})
	r.Register("trim", func(in string) (string, error) {
		return strings.TrimSpace(in), nil
	})
	return r
}

func (r *TransformRegistry) Register(name string, t Transform) {
	r.transforms[name] = t
}

// Apply runs the named transform. An empty name is the identity.
func (r *TransformRegistry) Apply(name, input string) (string, error) {
	if name == "" {
		return input, nil
	}
	t, ok := r.transforms[name]
	if !ok {
		return "", fmt.Errorf("unknown transform %q", name)
	}
	return t(input)
}

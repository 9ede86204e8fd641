// Package delivery routes reply blocks to the surface that owns the
// conversation, with retry on transient transport failures.
package delivery

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

// Handler sends one block to a recipient on a specific surface.
type Handler func(to string, block subscriber.Block) error

// Dispatcher routes blocks by surface name. When the surface is unknown it
// falls back to the session key's prefix, so synthetic sessions like
// "telegram:hooks" still deliver.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	retry    *RetryPolicy
}

func NewDispatcher(retry *RetryPolicy) *Dispatcher {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Dispatcher{handlers: make(map[string]Handler), retry: retry}
}

// Register adds the handler for a surface.
func (d *Dispatcher) Register(surface string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[surface] = h
}

// Deliver sends the block, retrying per policy. A terminally failed block
// is downgraded to a short text notice so the user at least learns a reply
// was lost.
func (d *Dispatcher) Deliver(key types.SessionKey, surface, to string, block subscriber.Block) error {
	h := d.handler(surface, key)
	if h == nil {
		return fmt.Errorf("no delivery handler for surface %q (session %s)", surface, key)
	}

	err := d.retry.Execute(func() error { return h(to, block) })
	if err == nil {
		return nil
	}
	slog.Error("delivery failed", "key", key, "surface", surface, "error", err)

	if block.Text != deliveryFailedNotice {
		if nerr := h(to, subscriber.Block{Text: deliveryFailedNotice, Final: block.Final}); nerr != nil {
			slog.Error("delivery failure notice also failed", "key", key, "error", nerr)
		}
	}
	return err
}

const deliveryFailedNotice = "(a reply could not be delivered)"

func (d *Dispatcher) handler(surface string, key types.SessionKey) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[surface]; ok {
		return h
	}
	if prefix, _, ok := strings.Cut(string(key), ":"); ok {
		return d.handlers[prefix]
	}
	return nil
}

package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Hub is a slog.Handler that forwards records to a base handler while
// keeping a bounded ring of formatted lines and fanning them out to
// subscribers. Slow subscribers drop lines rather than block logging.
type Hub struct {
	base slog.Handler
	core *hubCore
}

type hubCore struct {
	mu   sync.Mutex
	ring []string
	max  int
	subs map[chan string]struct{}
}

// NewHub wraps base. ringSize bounds the replay buffer.
func NewHub(base slog.Handler, ringSize int) *Hub {
	if ringSize < 1 {
		ringSize = 256
	}
	return &Hub{
		base: base,
		core: &hubCore{
			max:  ringSize,
			subs: make(map[chan string]struct{}),
		},
	}
}

func (h *Hub) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *Hub) Handle(ctx context.Context, r slog.Record) error {
	h.core.publish(formatRecord(r))
	return h.base.Handle(ctx, r)
}

func (h *Hub) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Hub{base: h.base.WithAttrs(attrs), core: h.core}
}

func (h *Hub) WithGroup(name string) slog.Handler {
	return &Hub{base: h.base.WithGroup(name), core: h.core}
}

// Subscribe registers a follower. The returned channel receives formatted
// lines; cancel unregisters and closes it. Lines logged while the channel
// buffer is full are dropped for that follower.
func (h *Hub) Subscribe(buffer int) (<-chan string, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan string, buffer)
	h.core.mu.Lock()
	h.core.subs[ch] = struct{}{}
	h.core.mu.Unlock()

	cancel := func() {
		h.core.mu.Lock()
		if _, ok := h.core.subs[ch]; ok {
			delete(h.core.subs, ch)
			close(ch)
		}
		h.core.mu.Unlock()
	}
	return ch, cancel
}

// Replay returns a copy of the buffered tail, oldest first.
func (h *Hub) Replay() []string {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	out := make([]string, len(h.core.ring))
	copy(out, h.core.ring)
	return out
}

func (c *hubCore) publish(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = append(c.ring, line)
	if len(c.ring) > c.max {
		c.ring = c.ring[len(c.ring)-c.max:]
	}
	for ch := range c.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

func formatRecord(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	return b.String()
}

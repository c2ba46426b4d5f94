package gateway

import (
	"sync"

	"go.uber.org/zap"
)

// Conn is one attached viewer. Frames are handed to a buffered channel
// drained by the connection's write pump; a viewer that can't keep up
// loses frames instead of stalling the hub, and reconciles through a
// snapshot refetch.
type Conn struct {
	ID string
	// Identity is empty for unauthenticated connections
	Identity string

	send chan Frame
	done chan struct{}
	once sync.Once
}

func newConn(id, identity string) *Conn {
	return &Conn{
		ID:       id,
		Identity: identity,
		send:     make(chan Frame, 64),
		done:     make(chan struct{}),
	}
}

// push hands a frame to the write pump. The send channel is never
// closed, teardown is signaled through done instead, so a push racing
// a disconnect lands in the buffer and is garbage collected with it.
func (c *Conn) push(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- f:
	default:
		zap.L().Debug("Dropping frame for slow consumer",
			zap.String("conn_id", c.ID),
			zap.String("event", f.Event))
	}
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks this process's connections and their identity groups.
// Cross-instance delivery is the bus's job, the hub is purely local.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	groups map[string]map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		groups: make(map[string]map[string]*Conn),
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID] = c

	if c.Identity == "" {
		return
	}

	if _, ok := h.groups[c.Identity]; !ok {
		h.groups[c.Identity] = make(map[string]*Conn)
	}
	h.groups[c.Identity][c.ID] = c
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()

	delete(h.conns, c.ID)

	if c.Identity != "" {
		group := h.groups[c.Identity]
		delete(group, c.ID)
		if len(group) == 0 {
			delete(h.groups, c.Identity)
		}
	}

	h.mu.Unlock()

	c.close()
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}

	return conns
}

// Broadcast delivers an event to every local connection.
func (h *Hub) Broadcast(event string, data any) {
	f := Frame{Event: event, Data: data}
	for _, c := range h.snapshot() {
		c.push(f)
	}
}

// BroadcastExcept delivers to every local connection but the origin,
// mirroring the caller's own optimistic render.
func (h *Hub) BroadcastExcept(origin string, event string, data any) {
	f := Frame{Event: event, Data: data}
	for _, c := range h.snapshot() {
		if c.ID == origin {
			continue
		}
		c.push(f)
	}
}

// ToGroup delivers to every local connection of one identity, so all
// of a user's open tabs converge on the same point balance.
func (h *Hub) ToGroup(identity string, event string, data any) {
	h.mu.RLock()
	group := make([]*Conn, 0, len(h.groups[identity]))
	for _, c := range h.groups[identity] {
		group = append(group, c)
	}
	h.mu.RUnlock()

	f := Frame{Event: event, Data: data}
	for _, c := range group {
		c.push(f)
	}
}

// LocalCount is the fallback viewer count when the presence registry
// is unreachable.
func (h *Hub) LocalCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

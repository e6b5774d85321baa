package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbuck1/navilink/internal/infrastructure/config"
	"github.com/kbuck1/navilink/internal/infrastructure/logging"
	"github.com/kbuck1/navilink/internal/navilink"
)

// ChannelStateChanged carries device snapshots.
const ChannelStateChanged = "device.state_changed"

// Hub fans events out to WebSocket clients by channel. It satisfies the
// statesync broadcaster, so every recorded snapshot reaches clients
// subscribed to ChannelStateChanged.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	replay  atomic.Pointer[func() []navilink.Snapshot]
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// SetReplay sets the source of current snapshots. A client subscribing to
// ChannelStateChanged receives one event per device straight away.
func (h *Hub) SetReplay(fn func() []navilink.Snapshot) {
	h.replay.Store(&fn)
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client. The send channel is closed only by whoever
// removes the client from the map, so a concurrent closeAll cannot close
// it twice.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := eventMessage(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	recipients := 0
	for _, c := range h.snapshotClients() {
		if !c.subscribed(channel) {
			continue
		}
		c.enqueue(data)
		recipients++
	}
	if recipients > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", recipients)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because a client's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// snapshotClients copies the client set so sends happen without the hub lock.
func (h *Hub) snapshotClients() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// replayTo sends the current snapshot of every device to one client.
func (h *Hub) replayTo(c *WSClient) {
	fn := h.replay.Load()
	if fn == nil || *fn == nil {
		return
	}
	for _, snap := range (*fn)() {
		if data, err := eventMessage(ChannelStateChanged, snap); err == nil {
			c.enqueue(data)
		}
	}
}

// closeAll disconnects every client and closes its send channel so the
// write pump exits.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func eventMessage(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

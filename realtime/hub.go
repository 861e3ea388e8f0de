package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/quii/vue-fast-sub001/models"
)

// Hub is the notification broker: it owns the registry of connections and
// the shoot codes each one is subscribed to. Delivery is best effort; a
// connection whose buffer is full misses the frame and resynchronises from
// the next snapshot.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	logger  *slog.Logger
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	mu      sync.RWMutex
	done    chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is cancelled, then closes every
// remaining connection's send queue.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("realtime client registered", slog.String("remote", client.remote), slog.Int("clients", total))

		case client := <-h.Unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				for code := range client.codes {
					h.leaveRoom(client, code)
				}
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("realtime client unregistered", slog.String("remote", client.remote), slog.Int("clients", total))
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
}

// Subscribe adds the connection to the code's room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(client *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[code]; !ok {
		h.rooms[code] = make(map[*Client]bool)
	}
	h.rooms[code][client] = true
	client.codes[code] = true
}

func (h *Hub) Unsubscribe(client *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoom(client, code)
}

// leaveRoom requires h.mu to be held.
func (h *Hub) leaveRoom(client *Client, code string) {
	delete(client.codes, code)
	room, ok := h.rooms[code]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, code)
	}
}

func (h *Hub) subscribed(client *Client, code string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.codes[code]
}

// SubscriberCount returns how many connections currently watch the code.
func (h *Hub) SubscriberCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// Publish sends the notification to every connection subscribed to code.
func (h *Hub) Publish(code string, notification models.Notification) {
	data, err := json.Marshal(notification)
	if err != nil {
		h.logger.Error("failed to marshal notification", slog.String("code", code), slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(models.Envelope{
		Type:      models.EnvelopeNotification,
		ShootCode: code,
		Data:      data,
	})
	if err != nil {
		h.logger.Error("failed to marshal notification envelope", slog.String("code", code), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[code] {
		if !client.enqueue(frame) {
			h.logger.Warn("dropping notification for slow client",
				slog.String("code", code),
				slog.String("remote", client.remote),
				slog.String("type", string(notification.Type)),
			)
		}
	}
}

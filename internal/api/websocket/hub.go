package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MachineStatusProvider supplies the machine snapshot sent in the welcome
// message.
type MachineStatusProvider interface {
	Snapshot() any
}

// Hub fans live messages out to every attached client. All membership
// changes happen on the Run goroutine.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	status MachineStatusProvider
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) SetMachineStatusProvider(provider MachineStatusProvider) {
	h.mu.Lock()
	h.status = provider
	h.mu.Unlock()
}

// Run serves register, unregister and broadcast requests until Stop.
func (h *Hub) Run() {
	h.logger.Info("Live feed hub started")
	defer h.logger.Info("Live feed hub stopped")

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.detachLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.attach(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.detachLocked(client)
				h.logger.Info("Live client detached",
					zap.String("client_id", client.id.String()),
					zap.Int("clients", len(h.clients)))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	provider := h.status
	h.mu.Unlock()

	welcome := WelcomeData{ClientID: client.id.String()}
	if provider != nil {
		welcome.Machine = provider.Snapshot()
	}
	if raw, err := json.Marshal(NewMessage(MessageTypeWelcome, welcome)); err == nil {
		select {
		case client.send <- raw:
		default:
		}
	}

	h.logger.Info("Live client attached",
		zap.String("client_id", client.id.String()),
		zap.String("remote_addr", client.remote),
		zap.Int("clients", n))
}

// fanOut encodes msg once and queues it for every subscribed client.
// A client whose queue is full is dropped.
func (h *Hub) fanOut(msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Cannot encode live message",
			zap.String("message_type", string(msg.Type)),
			zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(msg.Type) {
			continue
		}
		select {
		case client.send <- raw:
		default:
			h.detachLocked(client)
			h.logger.Warn("Live client too slow, detached",
				zap.String("client_id", client.id.String()))
		}
	}
}

// detachLocked requires h.mu held for writing.
func (h *Hub) detachLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg without blocking. Messages are dropped when the
// queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Live feed queue full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

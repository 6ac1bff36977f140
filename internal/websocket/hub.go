package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/realm-tycoon/economy-server/internal/domain"
)

// Message types
const (
	MessageTypeInbox             = "inbox"
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate carries a category list after a committed score
type LeaderboardUpdate struct {
	Category domain.Category           `json:"category"`
	Entries  []domain.LeaderboardEntry `json:"entries"`
}

// InboxTopic is the private topic every client joins on connect
func InboxTopic(playerID string) string {
	return "inbox:" + playerID
}

// LeaderboardTopic is the public topic of a category
func LeaderboardTopic(category domain.Category) string {
	return "leaderboard:" + string(category)
}

// Hub maintains the set of active clients and routes messages by topic
type Hub struct {
	// Subscribed clients by topic
	topics map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		topics:      make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.addLocked(client, InboxTopic(client.playerID))
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id, "player_id", client.playerID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for topic := range h.topics {
					h.removeLocked(client, topic)
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.allClients[req.client] {
				h.addLocked(req.client, req.topic)
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "topic", req.topic)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			h.removeLocked(req.client, req.topic)
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "topic", req.topic)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) addLocked(c *Client, topic string) {
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][c] = true
}

func (h *Hub) removeLocked(c *Client, topic string) {
	if clients, ok := h.topics[topic]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// broadcastMessage sends a message to every client subscribed to its topic
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.topics[message.Topic] {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "topic", message.Topic)
	}
}

// NotifyInbox pushes a new inbox message to the player's connections
func (h *Hub) NotifyInbox(playerID string, msg domain.InboxMessage) {
	h.enqueue(&Message{
		Type:      MessageTypeInbox,
		Topic:     InboxTopic(playerID),
		Data:      msg,
		Timestamp: time.Now(),
	})
}

// NotifyLeaderboard pushes a category list to its subscribers
func (h *Hub) NotifyLeaderboard(category domain.Category, entries []domain.LeaderboardEntry) {
	h.enqueue(&Message{
		Type:  MessageTypeLeaderboardUpdate,
		Topic: LeaderboardTopic(category),
		Data: LeaderboardUpdate{
			Category: category,
			Entries:  entries,
		},
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub. Register, Unregister, Subscribe and
// Unsubscribe are no-ops once the hub is stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers of a topic
func (h *Hub) GetSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

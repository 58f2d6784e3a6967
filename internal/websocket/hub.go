package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/deploydeck/api/internal/model"
	"github.com/deploydeck/api/internal/store"
)

// Client represents a WebSocket client
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to batch subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for batch %s", client.BatchID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.BatchID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.BatchID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from batch %s", client.BatchID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.BatchID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// StoreListener adapts the hub to the store's transition callback. The
// callback runs on the store goroutine, so publishes must never block;
// a full buffer drops the update and the client resyncs over REST.
func (h *Hub) StoreListener() store.Listener {
	return func(e store.Event) {
		h.BroadcastJob(e.Job)
		h.BroadcastSummary(e.Summary)
		if e.Summary.Done() {
			h.BroadcastBatchDone(e.Summary.BatchID, e.Summary.Status)
		}
	}
}

// BroadcastJob sends a job transition to all batch subscribers
func (h *Hub) BroadcastJob(job model.AssignmentJob) {
	h.publish(job.BatchID, model.WSJobMessage{
		Type:       model.WSMessageTypeJob,
		BatchID:    job.BatchID,
		JobID:      job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Failure:    job.Failure,
	})
}

// BroadcastSummary sends the running rollup to all batch subscribers
func (h *Hub) BroadcastSummary(summary model.BatchSummary) {
	h.publish(summary.BatchID, model.WSSummaryMessage{
		Type:    model.WSMessageTypeSummary,
		BatchID: summary.BatchID,
		Summary: summary,
	})
}

// BroadcastBatchDone announces that every job reached a terminal status
func (h *Hub) BroadcastBatchDone(batchID, status string) {
	h.publish(batchID, model.WSBatchDoneMessage{
		Type:    model.WSMessageTypeBatchDone,
		BatchID: batchID,
		Status:  status,
	})
}

// BroadcastError sends an error message to all batch subscribers
func (h *Hub) BroadcastError(batchID, code, message string) {
	h.publish(batchID, model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		BatchID: batchID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) publish(batchID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %T: %v", payload, err)
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{BatchID: batchID, Message: data}:
	default:
		log.Printf("Broadcast buffer full, dropping update for batch %s", batchID)
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}

package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/trackvault/api/internal/model"
)

// minEmitInterval coalesces mutation bursts: each subscriber sees at
// most one snapshot per interval, always the latest. Terminal snapshots
// bypass the throttle.
const minEmitInterval = time.Second

// wsConn is the subset of the websocket connection the hub uses.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// outbound is one queued emission for a subscriber.
type outbound struct {
	data     []byte
	terminal bool
}

// Client represents one subscription: one job id, one connection.
type Client struct {
	JobID string
	Conn  wsConn
	Send  chan outbound

	mu     sync.Mutex
	closed bool
}

// trySend queues msg unless the subscription is shut down or the buffer
// is full. Reports whether the message was queued.
func (c *Client) trySend(msg outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once, fencing off concurrent
// trySend callers.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Hub relays job snapshots to subscribers until the job reaches a
// terminal stage. Subscriptions to the same job are independent; a slow
// subscriber never blocks the runner or its peers.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu sync.RWMutex
}

type broadcastMessage struct {
	jobID   string
	payload outbound
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.shutdown()
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.jobID]; ok {
				for client := range clients {
					if !client.trySend(msg.payload) {
						// Subscriber stopped draining; drop it.
						delete(clients, client)
						client.shutdown()
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.jobID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastSnapshot pushes a job snapshot to all subscribers. Called
// after every store mutation; the store is the sole emission trigger.
func (h *Hub) BroadcastSnapshot(jobID string, snapshot *model.CaptureStatusResponse) {
	data, err := marshalSnapshot(jobID, snapshot)
	if err != nil {
		log.Printf("Failed to marshal snapshot message: %v", err)
		return
	}

	h.broadcast <- &broadcastMessage{
		jobID: jobID,
		payload: outbound{
			data:     data,
			terminal: snapshot.Stage.Terminal(),
		},
	}
}

func marshalSnapshot(jobID string, snapshot *model.CaptureStatusResponse) ([]byte, error) {
	return json.Marshal(model.WSSnapshotMessage{
		Type:     model.WSMessageTypeSnapshot,
		JobID:    jobID,
		Snapshot: snapshot,
	})
}

// HandleConnection serves one subscription. The client is registered
// before the first snapshot is read, so a mutation landing between the
// read and the subscription is still delivered; the connection closes
// from the server side once a terminal snapshot has gone out.
func (h *Hub) HandleConnection(c wsConn, jobID string, fetch func() (*model.CaptureStatusResponse, error)) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan outbound, 64),
	}

	h.register <- client

	closed := make(chan struct{})
	go client.writePump(closed)

	teardown := func() {
		h.unregister <- client
		<-closed
	}

	snapshot, err := fetch()
	if err != nil {
		teardown()
		return
	}
	data, err := marshalSnapshot(jobID, snapshot)
	if err != nil {
		teardown()
		return
	}
	client.trySend(outbound{data: data, terminal: snapshot.Stage.Terminal()})

	// Reader loop: client ping/pong only.
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.trySend(outbound{data: pong})
		}
	}
	teardown()
}

// writePump drains the send channel, coalescing snapshot bursts to one
// emission per interval and closing the connection after the terminal
// snapshot. The connection is closed on exit so the reader loop
// unblocks.
func (c *Client) writePump(closed chan struct{}) {
	defer func() {
		c.Conn.Close()
		close(closed)
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	flush := time.NewTimer(minEmitInterval)
	if !flush.Stop() {
		<-flush.C
	}

	var pending *outbound
	var lastEmit time.Time

	write := func(msg outbound) bool {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
			return false
		}
		lastEmit = time.Now()
		if msg.terminal {
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return false
		}
		return true
	}

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if msg.terminal || time.Since(lastEmit) >= minEmitInterval {
				if !write(msg) {
					return
				}
				pending = nil
				continue
			}
			// Within the throttle window: keep only the latest.
			m := msg
			if pending == nil {
				flush.Reset(minEmitInterval - time.Since(lastEmit))
			}
			pending = &m

		case <-flush.C:
			if pending != nil {
				if !write(*pending) {
					return
				}
				pending = nil
			}

		case <-keepalive.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

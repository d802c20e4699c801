package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"faultline/internal/logger"
)

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
)

// wsClient adapts one WebSocket connection to the broadcast.Observer
// interface. Send never blocks: a full buffer counts as a failed delivery,
// which gets the client pruned by the broadcaster.
type wsClient struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func (c *wsClient) ID() string {
	return c.id
}

func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("observer %s is closed", c.id)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("observer %s send buffer full", c.id)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

type wsMessage struct {
	Action string `json:"action"`
	NodeID string `json:"node_id"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(fmt.Sprintf("WebSocket upgrade failed: %v", err))
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	go client.writePump()
	s.bcast.Connect(client)

	defer func() {
		s.bcast.Disconnect(client.id)
		s.streams.DropSubscriber(client.id)
		client.close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleWSMessage(client, data)
	}
}

func (s *Server) handleWSMessage(c *wsClient, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug(fmt.Sprintf("Discarding malformed ws message from %s: %v", c.id, err))
		return
	}

	switch msg.Action {
	case "subscribe_logs":
		if msg.NodeID != "" {
			s.streams.Subscribe(msg.NodeID, c.id)
		}
	case "unsubscribe_logs":
		if msg.NodeID != "" {
			s.streams.Unsubscribe(msg.NodeID, c.id)
		}
	default:
		logger.Debug(fmt.Sprintf("Unknown ws action %q from %s", msg.Action, c.id))
	}
}

// README: WebSocket hub; sockets join topic rooms by role and receive every event on them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dispatch/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms []string
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHub(log zerolog.Logger, allowedOrigins ...string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Hub{
		rooms: make(map[string]map[*client]struct{}),
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// RoomsFor lists the topics a principal is subscribed to.
func RoomsFor(p auth.Principal) []string {
	switch p.Role {
	case auth.RoleManager:
		return []string{ManagersTopic}
	case auth.RolePartner:
		return []string{PartnerTopic(p.ID), PartnersTopic}
	}
	return nil
}

// Publish implements Publisher for single-instance deployments without Redis.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	h.Deliver(evt.Topic, b)
	return nil
}

// Deliver queues msg for every socket in topic and returns how many received it.
// Sockets whose buffer is full are dropped.
func (h *Hub) Deliver(topic string, msg []byte) int {
	h.mu.RLock()
	var slow []*client
	n := 0
	for c := range h.rooms[topic] {
		select {
		case c.send <- msg:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("topic", topic).Msg("dropping slow websocket subscriber")
		h.leave(c)
	}
	return n
}

// Subscribers returns the number of sockets joined to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range c.rooms {
		if h.rooms[r] == nil {
			h.rooms[r] = make(map[*client]struct{})
		}
		h.rooms[r][c] = struct{}{}
	}
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	for _, r := range c.rooms {
		delete(h.rooms[r], c)
		if len(h.rooms[r]) == 0 {
			delete(h.rooms, r)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Serve upgrades the request and keeps the socket joined to the principal's rooms
// until the peer disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, p auth.Principal) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), rooms: RoomsFor(p)}
	h.join(c)
	h.log.Info().Str("user_id", string(p.ID)).Strs("rooms", c.rooms).Msg("websocket joined")

	go h.writePump(c)
	h.readPump(c)
	h.log.Info().Str("user_id", string(p.ID)).Msg("websocket left")
	return nil
}

// readPump discards inbound frames; the channel is server to client only.
func (h *Hub) readPump(c *client) {
	defer h.leave(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Event is a message streamed to websocket subscribers
type Event struct {
	Connection string          `json:"connection"`
	Message    network.Message `json:"message"`
}

type subscriber struct {
	id   string
	conn string
	send chan []byte
}

// hub fans inbound messages out to the subscribers of each connection.
// Slow subscribers lose messages instead of blocking the connection.
type hub struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]*subscriber)}
}

func (h *hub) subscribe(conn string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.subs[sub.id] = sub
	subscribersGauge.Inc()
	return sub, true
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.send)
		subscribersGauge.Dec()
	}
}

func (h *hub) count(conn string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, sub := range h.subs {
		if sub.conn == conn {
			n++
		}
	}
	return n
}

func (h *hub) publish(conn string, msg network.Message) error {
	data, err := json.Marshal(Event{Connection: conn, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if sub.conn != conn {
			continue
		}
		select {
		case sub.send <- data:
		default:
			eventsDropped.Inc()
		}
	}
	return nil
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.send)
		subscribersGauge.Dec()
	}
}

func (s *Server) handleEvents(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied
		log.Printf("[web] Websocket upgrade failed: %v", err)
		return nil
	}

	sub, ok := s.hub.subscribe(conn.ID())
	if !ok {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		ws.Close()
		return nil
	}
	log.Printf("[web] Subscriber %s watching %s", sub.id, conn.ID())

	go s.readPump(ws, sub)
	s.writePump(ws, sub)
	return nil
}

// readPump discards what the client sends, noticing when it goes away
func (s *Server) readPump(ws *websocket.Conn, sub *subscriber) {
	defer s.hub.unsubscribe(sub.id)

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(ws *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
		s.hub.unsubscribe(sub.id)
		log.Printf("[web] Subscriber %s left", sub.id)
	}()

	for {
		select {
		case data, ok := <-sub.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lanerunner/internal/eventbus"
	"lanerunner/pkg/logx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 32
)

// message is one frame of the progress stream. On connect the client gets
// one "snapshot" frame per lane, then one frame per lane event.
type message struct {
	Type     string    `json:"type"`
	Lane     string    `json:"lane,omitempty"`
	Time     time.Time `json:"time"`
	Progress any       `json:"progress,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// hub fans lane events out to websocket clients. A client whose buffer is
// full is disconnected rather than slowing the others.
type hub struct {
	ctl      Controller
	log      logx.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	unsub   func()
}

func newHub(ctl Controller, log logx.Logger) *hub {
	return &hub{
		ctl:     ctl,
		log:     log,
		clients: map[*wsClient]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *hub) start(bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(256)
	h.mu.Lock()
	h.unsub = unsub
	h.mu.Unlock()
	go func() {
		for ev := range ch {
			if !eventbus.HasPrefix(ev, "lane.") {
				continue
			}
			b, err := json.Marshal(message{Type: ev.Type, Lane: ev.Lane, Time: ev.Time, Progress: ev.Data})
			if err != nil {
				h.log.Warn("ws encode failed", logx.Err(err))
				continue
			}
			h.broadcast(b)
		}
	}()
}

func (h *hub) stop() {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (h *hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			delete(h.clients, c)
			c.close()
			h.log.Warn("ws client too slow; disconnected", logx.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	// Queue the snapshot before registering so it precedes live events.
	ids, err := h.ctl.Lanes(r.Context())
	if err != nil {
		h.log.Warn("ws snapshot failed", logx.Err(err))
	}
	for _, id := range ids {
		p, err := h.ctl.Progress(r.Context(), id)
		if err != nil {
			continue
		}
		b, err := json.Marshal(message{Type: "snapshot", Lane: id, Time: time.Now(), Progress: p})
		if err != nil {
			continue
		}
		select {
		case c.send <- b:
		default:
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("ws client connected", logx.String("remote", conn.RemoteAddr().String()), logx.Int("clients", h.clientCount()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client frames and detects disconnects.
func (h *hub) readLoop(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

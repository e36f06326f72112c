package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gatewatch/gatewatch/internal/device"
	"github.com/gatewatch/gatewatch/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Enforce same-origin policy for WebSocket upgrades.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if after, ok := strings.CutPrefix(origin, "http://"); ok {
			return after == host
		}
		if after, ok := strings.CutPrefix(origin, "https://"); ok {
			return after == host
		}
		return false
	},
}

// wsClient couples one websocket connection to one hub subscription.
type wsClient struct {
	conn *websocket.Conn
	dev  *device.Device
	sub  *hub.Subscriber
	pong chan struct{} // readPump asks writePump to answer a client ping
}

// handleWS upgrades the connection and streams the device's event feed:
// one init snapshot followed by live log and stats_update events.
func (s *Server) handleWS(c *gin.Context) {
	dev, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("httpserver: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		dev:  dev,
		sub:  dev.Subscribe(),
		pong: make(chan struct{}, 1),
	}

	go client.writePump()
	go client.readPump()
}

// writePump drains the subscription into the connection. It exits when the
// subscription channel closes, which happens on unsubscribe, hub shutdown,
// or when this client falls too far behind.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event queue overflow"))
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("httpserver: marshaling %s event: %v", ev.Type, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.pong:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client control messages until the connection drops,
// then detaches the subscription.
func (c *wsClient) readPump() {
	defer func() {
		c.dev.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type   string `json:"type"`
			Paused *bool  `json:"paused"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			select {
			case c.pong <- struct{}{}:
			default:
			}
		case "pause":
			paused := true
			if msg.Paused != nil {
				paused = *msg.Paused
			}
			c.dev.SetPaused(c.sub, paused)
		}
	}
}

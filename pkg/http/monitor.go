package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"translate-hub/pkg/errors"
	"translate-hub/pkg/sessionlog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 256
	broadcastQueue = 256
)

// WebSocketUpgrader configures monitor connections
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// monitorClient is one connected websocket
type monitorClient struct {
	monitor   *Monitor
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// Monitor broadcasts session events to websocket clients. It is a
// sessionlog.Sink. Clients may pass ?session_id= to follow one session.
type Monitor struct {
	logger     *logrus.Entry
	clients    map[*monitorClient]bool
	broadcast  chan sessionlog.Event
	register   chan *monitorClient
	unregister chan *monitorClient
	done       chan struct{}
	mutex      sync.RWMutex
}

// NewMonitor creates the monitor. Run must be started for events to flow.
func NewMonitor(logger *logrus.Logger) *Monitor {
	return &Monitor{
		logger:     logger.WithField("component", "monitor"),
		clients:    make(map[*monitorClient]bool),
		broadcast:  make(chan sessionlog.Event, broadcastQueue),
		register:   make(chan *monitorClient),
		unregister: make(chan *monitorClient),
		done:       make(chan struct{}),
	}
}

// Publish implements sessionlog.Sink. Events are dropped when the broadcast
// queue is full.
func (m *Monitor) Publish(event sessionlog.Event) error {
	select {
	case m.broadcast <- event:
	default:
		m.logger.WithField("type", event.Type).Debug("Monitor queue full, dropping event")
	}
	return nil
}

// Clients returns the number of connected clients
func (m *Monitor) Clients() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Run dispatches events until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Starting session monitor")
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mutex.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				close(client.send)
			}
			m.mutex.Unlock()
			m.logger.Info("Session monitor stopped")
			return

		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client] = true
			m.mutex.Unlock()
			m.logger.WithField("session_id", client.sessionID).Debug("Monitor client connected")

		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			m.mutex.Unlock()
			m.logger.Debug("Monitor client disconnected")

		case event := <-m.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				m.logger.WithError(err).Warn("Failed to encode session event")
				continue
			}

			m.mutex.Lock()
			for client := range m.clients {
				if client.sessionID != "" && client.sessionID != event.SessionID {
					continue
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(m.clients, client)
				}
			}
			m.mutex.Unlock()
		}
	}
}

// ServeWs upgrades the request and attaches a client
func (m *Monitor) ServeWs(w http.ResponseWriter, r *http.Request) {
	select {
	case <-m.done:
		errors.WriteError(w, errors.Wrap(errors.ErrUnavailable, "session monitor stopped"))
		return
	default:
	}

	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to upgrade connection to WebSocket")
		return
	}

	client := &monitorClient{
		monitor:   m,
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		sessionID: r.URL.Query().Get("session_id"),
	}
	select {
	case m.register <- client:
	case <-m.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards client input and notices when the peer goes away
func (c *monitorClient) readPump() {
	defer func() {
		select {
		case c.monitor.unregister <- c:
		case <-c.monitor.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump sends queued events, one JSON document per message
func (c *monitorClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

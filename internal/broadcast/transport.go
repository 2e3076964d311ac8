package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize caps inbound client frames; the protocol's own
	// envelopes are small (WS_SUBSCRIBE, CHAT_MESSAGE, GATE_RESPONSE).
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// InboundHandler processes a client→server envelope ({SESSION_START,
// SELFDEV_START, CHAT_MESSAGE, GATE_RESPONSE, RECONNECT_SYNC} per spec §6);
// WS_SUBSCRIBE/WS_UNSUBSCRIBE are handled by the Connection itself and never
// reach this handler.
type InboundHandler func(c *Connection, env protocol.Envelope)

// Connection is one observer duplex channel: a websocket conn plus its own
// read/write pump goroutines and subscription set. Implements Observer.
type Connection struct {
	id   string
	conn *websocket.Conn
	send chan protocol.Envelope

	subMu sync.Mutex
	subs  map[string]bool

	onMessage InboundHandler
	logger    *slog.Logger
}

// Serve upgrades r to a websocket, registers the resulting Connection with b,
// and blocks running its read/write pumps until the connection closes.
func (b *Broadcaster) Serve(w http.ResponseWriter, r *http.Request, onMessage InboundHandler, logger *slog.Logger) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan protocol.Envelope, sendBuffer),
		subs:      make(map[string]bool),
		onMessage: onMessage,
		logger:    logger,
	}

	b.Register(c)
	defer b.Unregister(c)

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	close(c.send)
	<-done
	return nil
}

func (c *Connection) ID() string { return c.id }

// Deliver enqueues env for the write pump, dropping it if the connection's
// buffer is full rather than blocking the broadcaster (spec §5).
func (c *Connection) Deliver(env protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn("broadcast: dropping envelope, observer buffer full", "observer", c.id, "type", env.Type)
	}
}

// Subscribed reports whether this connection should receive a message
// resolved to slug. No active subscriptions means "subscribed to
// everything" (spec §4.7).
func (c *Connection) Subscribed(slug string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[slug]
}

func (c *Connection) subscribe(slug string) {
	c.subMu.Lock()
	c.subs[slug] = true
	c.subMu.Unlock()
}

func (c *Connection) unsubscribe(slug string) {
	c.subMu.Lock()
	delete(c.subs, slug)
	c.subMu.Unlock()
}

func (c *Connection) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("broadcast: read error", "observer", c.id, "err", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("broadcast: malformed inbound envelope", "observer", c.id, "err", err)
			continue
		}

		switch env.Type {
		case protocol.WSSubscribe, protocol.WSUnsubscribe:
			c.handleSubscription(env)
		default:
			if c.onMessage != nil {
				c.onMessage(c, env)
			}
		}
	}
}

func (c *Connection) handleSubscription(env protocol.Envelope) {
	var p protocol.WSSubscribePayload
	if err := env.Decode(&p); err != nil || p.ProjectSlug == "" {
		return
	}
	if env.Type == protocol.WSSubscribe {
		c.subscribe(p.ProjectSlug)
	} else {
		c.unsubscribe(p.ProjectSlug)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

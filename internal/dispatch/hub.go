package dispatch

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientSendBuffer bounds how many undelivered envelopes a single websocket
// connection may queue before it is treated as a slow client and dropped.
const clientSendBuffer = 16

// writeWait bounds how long a single WriteJSON may block a client's writer
// goroutine before the connection is considered stalled.
const writeWait = 5 * time.Second

// client is one live websocket connection: a bounded outbox drained by its
// own writer goroutine, so a single stalled connection never blocks Deliver
// or any other connection's delivery. quit is closed exactly once (via
// stop) by whichever of the read loop, writePump, or Deliver notices the
// connection is gone first; send itself is never closed, so a concurrent
// Deliver racing a disconnect can never panic on a send to a closed channel.
type client struct {
	conn      *websocket.Conn
	send      chan Envelope
	quit      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan Envelope, clientSendBuffer), quit: make(chan struct{})}
}

func (c *client) stop() {
	c.closeOnce.Do(func() { close(c.quit) })
}

// Hub is the in-process connection registry (C9): a mutex-guarded map from
// recipient user id to their live websocket connections. It is written only
// by the websocket accept/disconnect path and read by the pub/sub listener
// that forwards envelopes addressed to a locally-connected user. This
// replaces a global singleton connection manager with an explicit struct
// passed to constructors, per the design note on re-architecting the
// source's connection_manager pattern.
type Hub struct {
	mu         sync.RWMutex
	userConns  map[int64]map[*client]struct{}
	register   chan subscription
	unregister chan subscription
}

type subscription struct {
	userID int64
	client *client
}

func NewHub() *Hub {
	return &Hub{
		userConns:  make(map[int64]map[*client]struct{}),
		register:   make(chan subscription),
		unregister: make(chan subscription),
	}
}

// Run drives the registry's insert/remove loop. It must be started once,
// in its own goroutine, before ServeUser is called.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if h.userConns[sub.userID] == nil {
				h.userConns[sub.userID] = make(map[*client]struct{})
			}
			h.userConns[sub.userID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.userConns[sub.userID]; ok {
				delete(conns, sub.client)
				if len(conns) == 0 {
					delete(h.userConns, sub.userID)
				}
			}
			h.mu.Unlock()
			sub.client.stop()
			sub.client.conn.Close()
		}
	}
}

// ServeUser upgrades the HTTP connection to a websocket and registers it
// under userID. The read loop only exists to detect disconnects and answer
// client pings; the server never expects structured input from the client
// beyond "ping". A dedicated writer goroutine drains the client's bounded
// outbox so a stalled connection never blocks Deliver.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID int64) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf(`{"component":"hub","event":"upgrade_failed","err":%q}`, err.Error())
		return
	}
	c := newClient(conn)
	h.register <- subscription{userID: userID, client: c}

	go h.writePump(userID, c)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.unregister <- subscription{userID: userID, client: c}
			return
		}
		if msgType == websocket.TextMessage && string(data) == "ping" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		}
	}
}

// writePump drains c.send, applying a write deadline so a connection that
// stops reading TCP acks (rather than cleanly disconnecting) still gets
// unregistered instead of wedging this goroutine forever.
func (h *Hub) writePump(userID int64, c *client) {
	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				h.unregister <- subscription{userID: userID, client: c}
				return
			}
		case <-c.quit:
			return
		}
	}
}

// Deliver pushes an envelope to every live connection for its recipient.
// The send is non-blocking: a connection whose outbox is already full is a
// slow client and is dropped (unregistered) rather than allowed to block
// this call, which runs on the single shared notify.Bus forwarder goroutine
// in cmd/server and must never stall on one wedged client.
func (h *Hub) Deliver(env Envelope) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.userConns[env.RecipientUserID]))
	for c := range h.userConns[env.RecipientUserID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- env:
		default:
			log.Printf(`{"component":"hub","event":"client_dropped","recipient":%d}`, env.RecipientUserID)
			c.stop()
			h.unregister <- subscription{userID: env.RecipientUserID, client: c}
		}
	}
}

// Copyright (C) 2008-2019 by Nicolas Piganeau and the TS2 TEAM
// (See AUTHORS file)
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the
// Free Software Foundation, Inc.,
// 59 Temple Place - Suite 330, Boston, MA  02111-1307, USA.

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Request is one inbound WebSocket command, routed by object+action to the
// matching registered hubObject.
type Request struct {
	Object string          `json:"object"`
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response is sent back to the requesting connection, or broadcast to every
// connection for an unsolicited push (ID empty in that case).
type Response struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// hubObject handles every action addressed to one object name ("simulation",
// "resolutions", ...).
type hubObject interface {
	dispatch(h *Hub, req Request, conn *connection)
}

// Hub owns every live connection and the object registry requests are
// dispatched against. One process runs exactly one Hub.
type Hub struct {
	objects map[string]hubObject

	mu          sync.RWMutex
	connections map[*connection]bool

	broadcast  chan Response
	register   chan *connection
	unregister chan *connection
}

func newHub() *Hub {
	return &Hub{
		objects:     make(map[string]hubObject),
		connections: make(map[*connection]bool),
		broadcast:   make(chan Response, 256),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
	}
}

// run is the Hub's single goroutine: every connection add/remove/broadcast
// passes through it, so it is the only goroutine that modifies connections.
func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.send)
			}
			h.mu.Unlock()
		case resp := <-h.broadcast:
			data, err := json.Marshal(resp)
			if err != nil {
				logger.Error("marshal broadcast response", "error", err)
				continue
			}
			h.mu.RLock()
			for c := range h.connections {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.connections, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// broadcastJSON pushes an unsolicited update (no request ID) to every
// connected client, used for tick streaming.
func (h *Hub) broadcastJSON(status string, data interface{}) {
	h.broadcast <- Response{Status: status, Data: data}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connection wraps one client's WebSocket with a buffered outbound channel,
// the standard gorilla/websocket hub/client split: readPump dispatches
// inbound requests, writePump owns the only goroutine allowed to write to
// the socket.
type connection struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
}

func serveWs(h *Hub, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &connection{ws: ws, send: make(chan []byte, 256), hub: h}
	h.register <- c
	go c.writePump()
	c.readPump()
}

func (c *connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.sendResponse(Response{Status: "error", Error: "malformed request"})
			continue
		}
		obj, ok := c.hub.objects[req.Object]
		if !ok {
			c.sendResponse(Response{ID: req.ID, Status: "error", Error: "unknown object " + req.Object})
			continue
		}
		obj.dispatch(c.hub, req, c)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) sendResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("marshal response", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package serve

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxWebSocketReadSize limits what clients may send us; the reload
// channel is server-to-client only
const maxWebSocketReadSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin rejects cross-origin WebSocket connections while
// allowing localhost and same-host (reverse proxy) setups
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := originURL.Hostname()

	requestHost := r.Host
	if colonIndex := strings.IndexByte(requestHost, ':'); colonIndex != -1 {
		requestHost = requestHost[:colonIndex]
	}
	if originHost == requestHost {
		return true
	}
	if originHost == "localhost" || originHost == "127.0.0.1" || originHost == "[::1]" || originHost == "::1" {
		return true
	}
	if strings.HasSuffix(originHost, ".localhost") {
		return true
	}
	if strings.HasPrefix(originHost, "127.") {
		parts := strings.Split(originHost, ".")
		if len(parts) == 4 && parts[0] == "127" {
			return true
		}
	}
	return false
}

// connWrapper wraps a WebSocket connection with a write mutex
type connWrapper struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// websocketManager implements WebSocketManager
type websocketManager struct {
	connections map[*websocket.Conn]*connWrapper
	mu          sync.RWMutex
	logger      Logger
}

func newWebSocketManager(logger Logger) WebSocketManager {
	return &websocketManager{
		connections: make(map[*websocket.Conn]*connWrapper),
		logger:      logger,
	}
}

func (wm *websocketManager) ConnectionCount() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.connections)
}

// Broadcast sends a message to every connected client, dropping
// connections whose writes fail
func (wm *websocketManager) Broadcast(message []byte) error {
	wm.mu.RLock()
	snapshot := make([]*connWrapper, 0, len(wm.connections))
	for _, wrapper := range wm.connections {
		snapshot = append(snapshot, wrapper)
	}
	wm.mu.RUnlock()

	for _, wrapper := range snapshot {
		wrapper.mu.Lock()
		err := wrapper.conn.WriteMessage(websocket.TextMessage, message)
		wrapper.mu.Unlock()
		if err != nil {
			wm.logger.Debug("websocket write failed, dropping connection: %v", err)
			wm.remove(wrapper.conn)
		}
	}
	return nil
}

func (wm *websocketManager) remove(conn *websocket.Conn) {
	wm.mu.Lock()
	delete(wm.connections, conn)
	wm.mu.Unlock()
	_ = conn.Close()
}

// HandleConnection upgrades the request and parks the connection in a
// read loop so we notice disconnects
func (wm *websocketManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wm.logger.Debug("websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxWebSocketReadSize)

	wrapper := &connWrapper{conn: conn}
	wm.mu.Lock()
	wm.connections[conn] = wrapper
	wm.mu.Unlock()
	wm.logger.Debug("websocket connected (%d clients)", wm.ConnectionCount())

	go func() {
		defer wm.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			// ignore client payloads; reads only detect closure
			_ = conn.SetReadDeadline(time.Time{})
		}
	}()
}

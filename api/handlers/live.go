package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the feed is public read-only data, same as the issue listing
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Live upgrades clients onto the issue event feed
type Live struct {
	Hub *api.Hub
}

// ServeHandler upgrades the connection and holds it open until the client
// goes away. Clients only listen; inbound messages are drained and
// dropped.
func (l Live) ServeHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("failed to upgrade live feed connection", "error", err)
		return
	}
	l.Hub.Register(conn)

	go func() {
		defer l.Hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

package realtime

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agripredict/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// WSHandler streams broker events to websocket clients.
type WSHandler struct {
	broker   *Broker
	upgrader websocket.Upgrader
}

// NewWSHandler creates a websocket endpoint. allowedOrigins is a list of
// exact Origin values; empty allows any origin.
func NewWSHandler(broker *Broker, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				for _, v := range allowedOrigins {
					if strings.TrimSpace(v) == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeHTTP upgrades the connection and pumps events until either side
// goes away.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("⚠️ Websocket upgrade failed")
		return
	}
	defer conn.Close()

	client, err := h.broker.Subscribe(r.Context())
	if err != nil {
		return
	}

	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data)
	}

	// The read pump only exists to process control frames and notice the
	// peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.broker.Unsubscribe(client)
			return
		case msg, ok := <-client:
			if !ok {
				write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := write(websocket.TextMessage, msg); err != nil {
				h.broker.Unsubscribe(client)
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				h.broker.Unsubscribe(client)
				return
			}
		}
	}
}

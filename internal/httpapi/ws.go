package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleInventoryWS implements WS /api/v1/inventory/ws/{sku}. It carries
// no bearer-token requirement: the handshake only needs a SKU to
// subscribe to, and the feed is a read-only availability broadcast.
func (a *API) handleInventoryWS(w http.ResponseWriter, r *http.Request) {
	sku := normalizeSKU(chi.URLParam(r, "sku"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn("ws upgrade failed", zap.String("sku", sku), zap.Error(err))
		return
	}

	status, err := a.Service.Status(r.Context(), sku)
	if err != nil {
		a.Logger.Warn("ws initial status lookup failed", zap.String("sku", sku), zap.Error(err))
		conn.Close()
		return
	}

	a.Broadcaster.Subscribe(sku, conn, *status)
	defer a.Broadcaster.Unsubscribe(sku, conn)

	// The feed is one-directional (server -> client); this loop only
	// exists to detect the client closing the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

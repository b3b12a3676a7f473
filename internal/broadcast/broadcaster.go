// Package broadcast fans out inventory status updates to WebSocket
// subscribers, one registry entry per SKU.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flashreserve/internal/metrics"
	"flashreserve/internal/reservation"
)

// message is the wire shape sent to subscribers: "initial" right after
// a subscribe, "update" on every subsequent mutation.
type message struct {
	Type   string                    `json:"type"`
	Status reservation.InventoryStatus `json:"status"`
}

// Broadcaster implements reservation.Broadcaster over gorilla/websocket
// connections, grouped by SKU. Publish never blocks on a slow or dead
// subscriber: a failed write drops that connection from the registry.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]struct{}
	logger      *zap.Logger
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[*websocket.Conn]struct{}),
		logger:      logger,
	}
}

// Subscribe registers conn under sku and immediately sends an "initial"
// message carrying the current status.
func (b *Broadcaster) Subscribe(sku string, conn *websocket.Conn, initial reservation.InventoryStatus) {
	b.mu.Lock()
	if b.subscribers[sku] == nil {
		b.subscribers[sku] = make(map[*websocket.Conn]struct{})
	}
	b.subscribers[sku][conn] = struct{}{}
	count := len(b.subscribers[sku])
	b.mu.Unlock()

	metrics.WebsocketSubscribers.WithLabelValues(sku).Set(float64(count))
	b.send(sku, conn, message{Type: "initial", Status: initial})
}

// Unsubscribe removes conn from sku's registry. Safe to call more than
// once for the same connection.
func (b *Broadcaster) Unsubscribe(sku string, conn *websocket.Conn) {
	b.mu.Lock()
	set, ok := b.subscribers[sku]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(set, conn)
	count := len(set)
	if count == 0 {
		delete(b.subscribers, sku)
	}
	b.mu.Unlock()

	metrics.WebsocketSubscribers.WithLabelValues(sku).Set(float64(count))
}

// Publish implements reservation.Broadcaster: send status to every
// subscriber of sku, dropping any connection whose write fails.
func (b *Broadcaster) Publish(sku string, status reservation.InventoryStatus) {
	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.subscribers[sku]))
	for c := range b.subscribers[sku] {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	msg := message{Type: "update", Status: status}
	for _, c := range conns {
		b.send(sku, c, msg)
	}
}

func (b *Broadcaster) send(sku string, conn *websocket.Conn, msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast: marshal message failed", zap.Error(err))
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Debug("broadcast: dropping dead subscriber", zap.String("sku", sku), zap.Error(err))
		b.Unsubscribe(sku, conn)
		conn.Close()
	}
}

// SubscriberCount reports how many live connections are registered for
// a SKU, used by metrics.
func (b *Broadcaster) SubscriberCount(sku string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sku])
}

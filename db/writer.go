// writer.go

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// AuditRecord is one row of audit_log: a domain event emitted by the
// reservation service or its sweeper.
type AuditRecord struct {
	EventType     string
	UserID        string
	SKU           string
	ReservationID string
	Details       map[string]any
	CreatedAt     time.Time
}

// OrderWriter encapsulates the prepared statements for the relational
// side of the system: audit log batching, and single-row order/
// order_item writes used by the Order Promoter.
type OrderWriter struct {
	server *Server
	db     *sql.DB

	insertAuditStmt       *sql.Stmt
	batchAuditStmt        *sql.Stmt
	insertOrderStmt       *sql.Stmt
	updateOrderStatusStmt *sql.Stmt
	getOrderStmt          *sql.Stmt
	getOrderByIDStmt      *sql.Stmt

	multiRowAuditCache map[int]string
}

// NewOrderWriter prepares every statement OrderWriter uses up front.
func NewOrderWriter(server *Server) (*OrderWriter, error) {
	pool := server.DB()
	if pool == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	ctx := context.Background()

	insertAuditStmt, err := pool.PrepareContext(ctx, `
		INSERT INTO audit_log (event_type, user_id, sku, reservation_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert audit: %w", err)
	}

	batchAuditStmt, err := pool.PrepareContext(ctx, `
		INSERT INTO audit_log (event_type, user_id, sku, reservation_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return nil, fmt.Errorf("prepare batch audit: %w", err)
	}

	insertOrderStmt, err := pool.PrepareContext(ctx, `
		INSERT INTO orders (order_id, reservation_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert order: %w", err)
	}

	updateOrderStatusStmt, err := pool.PrepareContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE order_id = $3`)
	if err != nil {
		return nil, fmt.Errorf("prepare update order status: %w", err)
	}

	getOrderStmt, err := pool.PrepareContext(ctx, `
		SELECT o.order_id, o.reservation_id, o.user_id, o.status, o.total_amount, o.created_at, oi.sku, oi.quantity, oi.price_per_unit
		FROM orders o LEFT JOIN order_items oi ON oi.order_id = o.order_id
		WHERE o.reservation_id = $1`)
	if err != nil {
		return nil, fmt.Errorf("prepare get order: %w", err)
	}

	getOrderByIDStmt, err := pool.PrepareContext(ctx, `
		SELECT o.order_id, o.reservation_id, o.user_id, o.status, o.total_amount, o.created_at, oi.sku, oi.quantity, oi.price_per_unit
		FROM orders o LEFT JOIN order_items oi ON oi.order_id = o.order_id
		WHERE o.order_id = $1`)
	if err != nil {
		return nil, fmt.Errorf("prepare get order by id: %w", err)
	}

	return &OrderWriter{
		server:                server,
		db:                    pool,
		insertAuditStmt:       insertAuditStmt,
		batchAuditStmt:        batchAuditStmt,
		insertOrderStmt:       insertOrderStmt,
		updateOrderStatusStmt: updateOrderStatusStmt,
		getOrderStmt:          getOrderStmt,
		getOrderByIDStmt:      getOrderByIDStmt,
		multiRowAuditCache:    make(map[int]string),
	}, nil
}

// Close releases every prepared statement.
func (w *OrderWriter) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{w.insertAuditStmt, w.batchAuditStmt, w.insertOrderStmt, w.updateOrderStatusStmt, w.getOrderStmt, w.getOrderByIDStmt} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing statements: %v", errs)
	}
	return nil
}

// AppendAudit implements reservation.AuditAppender with a single
// prepared-statement insert. The Sweeper and Service call this inline
// rather than through AuditBatcher so a failed audit write is visible to
// the caller immediately, logged rather than fatal.
func (w *OrderWriter) AppendAudit(ctx context.Context, eventType, userID, sku, reservationID string, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = w.insertAuditStmt.ExecContext(ctx, eventType, userID, sku, reservationID, data, time.Now())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// CreateOrder inserts a new order row in pendingStatus and returns its
// generated numeric id, the first step of the pending-first write.
func (w *OrderWriter) CreateOrder(ctx context.Context, orderID string, reservationID, userID, status string) (int64, error) {
	var id int64
	now := time.Now()
	err := w.insertOrderStmt.QueryRowContext(ctx, orderID, reservationID, userID, status, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

// UpdateOrderStatus transitions an order's status (pending -> confirmed
// or pending -> failed).
func (w *OrderWriter) UpdateOrderStatus(ctx context.Context, orderID string, status string) error {
	if _, err := w.updateOrderStatusStmt.ExecContext(ctx, status, time.Now(), orderID); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// ConfirmOrderTx runs the order-confirmed transition and its order_item
// insert in one transaction: both writes commit together or neither
// does.
func (w *OrderWriter) ConfirmOrderTx(ctx context.Context, orderID string, sku string, quantity int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin confirm tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE order_id = $3`,
		"confirmed", time.Now(), orderID); err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO order_items (order_id, sku, quantity) VALUES ($1, $2, $3)`,
		orderID, sku, quantity); err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}

	return tx.Commit()
}

// Order is the relational view of a promoted checkout, returned by
// GetOrderByReservationID/GetOrderByID. TotalAmount/PricePerUnit are
// carried through the schema but always read as 0: pricing and catalog
// data aren't tracked, so nothing ever populates them with a non-zero
// value.
type Order struct {
	OrderID       string
	ReservationID string
	UserID        string
	Status        string
	TotalAmount   float64
	CreatedAt     time.Time
	SKU           string
	Quantity      int64
	PricePerUnit  float64
}

func scanOrderRow(row *sql.Row) (*Order, error) {
	var o Order
	var sku sql.NullString
	var quantity sql.NullInt64
	var pricePerUnit sql.NullFloat64
	err := row.Scan(&o.OrderID, &o.ReservationID, &o.UserID, &o.Status, &o.TotalAmount, &o.CreatedAt, &sku, &quantity, &pricePerUnit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.SKU = sku.String
	o.Quantity = quantity.Int64
	o.PricePerUnit = pricePerUnit.Float64
	return &o, nil
}

// GetOrderByReservationID looks up an order (and its single line item,
// once confirmed) by the reservation id that produced it.
func (w *OrderWriter) GetOrderByReservationID(ctx context.Context, reservationID string) (*Order, error) {
	return scanOrderRow(w.getOrderStmt.QueryRowContext(ctx, reservationID))
}

// GetOrderByID looks up an order by its public order_id, the lookup key
// the GET /checkout/orders/{order_id} endpoint uses.
func (w *OrderWriter) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	return scanOrderRow(w.getOrderByIDStmt.QueryRowContext(ctx, orderID))
}

// AuditBatcher buffers audit records and flushes them on batch size or
// timer, for callers (e.g. a bulk reconciliation pass) that don't need
// the per-call durability AppendAudit provides.
type AuditBatcher struct {
	writer    *OrderWriter
	batchSize int
	timeout   time.Duration
	buffer    []pendingAudit
	timer     *time.Timer
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	flushCh   chan struct{}
}

type pendingAudit struct {
	record AuditRecord
	result chan error
}

// AppendAudit implements reservation.AuditAppender by buffering the
// record and blocking until the batch it lands in flushes, so the
// sweeper's expire-audit loop pays one round trip per batch instead of
// one per reservation.
func (b *AuditBatcher) AppendAudit(ctx context.Context, eventType, userID, sku, reservationID string, details map[string]any) error {
	return b.Add(AuditRecord{
		EventType:     eventType,
		UserID:        userID,
		SKU:           sku,
		ReservationID: reservationID,
		Details:       details,
		CreatedAt:     time.Now(),
	})
}

func NewAuditBatcher(writer *OrderWriter, batchSize int, timeout time.Duration) *AuditBatcher {
	ctx, cancel := context.WithCancel(context.Background())

	b := &AuditBatcher{
		writer:    writer,
		batchSize: batchSize,
		timeout:   timeout,
		buffer:    make([]pendingAudit, 0, batchSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		flushCh:   make(chan struct{}, 1),
	}

	go b.worker()

	return b
}

func (b *AuditBatcher) worker() {
	defer close(b.done)

	for {
		select {
		case <-b.flushCh:
			b.performFlush()
		case <-b.ctx.Done():
			b.performFlush()
			return
		}
	}
}

// Add buffers a record and blocks until it has been flushed (either
// because the buffer filled or the timer fired).
func (b *AuditBatcher) Add(record AuditRecord) error {
	resultChan := make(chan error, 1)

	b.mu.Lock()
	b.buffer = append(b.buffer, pendingAudit{record: record, result: resultChan})
	shouldFlush := len(b.buffer) >= b.batchSize
	shouldStartTimer := len(b.buffer) == 1 && !shouldFlush
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	} else if shouldStartTimer {
		b.stopTimer()
		b.mu.Lock()
		b.timer = time.AfterFunc(b.timeout, func() {
			select {
			case b.flushCh <- struct{}{}:
			default:
			}
		})
		b.mu.Unlock()
	}

	select {
	case err := <-resultChan:
		return err
	case <-b.ctx.Done():
		return b.ctx.Err()
	}
}

func (b *AuditBatcher) stopTimer() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

func (b *AuditBatcher) performFlush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	pending := make([]pendingAudit, len(b.buffer))
	copy(pending, b.buffer)
	b.buffer = b.buffer[:0]
	b.mu.Unlock()

	records := make([]AuditRecord, len(pending))
	for i, p := range pending {
		records[i] = p.record
	}

	err := b.multiRowInsert(records)

	for _, p := range pending {
		select {
		case p.result <- err:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *AuditBatcher) multiRowInsert(records []AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	query, ok := b.writer.multiRowAuditCache[len(records)]
	if !ok {
		query = generateMultiRowAuditQuery(len(records))
		b.writer.multiRowAuditCache[len(records)] = query
	}

	values := make([]interface{}, 0, len(records)*6)
	for _, r := range records {
		data, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		values = append(values, r.EventType, r.UserID, r.SKU, r.ReservationID, data, createdAt)
	}

	_, err := b.writer.db.ExecContext(b.ctx, query, values...)
	return err
}

// Close stops the timer and drains a final flush before returning.
func (b *AuditBatcher) Close() error {
	b.stopTimer()
	b.cancel()
	<-b.done
	return nil
}

func generateMultiRowAuditQuery(n int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO audit_log (event_type, user_id, sku, reservation_id, details, created_at) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
	}
	return sb.String()
}

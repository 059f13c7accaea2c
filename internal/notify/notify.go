package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/xid"
)

// Notifier receives best-effort ledger events after commit. Callers log
// returned errors and move on.
type Notifier interface {
	LowStock(ctx context.Context, ev LowStockEvent) error
	TransferInitiated(ctx context.Context, ev TransferEvent) error
	TransferCompleted(ctx context.Context, ev TransferEvent) error
	ServiceCompleted(ctx context.Context, ev ServiceEvent) error
}

type LowStockEvent struct {
	WarehouseID string          `json:"warehouse_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	At          time.Time       `json:"at"`
}

type TransferEvent struct {
	InventoryTransactionID string          `json:"inventory_transaction_id"`
	ProductID              string          `json:"product_id"`
	SourceWarehouseID      string          `json:"source_warehouse_id"`
	TargetWarehouseID      string          `json:"target_warehouse_id"`
	Quantity               decimal.Decimal `json:"quantity"`
	At                     time.Time       `json:"at"`
}

type ServiceEvent struct {
	CashOperationID string             `json:"cash_operation_id"`
	RegisterID      string             `json:"register_id"`
	ShiftID         string             `json:"shift_id"`
	OrderID         string             `json:"order_id"`
	Amount          decimal.Decimal    `json:"amount"`
	PaymentMethod   domain.PaymentKind `json:"payment_method"`
	At              time.Time          `json:"at"`
}

// Message is what a Publisher delivers. Audience lists the warehouses or
// registers the event concerns.
type Message struct {
	ID         string                   `json:"id"`
	Event      domain.NotificationEvent `json:"event"`
	RuleID     string                   `json:"rule_id,omitempty"`
	Channels   []string                 `json:"channels,omitempty"`
	Recipients []string                 `json:"recipients,omitempty"`
	Audience   []string                 `json:"audience"`
	Payload    any                      `json:"payload"`
	CreatedAt  time.Time                `json:"created_at"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Noop struct{}

func (Noop) LowStock(context.Context, LowStockEvent) error          { return nil }
func (Noop) TransferInitiated(context.Context, TransferEvent) error { return nil }
func (Noop) TransferCompleted(context.Context, TransferEvent) error { return nil }
func (Noop) ServiceCompleted(context.Context, ServiceEvent) error   { return nil }

// Dispatcher fans events out to a Publisher, one message per matching rule.
// With no rules configured every event is broadcast once.
type Dispatcher struct {
	publisher Publisher
	rules     []domain.NotificationRule
	logger    logrus.FieldLogger
}

func NewDispatcher(publisher Publisher, rules []domain.NotificationRule, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{publisher: publisher, rules: rules, logger: logger}
}

func (d *Dispatcher) LowStock(ctx context.Context, ev LowStockEvent) error {
	return d.dispatch(ctx, subject{
		event:      domain.EventLowStock,
		warehouses: []string{ev.WarehouseID},
		productID:  ev.ProductID,
		quantity:   &ev.Quantity,
	}, ev)
}

func (d *Dispatcher) TransferInitiated(ctx context.Context, ev TransferEvent) error {
	return d.dispatch(ctx, subject{
		event:      domain.EventTransferInitiated,
		warehouses: []string{ev.SourceWarehouseID, ev.TargetWarehouseID},
		productID:  ev.ProductID,
	}, ev)
}

func (d *Dispatcher) TransferCompleted(ctx context.Context, ev TransferEvent) error {
	return d.dispatch(ctx, subject{
		event:      domain.EventTransferCompleted,
		warehouses: []string{ev.SourceWarehouseID, ev.TargetWarehouseID},
		productID:  ev.ProductID,
	}, ev)
}

func (d *Dispatcher) ServiceCompleted(ctx context.Context, ev ServiceEvent) error {
	return d.dispatch(ctx, subject{
		event:      domain.EventServiceCompleted,
		registerID: ev.RegisterID,
		reference:  ev.OrderID,
	}, ev)
}

func (d *Dispatcher) dispatch(ctx context.Context, subj subject, payload any) error {
	audience := subj.warehouses
	if subj.registerID != "" {
		audience = []string{subj.registerID}
	}
	now := time.Now().UTC()

	if len(d.rules) == 0 {
		return d.publisher.Publish(ctx, Message{
			ID:        xid.New("ntf"),
			Event:     subj.event,
			Audience:  audience,
			Payload:   payload,
			CreatedAt: now,
		})
	}

	var errs []error
	matched := 0
	for _, rule := range d.rules {
		if !Matches(rule, subj) {
			continue
		}
		matched++
		err := d.publisher.Publish(ctx, Message{
			ID:         xid.New("ntf"),
			Event:      subj.event,
			RuleID:     rule.ID,
			Channels:   rule.Channels,
			Recipients: rule.Recipients,
			Audience:   audience,
			Payload:    payload,
			CreatedAt:  now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
	}
	if matched == 0 {
		d.logger.WithFields(logrus.Fields{"module": "notify", "event": subj.event}).Debug("no notification rule matched")
	}
	return errors.Join(errs...)
}

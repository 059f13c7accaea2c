package service

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/notify"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type stockMove struct {
	ProductID         string
	Type              domain.InventoryTransactionType
	Quantity          decimal.Decimal
	// AdjustDelta turns an ADJUSTMENT into a relative change; Quantity is
	// then derived from the locked row.
	AdjustDelta       *decimal.Decimal
	Price             decimal.Decimal
	PurchaseID        string
	TargetWarehouseID string
	Metadata          map[string]any
	CreatedBy         string
}

// applyStockMove locks the product row, derives the signed delta and writes
// the transaction with before/after snapshots. ADJUSTMENT rows always store
// the resulting absolute quantity in Quantity.
func (s *Service) applyStockMove(ctx context.Context, tx store.Tx, in stockMove) (domain.InventoryTransaction, domain.WarehouseProduct, error) {
	product, err := tx.GetWarehouseProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return domain.InventoryTransaction{}, domain.WarehouseProduct{}, notFound(err, "warehouse product", in.ProductID)
	}

	if in.Type == domain.InventoryTransfer {
		if in.TargetWarehouseID == "" {
			return domain.InventoryTransaction{}, domain.WarehouseProduct{}, validationErr("target_warehouse_id is required for TRANSFER")
		}
		if in.TargetWarehouseID == product.WarehouseID {
			return domain.InventoryTransaction{}, domain.WarehouseProduct{}, validationErr("cannot transfer into the source warehouse")
		}
		target, err := tx.GetWarehouse(ctx, in.TargetWarehouseID)
		if err != nil {
			return domain.InventoryTransaction{}, domain.WarehouseProduct{}, notFound(err, "warehouse", in.TargetWarehouseID)
		}
		if !target.Active {
			return domain.InventoryTransaction{}, domain.WarehouseProduct{}, fmt.Errorf("%w: warehouse %s is inactive", store.ErrInvalidState, target.ID)
		}
	}

	before := product.Quantity
	quantity := in.Quantity
	var delta decimal.Decimal
	switch in.Type {
	case domain.InventoryPurchase, domain.InventoryReturn:
		delta = quantity
	case domain.InventorySale, domain.InventoryWriteOff, domain.InventoryTransfer:
		if before.LessThan(quantity) {
			return domain.InventoryTransaction{}, domain.WarehouseProduct{}, fmt.Errorf("%w: %s has %s, requested %s",
				store.ErrInsufficientStock, product.Name, before, quantity)
		}
		delta = quantity.Neg()
	case domain.InventoryAdjustment:
		if in.AdjustDelta != nil {
			quantity = before.Add(*in.AdjustDelta)
			if quantity.IsNegative() {
				return domain.InventoryTransaction{}, domain.WarehouseProduct{}, fmt.Errorf("%w: %s has %s, adjustment %s",
					store.ErrInsufficientStock, product.Name, before, in.AdjustDelta)
			}
		}
		delta = quantity.Sub(before)
	default:
		return domain.InventoryTransaction{}, domain.WarehouseProduct{}, validationErr("unknown inventory type %q", in.Type)
	}

	entry := domain.InventoryTransaction{
		ID:                 xid.New("inv"),
		WarehouseProductID: product.ID,
		WarehouseID:        product.WarehouseID,
		Type:               in.Type,
		Quantity:           quantity,
		QuantityBefore:     before,
		QuantityAfter:      before.Add(delta),
		Delta:              delta,
		Price:              in.Price,
		PurchaseID:         in.PurchaseID,
		TargetWarehouseID:  in.TargetWarehouseID,
		Metadata:           in.Metadata,
		CreatedBy:          in.CreatedBy,
		CreatedAt:          s.now(),
	}
	stored, err := tx.ApplyInventoryTransaction(ctx, entry)
	if err != nil {
		return domain.InventoryTransaction{}, domain.WarehouseProduct{}, err
	}
	product.Quantity = stored
	product.UpdatedAt = entry.CreatedAt
	return entry, *product, nil
}

func validateMove(t domain.InventoryTransactionType, quantity decimal.Decimal, price decimal.Decimal) error {
	if !t.Valid() {
		return validationErr("unknown inventory type %q", t)
	}
	if quantity.IsNegative() {
		return validationErr("quantity must not be negative")
	}
	if t != domain.InventoryAdjustment && quantity.IsZero() {
		return validationErr("quantity must be greater than zero")
	}
	if price.IsNegative() {
		return validationErr("price must not be negative")
	}
	if err := checkPlaces("quantity", quantity, quantityPlaces); err != nil {
		return err
	}
	return checkPlaces("price", price, moneyPlaces)
}

// RecordInventoryTransaction applies one stock movement. ADJUSTMENT takes the
// quantity as the new absolute stock level.
func (s *Service) RecordInventoryTransaction(ctx context.Context, req domain.InventoryRequest) (entry domain.InventoryTransaction, err error) {
	ctx, span := s.startSpan(ctx, "RecordInventoryTransaction",
		attribute.String("warehouse_product_id", req.WarehouseProductID),
		attribute.String("type", string(req.Type)),
	)
	defer func() { endSpan(span, err) }()

	if err := validateMove(req.Type, req.Quantity, req.Price); err != nil {
		return entry, err
	}
	return s.moveStock(ctx, stockMove{
		ProductID:         strings.TrimSpace(req.WarehouseProductID),
		Type:              req.Type,
		Quantity:          req.Quantity,
		Price:             req.Price,
		PurchaseID:        strings.TrimSpace(req.PurchaseID),
		TargetWarehouseID: strings.TrimSpace(req.TargetWarehouseID),
		Metadata:          maps.Clone(req.Metadata),
		CreatedBy:         actorOrSystem(ctx).Username,
	})
}

// AdjustBy shifts stock by a signed delta.
func (s *Service) AdjustBy(ctx context.Context, productID string, delta decimal.Decimal, reason string) (domain.InventoryTransaction, error) {
	if err := checkPlaces("delta", delta, quantityPlaces); err != nil {
		return domain.InventoryTransaction{}, err
	}
	d := delta
	return s.moveStock(ctx, stockMove{
		ProductID:   productID,
		Type:        domain.InventoryAdjustment,
		AdjustDelta: &d,
		Metadata:    adjustMetadata("delta", reason),
		CreatedBy:   actorOrSystem(ctx).Username,
	})
}

// AdjustTo sets stock to an absolute level, typically after a stock count.
func (s *Service) AdjustTo(ctx context.Context, productID string, target decimal.Decimal, reason string) (domain.InventoryTransaction, error) {
	if target.IsNegative() {
		return domain.InventoryTransaction{}, validationErr("target must not be negative")
	}
	if err := checkPlaces("target", target, quantityPlaces); err != nil {
		return domain.InventoryTransaction{}, err
	}
	return s.moveStock(ctx, stockMove{
		ProductID: productID,
		Type:      domain.InventoryAdjustment,
		Quantity:  target,
		Metadata:  adjustMetadata("target", reason),
		CreatedBy: actorOrSystem(ctx).Username,
	})
}

// Adjust dispatches an adjustment request carrying exactly one of delta or
// target.
func (s *Service) Adjust(ctx context.Context, req domain.InventoryAdjustRequest) (domain.InventoryTransaction, error) {
	switch {
	case req.Delta != nil && req.Target != nil:
		return domain.InventoryTransaction{}, validationErr("set either delta or target, not both")
	case req.Delta != nil:
		return s.AdjustBy(ctx, req.WarehouseProductID, *req.Delta, req.Reason)
	case req.Target != nil:
		return s.AdjustTo(ctx, req.WarehouseProductID, *req.Target, req.Reason)
	}
	return domain.InventoryTransaction{}, validationErr("delta or target is required")
}

func adjustMetadata(mode string, reason string) map[string]any {
	meta := map[string]any{"mode": mode}
	if reason = strings.TrimSpace(reason); reason != "" {
		meta["reason"] = reason
	}
	return meta
}

func (s *Service) moveStock(ctx context.Context, in stockMove) (domain.InventoryTransaction, error) {
	var entry domain.InventoryTransaction
	var product domain.WarehouseProduct
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entry, product, err = s.applyStockMove(ctx, tx, in)
		return err
	})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	s.metrics.InventoryTransaction(string(entry.Type))
	s.stockFollowUps(ctx, entry, product)
	return entry, nil
}

// stockFollowUps emits the post-commit notifications for one movement.
func (s *Service) stockFollowUps(ctx context.Context, entry domain.InventoryTransaction, product domain.WarehouseProduct) {
	if entry.Type == domain.InventoryTransfer {
		ev := notify.TransferEvent{
			InventoryTransactionID: entry.ID,
			ProductID:              entry.WarehouseProductID,
			SourceWarehouseID:      entry.WarehouseID,
			TargetWarehouseID:      entry.TargetWarehouseID,
			Quantity:               entry.Quantity,
			At:                     entry.CreatedAt,
		}
		s.afterCommit(ctx, "transfer_initiated", func(ctx context.Context) error {
			return s.notifier.TransferInitiated(ctx, ev)
		})
		s.afterCommit(ctx, "transfer_completed", func(ctx context.Context) error {
			return s.notifier.TransferCompleted(ctx, ev)
		})
	}
	if product.Quantity.LessThanOrEqual(product.MinQuantity) {
		s.afterCommit(ctx, "low_stock", func(ctx context.Context) error {
			return s.notifier.LowStock(ctx, notify.LowStockEvent{
				WarehouseID: product.WarehouseID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    product.Quantity,
				MinQuantity: product.MinQuantity,
				At:          entry.CreatedAt,
			})
		})
	}
}

func (s *Service) ListInventoryTransactions(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error) {
	return s.repo.ListInventoryTransactions(ctx, filter)
}

func (s *Service) GetWarehouseProduct(ctx context.Context, id string) (domain.WarehouseProduct, error) {
	p, err := s.repo.GetWarehouseProduct(ctx, id)
	if err != nil {
		return domain.WarehouseProduct{}, notFound(err, "warehouse product", id)
	}
	return *p, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	return s.repo.ListPriceHistory(ctx, productID, limit)
}

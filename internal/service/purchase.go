package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

// consolidateItems merges lines for the same product in first-seen order.
// Quantities add up; later non-empty price, comment, serial and expiry win.
func consolidateItems(items []domain.PurchaseItemRequest) ([]domain.PurchaseItemRequest, error) {
	out := make([]domain.PurchaseItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, validationErr("items[%d]: product_id is required", i)
		}
		if !item.Quantity.IsPositive() {
			return nil, validationErr("items[%d]: quantity must be greater than zero", i)
		}
		if item.Price.IsNegative() {
			return nil, validationErr("items[%d]: price must not be negative", i)
		}
		if err := checkPlaces(fmt.Sprintf("items[%d].quantity", i), item.Quantity, quantityPlaces); err != nil {
			return nil, err
		}
		if err := checkPlaces(fmt.Sprintf("items[%d].price", i), item.Price, moneyPlaces); err != nil {
			return nil, err
		}

		at, ok := index[item.ProductID]
		if !ok {
			index[item.ProductID] = len(out)
			out = append(out, item)
			continue
		}
		merged := &out[at]
		merged.Quantity = merged.Quantity.Add(item.Quantity)
		if !item.Price.IsZero() {
			merged.Price = item.Price
		}
		if c := strings.TrimSpace(item.Comment); c != "" {
			merged.Comment = c
		}
		if sn := strings.TrimSpace(item.SerialNumber); sn != "" {
			merged.SerialNumber = sn
		}
		if item.ExpiryDate != nil {
			merged.ExpiryDate = item.ExpiryDate
		}
	}
	return out, nil
}

// CreatePurchase receives goods into a warehouse. Stock, optional price
// updates and the optional supplier payment commit together.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (purchase domain.Purchase, err error) {
	ctx, span := s.startSpan(ctx, "CreatePurchase", attribute.String("warehouse_id", req.WarehouseID))
	defer func() { endSpan(span, err) }()

	req.WarehouseID = strings.TrimSpace(req.WarehouseID)
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.PaymentMethodID = strings.TrimSpace(req.PaymentMethodID)
	if req.WarehouseID == "" {
		return purchase, validationErr("warehouse_id is required")
	}
	if len(req.Items) == 0 {
		return purchase, validationErr("items must not be empty")
	}
	items, err := consolidateItems(req.Items)
	if err != nil {
		return purchase, err
	}

	actor := actorOrSystem(ctx)
	now := s.now()
	date := now
	if req.Date != nil && !req.Date.IsZero() {
		date = req.Date.UTC()
	}

	var touched []domain.WarehouseProduct
	var moves []domain.InventoryTransaction
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		touched = touched[:0]
		moves = moves[:0]

		wh, err := tx.GetWarehouse(ctx, req.WarehouseID)
		if err != nil {
			return notFound(err, "warehouse", req.WarehouseID)
		}
		if !wh.Active {
			return fmt.Errorf("%w: warehouse %s is inactive", store.ErrInvalidState, wh.ID)
		}
		if req.SupplierID != "" {
			sup, err := tx.GetSupplier(ctx, req.SupplierID)
			if err != nil {
				return notFound(err, "supplier", req.SupplierID)
			}
			if sup.WarehouseID != wh.ID {
				return validationErr("supplier %s does not belong to warehouse %s", sup.ID, wh.ID)
			}
		}

		purchase = domain.Purchase{
			ID:              xid.New("pur"),
			WarehouseID:     wh.ID,
			SupplierID:      req.SupplierID,
			Date:            date,
			Comment:         strings.TrimSpace(req.Comment),
			TotalAmount:     decimal.Zero,
			TotalItems:      decimal.Zero,
			PaymentMethodID: req.PaymentMethodID,
			IsActive:        true,
			CreatedBy:       actor.Username,
			CreatedAt:       now,
			Items:           make([]domain.PurchaseItem, 0, len(items)),
		}

		for _, item := range items {
			product, err := tx.GetWarehouseProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return notFound(err, "warehouse product", item.ProductID)
			}
			if product.WarehouseID != wh.ID {
				return validationErr("product %s is stocked in warehouse %s", product.ID, product.WarehouseID)
			}
			oldPrice := product.PurchasePrice

			entry, updated, err := s.applyStockMove(ctx, tx, stockMove{
				ProductID:  item.ProductID,
				Type:       domain.InventoryPurchase,
				Quantity:   item.Quantity,
				Price:      item.Price,
				PurchaseID: purchase.ID,
				CreatedBy:  actor.Username,
			})
			if err != nil {
				return err
			}
			moves = append(moves, entry)

			if req.UpdatePurchasePrices && !item.Price.IsZero() && !item.Price.Equal(oldPrice) {
				if err := tx.CreatePriceHistory(ctx, domain.PriceHistory{
					ID:                 xid.New("ph"),
					WarehouseProductID: product.ID,
					OldPrice:           oldPrice,
					NewPrice:           item.Price,
					PriceType:          "purchase",
					PurchaseID:         purchase.ID,
					ChangedBy:          actor.Username,
					CreatedAt:          now,
				}); err != nil {
					return err
				}
				if err := tx.UpdateProductPurchasePrice(ctx, product.ID, item.Price); err != nil {
					return err
				}
				updated.PurchasePrice = item.Price
			}
			touched = append(touched, updated)

			line := item.Quantity.Mul(item.Price).Round(moneyPlaces)
			purchase.TotalItems = purchase.TotalItems.Add(item.Quantity)
			purchase.TotalAmount = purchase.TotalAmount.Add(line)
			purchase.Items = append(purchase.Items, domain.PurchaseItem{
				ID:                     xid.New("pi"),
				PurchaseID:             purchase.ID,
				ProductID:              item.ProductID,
				Quantity:               item.Quantity,
				Price:                  item.Price,
				Total:                  line,
				Comment:                strings.TrimSpace(item.Comment),
				SerialNumber:           strings.TrimSpace(item.SerialNumber),
				ExpiryDate:             item.ExpiryDate,
				InventoryTransactionID: entry.ID,
			})
		}

		if err := tx.CreatePurchase(ctx, purchase); err != nil {
			return err
		}
		if req.PaymentMethodID != "" && purchase.TotalAmount.IsPositive() {
			if _, err := s.postPayment(ctx, tx, purchasePosting(req.PaymentMethodID, purchase.TotalAmount, purchase.ID, actor.Username)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	for i := range moves {
		s.metrics.InventoryTransaction(string(moves[i].Type))
		s.stockFollowUps(ctx, moves[i], touched[i])
	}
	if req.PaymentMethodID != "" && purchase.TotalAmount.IsPositive() {
		s.metrics.PaymentTransaction(string(domain.PaymentTxPurchase))
	}
	s.logAudit(ctx, "PURCHASE_CREATE", "purchase", purchase.ID,
		fmt.Sprintf("warehouse=%s items=%s total=%s", purchase.WarehouseID, purchase.TotalItems, purchase.TotalAmount))
	return purchase, nil
}

// DeactivatePurchase hides a purchase from default listings. Stock and
// payments it produced stay in the ledger; deactivating twice is a no-op.
func (s *Service) DeactivatePurchase(ctx context.Context, id string) (purchase domain.Purchase, err error) {
	changed := false
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return notFound(err, "purchase", id)
		}
		purchase = *current
		if !current.IsActive {
			return nil
		}
		if err := tx.SetPurchaseActive(ctx, id, false); err != nil {
			return err
		}
		purchase.IsActive = false
		changed = true
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	if changed {
		s.logAudit(ctx, "PURCHASE_DEACTIVATE", "purchase", id, "")
	}
	return purchase, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return domain.Purchase{}, notFound(err, "purchase", id)
	}
	return *p, nil
}

func (s *Service) ListPurchases(ctx context.Context, warehouseID string, includeInactive bool, limit int) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, warehouseID, includeInactive, limit)
}

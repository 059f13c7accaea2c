package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

type pgTx struct {
	q queryer
}

func (t *pgTx) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return getRegister(ctx, t.q, id)
}

func (t *pgTx) UpdateRegisterStatus(ctx context.Context, id string, status domain.RegisterStatus) error {
	res, err := t.q.ExecContext(ctx, `UPDATE cash_registers SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapConstraint(err, "register")
	}
	return requireAffected(res)
}

func (t *pgTx) HasOpenShift(ctx context.Context, registerID string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM cash_shifts WHERE register_id = $1 AND status = 'OPEN')
	`, registerID).Scan(&exists)
	return exists, err
}

func (t *pgTx) CreateShift(ctx context.Context, shift domain.CashShift) error {
	breakdown, err := jsonOrNull(shift.CashBreakdown)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO cash_shifts (
			id, register_id, cashier_id, start_time, end_time,
			initial_amount, final_amount, current_amount, cash_breakdown, notes, status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, shift.ID, shift.RegisterID, shift.CashierID, shift.StartTime, nullTime(shift.EndTime),
		shift.InitialAmount, nullDecimal(shift.FinalAmount), shift.CurrentAmount, breakdown, shift.Notes, shift.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: register %s or cashier %s already has an open shift", store.ErrConflict, shift.RegisterID, shift.CashierID)
		}
		return mapConstraint(err, "shift")
	}
	return nil
}

func (t *pgTx) GetShiftForUpdate(ctx context.Context, id string) (*domain.CashShift, error) {
	return scanShift(t.q.QueryRowContext(ctx, shiftColumns+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) AddShiftAmount(ctx context.Context, shiftID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var next decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		UPDATE cash_shifts
		SET current_amount = current_amount + $2
		WHERE id = $1 AND status = 'OPEN'
		RETURNING current_amount
	`, shiftID, delta).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: shift %s is not open", store.ErrInvalidState, shiftID)
	}
	return next, err
}

func (t *pgTx) FinishShift(ctx context.Context, shift domain.CashShift) error {
	breakdown, err := jsonOrNull(shift.CashBreakdown)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE cash_shifts
		SET status = $2, end_time = $3, final_amount = $4, cash_breakdown = $5, notes = $6
		WHERE id = $1 AND status = 'OPEN'
	`, shift.ID, shift.Status, nullTime(shift.EndTime), nullDecimal(shift.FinalAmount), breakdown, shift.Notes)
	if err != nil {
		return mapConstraint(err, "shift")
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("%w: shift %s is not open", store.ErrInvalidState, shift.ID)
	}
	return nil
}

func (t *pgTx) InsertCashOperation(ctx context.Context, op domain.CashOperation) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cash_operations (
			id, shift_id, register_id, cashier_id, operation_type, amount, payment_method,
			order_id, description, origin, payment_method_transaction_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, op.ID, op.ShiftID, op.RegisterID, op.CashierID, op.OperationType, op.Amount, op.PaymentMethod,
		nullIfEmpty(op.OrderID), op.Description, op.Origin, nullIfEmpty(op.PaymentMethodTransactionID), op.CreatedAt)
	return mapConstraint(err, "cash operation")
}

func (t *pgTx) CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payment_methods (id, register_id, shop_id, name, kind, source, status, current_balance, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, method.ID, nullIfEmpty(method.RegisterID), method.ShopID, method.Name, method.Kind, method.Source,
		method.Status, method.CurrentBalance, method.CreatedAt)
	return mapConstraint(err, "payment method")
}

// FindRegisterPaymentMethod prefers a method bound to the register over a
// shop-wide one of the same kind.
func (t *pgTx) FindRegisterPaymentMethod(ctx context.Context, registerID string, kind domain.PaymentKind) (*domain.PaymentMethod, error) {
	return scanPaymentMethod(t.q.QueryRowContext(ctx, `
		SELECT pm.id, COALESCE(pm.register_id, ''), pm.shop_id, pm.name, pm.kind, pm.source, pm.status,
		       pm.current_balance, pm.created_at
		FROM payment_methods pm
		JOIN cash_registers r ON r.id = $1
		WHERE pm.kind = $2
		  AND pm.status = 'ACTIVE'
		  AND (pm.register_id = r.id OR (pm.register_id IS NULL AND pm.shop_id = r.shop_id))
		ORDER BY (pm.register_id IS NULL), pm.id
		LIMIT 1
	`, registerID, kind))
}

func (t *pgTx) GetPaymentMethodForUpdate(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	return scanPaymentMethod(t.q.QueryRowContext(ctx, paymentMethodColumns+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdatePaymentMethodStatus(ctx context.Context, id string, status domain.PaymentMethodStatus) error {
	res, err := t.q.ExecContext(ctx, `UPDATE payment_methods SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapConstraint(err, "payment method")
	}
	return requireAffected(res)
}

func (t *pgTx) ApplyPaymentTransaction(ctx context.Context, entry domain.PaymentMethodTransaction) error {
	var balance decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		UPDATE payment_methods
		SET current_balance = current_balance + $2
		WHERE id = $1
		RETURNING current_balance
	`, entry.PaymentMethodID, entry.Amount).Scan(&balance)
	if err != nil {
		return notFoundIfNoRows(err)
	}
	if !balance.Equal(entry.BalanceAfter) {
		return fmt.Errorf("payment method %s balance drifted: stored %s, expected %s", entry.PaymentMethodID, balance, entry.BalanceAfter)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO payment_method_transactions (
			id, payment_method_id, shift_id, amount, balance_before, balance_after,
			transaction_type, reference_type, reference_id, note, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.PaymentMethodID, nullIfEmpty(entry.ShiftID), entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		entry.TransactionType, nullIfEmpty(entry.ReferenceType), nullIfEmpty(entry.ReferenceID), entry.Note,
		nullIfEmpty(entry.CreatedBy), entry.CreatedAt)
	return mapConstraint(err, "payment transaction")
}

func (t *pgTx) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := t.q.QueryRowContext(ctx, `
		SELECT id, shop_id, name, active FROM warehouses WHERE id = $1
	`, id).Scan(&w.ID, &w.ShopID, &w.Name, &w.Active)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return &w, nil
}

func (t *pgTx) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := t.q.QueryRowContext(ctx, `
		SELECT id, warehouse_id, name, active FROM suppliers WHERE id = $1
	`, id).Scan(&sup.ID, &sup.WarehouseID, &sup.Name, &sup.Active)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return &sup, nil
}

func (t *pgTx) GetWarehouseProductForUpdate(ctx context.Context, id string) (*domain.WarehouseProduct, error) {
	return scanProduct(t.q.QueryRowContext(ctx, productColumns+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ApplyInventoryTransaction(ctx context.Context, entry domain.InventoryTransaction) (decimal.Decimal, error) {
	var next decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		UPDATE warehouse_products
		SET quantity = quantity + $2, updated_at = $3
		WHERE id = $1
		RETURNING quantity
	`, entry.WarehouseProductID, entry.Delta, entry.CreatedAt).Scan(&next)
	if err != nil {
		if pgCode(err) == "23514" {
			return decimal.Zero, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, entry.WarehouseProductID)
		}
		return decimal.Zero, notFoundIfNoRows(err)
	}

	meta, err := jsonOrNull(entry.Metadata)
	if err != nil {
		return decimal.Zero, err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO inventory_transactions (
			id, warehouse_product_id, warehouse_id, type, quantity, quantity_before, quantity_after, delta,
			price, purchase_id, target_warehouse_id, metadata, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, entry.ID, entry.WarehouseProductID, entry.WarehouseID, entry.Type, entry.Quantity, entry.QuantityBefore,
		entry.QuantityAfter, entry.Delta, entry.Price, nullIfEmpty(entry.PurchaseID), nullIfEmpty(entry.TargetWarehouseID),
		meta, nullIfEmpty(entry.CreatedBy), entry.CreatedAt)
	if err != nil {
		return decimal.Zero, mapConstraint(err, "inventory transaction")
	}
	return next, nil
}

func (t *pgTx) UpdateProductPurchasePrice(ctx context.Context, productID string, price decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE warehouse_products SET purchase_price = $2, updated_at = now() WHERE id = $1
	`, productID, price)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO price_history (id, warehouse_product_id, old_price, new_price, price_type, purchase_id, changed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.WarehouseProductID, entry.OldPrice, entry.NewPrice, entry.PriceType,
		nullIfEmpty(entry.PurchaseID), nullIfEmpty(entry.ChangedBy), entry.CreatedAt)
	return mapConstraint(err, "price history")
}

func (t *pgTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO purchases (
			id, warehouse_id, supplier_id, date, comment, total_amount, total_items,
			payment_method_id, is_active, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, purchase.ID, purchase.WarehouseID, nullIfEmpty(purchase.SupplierID), purchase.Date, purchase.Comment,
		purchase.TotalAmount, purchase.TotalItems, nullIfEmpty(purchase.PaymentMethodID), purchase.IsActive,
		nullIfEmpty(purchase.CreatedBy), purchase.CreatedAt)
	if err != nil {
		return mapConstraint(err, "purchase")
	}

	for i, item := range purchase.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO purchase_items (
				id, purchase_id, product_id, quantity, price, total, comment, serial_number,
				expiry_date, inventory_transaction_id, position
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, item.ID, purchase.ID, item.ProductID, item.Quantity, item.Price, item.Total, item.Comment,
			item.SerialNumber, nullDate(item.ExpiryDate), nullIfEmpty(item.InventoryTransactionID), i)
		if err != nil {
			return mapConstraint(err, "purchase item")
		}
	}
	return nil
}

func (t *pgTx) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(ctx, t.q, id, true)
}

func (t *pgTx) SetPurchaseActive(ctx context.Context, id string, active bool) error {
	res, err := t.q.ExecContext(ctx, `UPDATE purchases SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

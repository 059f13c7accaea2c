package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

const shiftColumns = `
	SELECT id, register_id, cashier_id, start_time, end_time, initial_amount, final_amount,
	       current_amount, cash_breakdown, notes, status
	FROM cash_shifts`

const paymentMethodColumns = `
	SELECT id, COALESCE(register_id, ''), shop_id, name, kind, source, status, current_balance, created_at
	FROM payment_methods`

const productColumns = `
	SELECT id, warehouse_id, name, barcode, quantity, min_quantity, purchase_price, selling_price, is_active, updated_at
	FROM warehouse_products`

const paymentTxColumns = `
	SELECT id, payment_method_id, COALESCE(shift_id, ''), amount, balance_before, balance_after,
	       transaction_type, COALESCE(reference_type, ''), COALESCE(reference_id, ''), note,
	       COALESCE(created_by, ''), created_at
	FROM payment_method_transactions`

func getRegister(ctx context.Context, q queryer, id string) (*domain.CashRegister, error) {
	var r domain.CashRegister
	err := q.QueryRowContext(ctx, `
		SELECT id, shop_id, COALESCE(warehouse_id, ''), name, status, created_at
		FROM cash_registers
		WHERE id = $1
	`, id).Scan(&r.ID, &r.ShopID, &r.WarehouseID, &r.Name, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return &r, nil
}

func scanShift(row rowScanner) (*domain.CashShift, error) {
	var shift domain.CashShift
	var endTime sql.NullTime
	var final decimal.NullDecimal
	var breakdown []byte
	err := row.Scan(&shift.ID, &shift.RegisterID, &shift.CashierID, &shift.StartTime, &endTime,
		&shift.InitialAmount, &final, &shift.CurrentAmount, &breakdown, &shift.Notes, &shift.Status)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	shift.StartTime = shift.StartTime.UTC()
	shift.EndTime = timePtr(endTime)
	shift.FinalAmount = decimalPtr(final)
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &shift.CashBreakdown); err != nil {
			return nil, fmt.Errorf("decode cash_breakdown: %w", err)
		}
	}
	return &shift, nil
}

func scanPaymentMethod(row rowScanner) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := row.Scan(&pm.ID, &pm.RegisterID, &pm.ShopID, &pm.Name, &pm.Kind, &pm.Source, &pm.Status,
		&pm.CurrentBalance, &pm.CreatedAt)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return &pm, nil
}

func scanProduct(row rowScanner) (*domain.WarehouseProduct, error) {
	var p domain.WarehouseProduct
	err := row.Scan(&p.ID, &p.WarehouseID, &p.Name, &p.Barcode, &p.Quantity, &p.MinQuantity,
		&p.PurchasePrice, &p.SellingPrice, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return &p, nil
}

func scanPaymentTx(row rowScanner) (domain.PaymentMethodTransaction, error) {
	var e domain.PaymentMethodTransaction
	err := row.Scan(&e.ID, &e.PaymentMethodID, &e.ShiftID, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.TransactionType, &e.ReferenceType, &e.ReferenceID, &e.Note, &e.CreatedBy, &e.CreatedAt)
	return e, err
}

func getPurchase(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Purchase, error) {
	query := `
		SELECT id, warehouse_id, COALESCE(supplier_id, ''), date, comment, total_amount, total_items,
		       COALESCE(payment_method_id, ''), is_active, COALESCE(created_by, ''), created_at
		FROM purchases
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p domain.Purchase
	err := q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.WarehouseID, &p.SupplierID, &p.Date, &p.Comment,
		&p.TotalAmount, &p.TotalItems, &p.PaymentMethodID, &p.IsActive, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	items, err := listPurchaseItems(ctx, q, p.ID)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return &p, nil
}

func listPurchaseItems(ctx context.Context, q queryer, purchaseID string) ([]domain.PurchaseItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, purchase_id, product_id, quantity, price, total, comment, serial_number,
		       expiry_date, COALESCE(inventory_transaction_id, '')
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY position
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseItem
		var expiry sql.NullTime
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.Price, &item.Total,
			&item.Comment, &item.SerialNumber, &expiry, &item.InventoryTransactionID); err != nil {
			return nil, err
		}
		item.ExpiryDate = timePtr(expiry)
		items = append(items, item)
	}
	return items, rows.Err()
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) timeRange(column string, from time.Time, to time.Time) {
	if !from.IsZero() {
		w.add(column+" >= ?", from)
	}
	if !to.IsZero() {
		w.add(column+" < ?", to)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) limit(n int) string {
	w.args = append(w.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func (s *Store) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return getRegister(ctx, s.db, id)
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.CashShift, error) {
	return scanShift(s.db.QueryRowContext(ctx, shiftColumns+` WHERE id = $1`, id))
}

func (s *Store) GetOpenShiftByRegister(ctx context.Context, registerID string) (*domain.CashShift, error) {
	return scanShift(s.db.QueryRowContext(ctx, shiftColumns+` WHERE register_id = $1 AND status = 'OPEN'`, registerID))
}

func (s *Store) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.CashShift, error) {
	var w where
	if filter.RegisterID != "" {
		w.add("register_id = ?", filter.RegisterID)
	}
	if filter.CashierID != "" {
		w.add("cashier_id = ?", filter.CashierID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	w.timeRange("start_time", filter.From, filter.To)
	query := shiftColumns + w.String() + " ORDER BY start_time DESC" + w.limit(store.ClampLimit(filter.Limit, 100, 500))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.CashShift, 0, 16)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *shift)
	}
	return shifts, rows.Err()
}

func (s *Store) ListCashOperations(ctx context.Context, filter domain.CashOperationFilter) ([]domain.CashOperation, error) {
	var w where
	if filter.ShiftID != "" {
		w.add("shift_id = ?", filter.ShiftID)
	}
	if filter.RegisterID != "" {
		w.add("register_id = ?", filter.RegisterID)
	}
	if len(filter.Types) > 0 {
		w.add("operation_type = ANY(?)", stringsOf(filter.Types))
	}
	if len(filter.PaymentMethods) > 0 {
		w.add("payment_method = ANY(?)", stringsOf(filter.PaymentMethods))
	}
	w.timeRange("created_at", filter.From, filter.To)
	query := `
		SELECT id, shift_id, register_id, cashier_id, operation_type, amount, payment_method,
		       COALESCE(order_id, ''), description, origin, COALESCE(payment_method_transaction_id, ''), created_at
		FROM cash_operations` + w.String() + " ORDER BY seq" + w.limit(store.ClampLimit(filter.Limit, 1000, 5000))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]domain.CashOperation, 0, 32)
	for rows.Next() {
		var op domain.CashOperation
		if err := rows.Scan(&op.ID, &op.ShiftID, &op.RegisterID, &op.CashierID, &op.OperationType, &op.Amount,
			&op.PaymentMethod, &op.OrderID, &op.Description, &op.Origin, &op.PaymentMethodTransactionID, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) SumCashOperations(ctx context.Context, shiftID string) ([]domain.CashOperationTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_type, payment_method, origin, COUNT(*), COALESCE(SUM(amount), 0)
		FROM cash_operations
		WHERE shift_id = $1
		GROUP BY operation_type, payment_method, origin
		ORDER BY operation_type, payment_method, origin`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.CashOperationTotal, 0, 8)
	for rows.Next() {
		var t domain.CashOperationTotal
		if err := rows.Scan(&t.OperationType, &t.PaymentMethod, &t.Origin, &t.Count, &t.Amount); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (s *Store) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	return scanPaymentMethod(s.db.QueryRowContext(ctx, paymentMethodColumns+` WHERE id = $1`, id))
}

func (s *Store) ListPaymentMethods(ctx context.Context, registerID string) ([]domain.PaymentMethod, error) {
	query := paymentMethodColumns + ` ORDER BY id`
	args := []any{}
	if registerID != "" {
		reg, err := getRegister(ctx, s.db, registerID)
		if err != nil {
			return nil, err
		}
		query = paymentMethodColumns + `
			WHERE register_id = $1 OR (register_id IS NULL AND shop_id = $2)
			ORDER BY id`
		args = append(args, reg.ID, reg.ShopID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 8)
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, *pm)
	}
	return methods, rows.Err()
}

func (s *Store) ListPaymentTransactions(ctx context.Context, paymentMethodID string, filter domain.PaymentTxFilter) ([]domain.PaymentMethodTransaction, error) {
	if _, err := s.GetPaymentMethod(ctx, paymentMethodID); err != nil {
		return nil, err
	}
	var w where
	w.add("payment_method_id = ?", paymentMethodID)
	if len(filter.Types) > 0 {
		w.add("transaction_type = ANY(?)", stringsOf(filter.Types))
	}
	w.timeRange("created_at", filter.From, filter.To)
	query := paymentTxColumns + w.String() + " ORDER BY seq DESC" + w.limit(store.ClampLimit(filter.Limit, 200, 2000))
	return s.queryPaymentTxs(ctx, query, w.args...)
}

func (s *Store) ListPaymentsByReference(ctx context.Context, referenceType string, referenceID string) ([]domain.PaymentMethodTransaction, error) {
	return s.queryPaymentTxs(ctx, paymentTxColumns+`
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY seq`, referenceType, referenceID)
}

func (s *Store) queryPaymentTxs(ctx context.Context, query string, args ...any) ([]domain.PaymentMethodTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PaymentMethodTransaction, 0, 32)
	for rows.Next() {
		entry, err := scanPaymentTx(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetWarehouseProduct(ctx context.Context, id string) (*domain.WarehouseProduct, error) {
	return scanProduct(s.db.QueryRowContext(ctx, productColumns+` WHERE id = $1`, id))
}

func (s *Store) ListInventoryTransactions(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error) {
	var w where
	if filter.WarehouseProductID != "" {
		w.add("warehouse_product_id = ?", filter.WarehouseProductID)
	}
	if filter.WarehouseID != "" {
		w.add("warehouse_id = ?", filter.WarehouseID)
	}
	if filter.PurchaseID != "" {
		w.add("purchase_id = ?", filter.PurchaseID)
	}
	if len(filter.Types) > 0 {
		w.add("type = ANY(?)", stringsOf(filter.Types))
	}
	w.timeRange("created_at", filter.From, filter.To)
	query := `
		SELECT id, warehouse_product_id, warehouse_id, type, quantity, quantity_before, quantity_after, delta,
		       price, COALESCE(purchase_id, ''), COALESCE(target_warehouse_id, ''), metadata,
		       COALESCE(created_by, ''), created_at
		FROM inventory_transactions` + w.String() + " ORDER BY seq" + w.limit(store.ClampLimit(filter.Limit, 500, 5000))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.InventoryTransaction, 0, 32)
	for rows.Next() {
		var e domain.InventoryTransaction
		var meta []byte
		if err := rows.Scan(&e.ID, &e.WarehouseProductID, &e.WarehouseID, &e.Type, &e.Quantity, &e.QuantityBefore,
			&e.QuantityAfter, &e.Delta, &e.Price, &e.PurchaseID, &e.TargetWarehouseID, &meta, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode inventory metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(ctx, s.db, id, false)
}

func (s *Store) ListPurchases(ctx context.Context, warehouseID string, includeInactive bool, limit int) ([]domain.Purchase, error) {
	var w where
	if warehouseID != "" {
		w.add("warehouse_id = ?", warehouseID)
	}
	if !includeInactive {
		w.clauses = append(w.clauses, "is_active = true")
	}
	query := `SELECT id FROM purchases` + w.String() + " ORDER BY created_at DESC" + w.limit(store.ClampLimit(limit, 50, 500))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	purchases := make([]domain.Purchase, 0, len(ids))
	for _, id := range ids {
		p, err := getPurchase(ctx, s.db, id, false)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, warehouse_product_id, old_price, new_price, price_type, COALESCE(purchase_id, ''),
		       COALESCE(changed_by, ''), created_at
		FROM price_history
		WHERE warehouse_product_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, productID, store.ClampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, 8)
	for rows.Next() {
		var h domain.PriceHistory
		if err := rows.Scan(&h.ID, &h.WarehouseProductID, &h.OldPrice, &h.NewPrice, &h.PriceType,
			&h.PurchaseID, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) AddCashierDailyStats(ctx context.Context, delta domain.CashierDailyStats) error {
	if strings.TrimSpace(delta.CashierID) == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashier_daily_stats (cashier_id, date, sales_total, transaction_count, worked_minutes, shifts_closed, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (cashier_id, date)
		DO UPDATE SET
			sales_total = cashier_daily_stats.sales_total + EXCLUDED.sales_total,
			transaction_count = cashier_daily_stats.transaction_count + EXCLUDED.transaction_count,
			worked_minutes = cashier_daily_stats.worked_minutes + EXCLUDED.worked_minutes,
			shifts_closed = cashier_daily_stats.shifts_closed + EXCLUDED.shifts_closed,
			updated_at = now()
	`, delta.CashierID, store.DayUTC(delta.Date), delta.SalesTotal, delta.TransactionCount, delta.WorkedMinutes, delta.ShiftsClosed)
	return err
}

func (s *Store) GetCashierDailyStats(ctx context.Context, cashierID string, date time.Time) (*domain.CashierDailyStats, error) {
	var stats domain.CashierDailyStats
	err := s.db.QueryRowContext(ctx, `
		SELECT cashier_id, date, sales_total, transaction_count, worked_minutes, shifts_closed, updated_at
		FROM cashier_daily_stats
		WHERE cashier_id = $1 AND date = $2
	`, cashierID, store.DayUTC(date)).Scan(&stats.CashierID, &stats.Date, &stats.SalesTotal, &stats.TransactionCount,
		&stats.WorkedMinutes, &stats.ShiftsClosed, &stats.UpdatedAt)
	if err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return &stats, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	var w where
	w.timeRange("created_at", from, to)
	query := `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs` + w.String() + " ORDER BY created_at DESC" + w.limit(store.ClampLimit(limit, 200, 1000))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

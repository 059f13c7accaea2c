package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrValidation        = errors.New("validation error")
)

// TxFunc runs inside a single serializable unit of work. Returning an error
// discards every write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the write surface of the ledger. The *ForUpdate getters lock the row
// until the enclosing transaction ends.
type Tx interface {
	GetRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	UpdateRegisterStatus(ctx context.Context, id string, status domain.RegisterStatus) error
	HasOpenShift(ctx context.Context, registerID string) (bool, error)

	// CreateShift returns ErrConflict when the register or the cashier
	// already holds an open shift.
	CreateShift(ctx context.Context, shift domain.CashShift) error
	GetShiftForUpdate(ctx context.Context, id string) (*domain.CashShift, error)
	AddShiftAmount(ctx context.Context, shiftID string, delta decimal.Decimal) (decimal.Decimal, error)
	FinishShift(ctx context.Context, shift domain.CashShift) error
	InsertCashOperation(ctx context.Context, op domain.CashOperation) error

	CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) error
	FindRegisterPaymentMethod(ctx context.Context, registerID string, kind domain.PaymentKind) (*domain.PaymentMethod, error)
	GetPaymentMethodForUpdate(ctx context.Context, id string) (*domain.PaymentMethod, error)
	UpdatePaymentMethodStatus(ctx context.Context, id string, status domain.PaymentMethodStatus) error
	// ApplyPaymentTransaction inserts entry and moves current_balance by
	// entry.Amount in one step.
	ApplyPaymentTransaction(ctx context.Context, entry domain.PaymentMethodTransaction) error

	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	GetWarehouseProductForUpdate(ctx context.Context, id string) (*domain.WarehouseProduct, error)
	// ApplyInventoryTransaction inserts entry and moves quantity by
	// entry.Delta, returning the stored quantity.
	ApplyInventoryTransaction(ctx context.Context, entry domain.InventoryTransaction) (decimal.Decimal, error)
	UpdateProductPurchasePrice(ctx context.Context, productID string, price decimal.Decimal) error
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error

	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	SetPurchaseActive(ctx context.Context, id string, active bool) error
}

type Repository interface {
	RunInTx(ctx context.Context, fn TxFunc) error

	GetRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	GetShift(ctx context.Context, id string) (*domain.CashShift, error)
	GetOpenShiftByRegister(ctx context.Context, registerID string) (*domain.CashShift, error)
	ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.CashShift, error)
	ListCashOperations(ctx context.Context, filter domain.CashOperationFilter) ([]domain.CashOperation, error)
	// SumCashOperations groups every operation of a shift, unpaged.
	SumCashOperations(ctx context.Context, shiftID string) ([]domain.CashOperationTotal, error)

	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, registerID string) ([]domain.PaymentMethod, error)
	ListPaymentTransactions(ctx context.Context, paymentMethodID string, filter domain.PaymentTxFilter) ([]domain.PaymentMethodTransaction, error)
	// ListPaymentsByReference returns every posting against one reference
	// across all methods, oldest first.
	ListPaymentsByReference(ctx context.Context, referenceType string, referenceID string) ([]domain.PaymentMethodTransaction, error)

	GetWarehouseProduct(ctx context.Context, id string) (*domain.WarehouseProduct, error)
	ListInventoryTransactions(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, warehouseID string, includeInactive bool, limit int) ([]domain.Purchase, error)
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error)

	AddCashierDailyStats(ctx context.Context, delta domain.CashierDailyStats) error
	GetCashierDailyStats(ctx context.Context, cashierID string, date time.Time) (*domain.CashierDailyStats, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// DayUTC truncates t to midnight UTC, the key for daily aggregates.
func DayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func ClampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		limit = fallback
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

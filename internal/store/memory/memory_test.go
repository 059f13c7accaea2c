package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func openShift(id string, registerID string, cashierID string) domain.CashShift {
	return domain.CashShift{
		ID:            id,
		RegisterID:    registerID,
		CashierID:     cashierID,
		StartTime:     time.Now().UTC(),
		InitialAmount: decimal.NewFromInt(100),
		CurrentAmount: decimal.NewFromInt(100),
		Status:        domain.ShiftStatusOpen,
	}
}

func TestRunInTxDiscardsWritesOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateShift(ctx, openShift("shift-a", "reg-1", "ana")))
		_, err := tx.ApplyInventoryTransaction(ctx, domain.InventoryTransaction{
			ID: "inv-a", WarehouseProductID: "wp-rice", Type: domain.InventorySale,
			Quantity: decimal.NewFromInt(5), Delta: decimal.NewFromInt(-5),
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetShift(ctx, "shift-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	product, err := s.GetWarehouseProduct(ctx, "wp-rice")
	require.NoError(t, err)
	assert.True(t, product.Quantity.Equal(decimal.NewFromInt(50)))

	// The register is free again because the open-shift index rolled back too.
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateShift(ctx, openShift("shift-b", "reg-1", "ana"))
	}))
}

func TestCreateShiftEnforcesOneOpenShift(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	create := func(shift domain.CashShift) error {
		return s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.CreateShift(ctx, shift)
		})
	}

	require.NoError(t, create(openShift("shift-1", "reg-1", "ana")))
	assert.ErrorIs(t, create(openShift("shift-2", "reg-1", "budi")), store.ErrConflict)
	assert.ErrorIs(t, create(openShift("shift-3", "reg-2", "ana")), store.ErrConflict)
	assert.ErrorIs(t, create(openShift("shift-4", "reg-404", "citra")), store.ErrNotFound)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shift, err := tx.GetShiftForUpdate(ctx, "shift-1")
		if err != nil {
			return err
		}
		shift.Status = domain.ShiftStatusClosed
		return tx.FinishShift(ctx, *shift)
	}))
	require.NoError(t, create(openShift("shift-5", "reg-1", "ana")))

	active, err := s.GetOpenShiftByRegister(ctx, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "shift-5", active.ID)
}

func TestAddShiftAmountRejectsClosedShift(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateShift(ctx, openShift("shift-1", "reg-1", "ana")); err != nil {
			return err
		}
		current, err := tx.AddShiftAmount(ctx, "shift-1", decimal.NewFromInt(-40))
		if err != nil {
			return err
		}
		assert.True(t, current.Equal(decimal.NewFromInt(60)))
		shift := openShift("shift-1", "reg-1", "ana")
		shift.Status = domain.ShiftStatusInterrupted
		return tx.FinishShift(ctx, shift)
	}))

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AddShiftAmount(ctx, "shift-1", decimal.NewFromInt(1))
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestApplyInventoryTransactionKeepsStockNonNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.ApplyInventoryTransaction(ctx, domain.InventoryTransaction{
			ID: "inv-1", WarehouseProductID: "wp-oil", Type: domain.InventoryWriteOff,
			Quantity: decimal.NewFromInt(13), Delta: decimal.NewFromInt(-13),
		})
		return err
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestFindRegisterPaymentMethodPrefersRegisterBinding(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pm, err := tx.FindRegisterPaymentMethod(ctx, "reg-1", domain.PaymentCash)
		require.NoError(t, err)
		assert.Equal(t, "pm-cash-reg-1", pm.ID)

		pm, err = tx.FindRegisterPaymentMethod(ctx, "reg-2", domain.PaymentCard)
		require.NoError(t, err)
		assert.Equal(t, "pm-card-shared", pm.ID)

		_, err = tx.FindRegisterPaymentMethod(ctx, "reg-2", domain.PaymentQR)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestApplyPaymentTransactionDetectsDrift(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ApplyPaymentTransaction(ctx, domain.PaymentMethodTransaction{
			ID: "pmt-1", PaymentMethodID: "pm-bank", Amount: decimal.NewFromInt(10),
			BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(11),
		})
	})
	require.Error(t, err)

	pm, err := s.GetPaymentMethod(ctx, "pm-bank")
	require.NoError(t, err)
	assert.True(t, pm.CurrentBalance.IsZero())
}

func TestCashierDailyStatsAccumulatePerDay(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	require.NoError(t, s.AddCashierDailyStats(ctx, domain.CashierDailyStats{CashierID: "ana", Date: day, SalesTotal: decimal.NewFromInt(300), TransactionCount: 3, ShiftsClosed: 1}))
	require.NoError(t, s.AddCashierDailyStats(ctx, domain.CashierDailyStats{CashierID: "ana", Date: day.Add(6 * time.Hour), SalesTotal: decimal.NewFromInt(200), TransactionCount: 1, ShiftsClosed: 1}))
	assert.ErrorIs(t, s.AddCashierDailyStats(ctx, domain.CashierDailyStats{Date: day}), store.ErrValidation)

	stats, err := s.GetCashierDailyStats(ctx, "ana", day)
	require.NoError(t, err)
	assert.True(t, stats.SalesTotal.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 4, stats.TransactionCount)
	assert.Equal(t, 2, stats.ShiftsClosed)

	_, err = s.GetCashierDailyStats(ctx, "ana", day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

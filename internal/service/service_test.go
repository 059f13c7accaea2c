package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/notify"
	"posledger/backend/internal/store"
	"posledger/backend/internal/store/memory"
)

type recordingNotifier struct {
	mu        sync.Mutex
	lowStock  []notify.LowStockEvent
	initiated []notify.TransferEvent
	completed []notify.TransferEvent
	services  []notify.ServiceEvent
	fail      error
}

func (r *recordingNotifier) LowStock(_ context.Context, ev notify.LowStockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lowStock = append(r.lowStock, ev)
	return r.fail
}

func (r *recordingNotifier) TransferInitiated(_ context.Context, ev notify.TransferEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initiated = append(r.initiated, ev)
	return r.fail
}

func (r *recordingNotifier) TransferCompleted(_ context.Context, ev notify.TransferEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, ev)
	return r.fail
}

func (r *recordingNotifier) ServiceCompleted(_ context.Context, ev notify.ServiceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, ev)
	return r.fail
}

type testEnv struct {
	svc      *Service
	repo     *memory.Store
	notifier *recordingNotifier
	logs     *test.Hook
}

func newTestEnv(t *testing.T, deps Deps) testEnv {
	t.Helper()
	repo := memory.NewSeeded()
	notifier := &recordingNotifier{}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if deps.Notifier == nil {
		deps.Notifier = notifier
	}
	deps.Logger = logger
	return testEnv{svc: New(repo, deps), repo: repo, notifier: notifier, logs: hook}
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "cashier"})
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func mustOpen(t *testing.T, svc *Service, ctx context.Context, registerID string, initial int64) domain.CashShift {
	t.Helper()
	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{RegisterID: registerID, InitialAmount: dec(initial)})
	if err != nil {
		t.Fatalf("open shift on %s failed: %v", registerID, err)
	}
	return shift
}

func mustRecord(t *testing.T, svc *Service, ctx context.Context, shift domain.CashShift, opType domain.OperationType, kind domain.PaymentKind, amount int64) domain.CashOperation {
	t.Helper()
	op, err := svc.RecordCashOperation(ctx, domain.CashOperationRequest{
		ShiftID:       shift.ID,
		RegisterID:    shift.RegisterID,
		Type:          opType,
		Amount:        dec(amount),
		PaymentMethod: kind,
	})
	if err != nil {
		t.Fatalf("record %s %s failed: %v", opType, kind, err)
	}
	return op
}

func TestShiftLifecycleEndToEnd(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")

	shift := mustOpen(t, env.svc, ctx, "reg-1", 1000)
	if !shift.CurrentAmount.Equal(dec(1000)) {
		t.Fatalf("expected current amount 1000, got %s", shift.CurrentAmount)
	}
	if shift.CashierID != "kasir-a" {
		t.Fatalf("expected cashier from actor, got %q", shift.CashierID)
	}

	ops, err := env.svc.ListCashOperations(ctx, domain.CashOperationFilter{ShiftID: shift.ID})
	if err != nil {
		t.Fatalf("list operations failed: %v", err)
	}
	if len(ops) != 1 || ops[0].OperationType != domain.OperationDeposit || !ops[0].Amount.Equal(dec(1000)) {
		t.Fatalf("expected a single opening deposit of 1000, got %+v", ops)
	}
	if ops[0].Origin != domain.OriginShiftOpen {
		t.Fatalf("expected SHIFT_OPEN origin, got %s", ops[0].Origin)
	}

	mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentCash, 250)
	current, err := env.svc.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift failed: %v", err)
	}
	if !current.CurrentAmount.Equal(dec(1250)) {
		t.Fatalf("expected current amount 1250 after sale, got %s", current.CurrentAmount)
	}

	result, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, FinalAmount: dec(1250)})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if result.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected CLOSED, got %s", result.Shift.Status)
	}
	if result.Correction != nil {
		t.Fatalf("expected no correction, got %+v", result.Correction)
	}
	if !result.Summary.CashIncome.Equal(dec(1250)) {
		t.Fatalf("expected cash income 1250 with opening deposit, got %s", result.Summary.CashIncome)
	}
	if !result.Summary.Discrepancy.IsZero() {
		t.Fatalf("expected zero discrepancy, got %s", result.Summary.Discrepancy)
	}

	exclude := false
	summary, err := env.svc.ShiftSummary(ctx, shift.ID, domain.SummaryOptions{IncludeOpeningDeposit: &exclude})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.CashIncome.Equal(dec(250)) {
		t.Fatalf("expected cash income 250 without opening deposit, got %s", summary.CashIncome)
	}
	if summary.OpeningDepositCounted {
		t.Fatalf("expected opening deposit flagged as not counted")
	}

	cashDrawer, err := env.svc.GetPaymentMethod(ctx, "pm-cash-reg-1")
	if err != nil {
		t.Fatalf("get payment method failed: %v", err)
	}
	if !cashDrawer.CurrentBalance.Equal(dec(250)) {
		t.Fatalf("expected drawer payment method to hold only the sale, got %s", cashDrawer.CurrentBalance)
	}
}

func TestOpeningDepositExcludedByConfig(t *testing.T) {
	env := newTestEnv(t, Deps{ExcludeOpeningDeposit: true})
	ctx := cashierCtx("kasir-a")

	shift := mustOpen(t, env.svc, ctx, "reg-1", 1000)
	mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentCash, 250)

	summary, err := env.svc.ShiftSummary(ctx, shift.ID, domain.SummaryOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.CashIncome.Equal(dec(250)) {
		t.Fatalf("expected 250, got %s", summary.CashIncome)
	}
	if summary.CountsByType[domain.OperationDeposit] != 0 {
		t.Fatalf("expected opening deposit left out of counts, got %d", summary.CountsByType[domain.OperationDeposit])
	}
}

func TestOpenShiftRejectsSecondShiftOnRegister(t *testing.T) {
	env := newTestEnv(t, Deps{})
	mustOpen(t, env.svc, cashierCtx("kasir-a"), "reg-1", 0)

	_, err := env.svc.OpenShift(cashierCtx("kasir-b"), domain.ShiftOpenRequest{RegisterID: "reg-1"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second shift on register, got %v", err)
	}
}

func TestOpenShiftRejectsSecondShiftForCashier(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	mustOpen(t, env.svc, ctx, "reg-1", 0)

	_, err := env.svc.OpenShift(ctx, domain.ShiftOpenRequest{RegisterID: "reg-2"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for cashier with open shift, got %v", err)
	}
}

func TestOpenShiftValidation(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")

	cases := []struct {
		name string
		req  domain.ShiftOpenRequest
		want error
	}{
		{name: "negative float", req: domain.ShiftOpenRequest{RegisterID: "reg-1", InitialAmount: dec(-1)}, want: store.ErrValidation},
		{name: "unknown register", req: domain.ShiftOpenRequest{RegisterID: "reg-404"}, want: store.ErrNotFound},
		{name: "register in maintenance", req: domain.ShiftOpenRequest{RegisterID: "reg-3"}, want: store.ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.OpenShift(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentOpenShiftOnlyOneWins(t *testing.T) {
	env := newTestEnv(t, Deps{})

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := cashierCtx("kasir-" + string(rune('a'+i)))
			_, err := env.svc.OpenShift(ctx, domain.ShiftOpenRequest{RegisterID: "reg-1", InitialAmount: dec(100)})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	opened := 0
	for err := range results {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 {
		t.Fatalf("expected exactly one open shift, got %d", opened)
	}
}

func TestCloseShiftBooksSurplusAsDeposit(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 1000)

	result, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, FinalAmount: dec(1500)})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if result.Correction == nil || result.Correction.OperationType != domain.OperationDeposit || !result.Correction.Amount.Equal(dec(500)) {
		t.Fatalf("expected DEPOSIT correction of 500, got %+v", result.Correction)
	}
	if result.Correction.Origin != domain.OriginCloseCorrection {
		t.Fatalf("expected close correction origin, got %s", result.Correction.Origin)
	}
	if !result.Shift.CurrentAmount.Equal(dec(1500)) {
		t.Fatalf("expected current amount to match final 1500, got %s", result.Shift.CurrentAmount)
	}
	if !result.Summary.Discrepancy.Equal(dec(500)) {
		t.Fatalf("expected discrepancy 500, got %s", result.Summary.Discrepancy)
	}
}

func TestCloseShiftBooksShortageAsWithdrawal(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 1000)

	result, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, FinalAmount: dec(800)})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if result.Correction == nil || result.Correction.OperationType != domain.OperationWithdrawal || !result.Correction.Amount.Equal(dec(200)) {
		t.Fatalf("expected WITHDRAWAL correction of 200, got %+v", result.Correction)
	}
	if !result.Shift.CurrentAmount.Equal(dec(800)) {
		t.Fatalf("expected current amount 800, got %s", result.Shift.CurrentAmount)
	}
	if !result.Summary.Discrepancy.Equal(dec(-200)) {
		t.Fatalf("expected discrepancy -200, got %s", result.Summary.Discrepancy)
	}
}

func TestCloseShiftTwiceFails(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 0)

	if _, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	_, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on second close, got %v", err)
	}
	if _, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: "shift-missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown shift, got %v", err)
	}
}

func TestCloseShiftFreesRegisterAndRecordsStats(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)
	mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentCash, 40)
	mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentQR, 60)
	mustRecord(t, env.svc, ctx, shift, domain.OperationReturn, domain.PaymentCash, 10)

	if _, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, FinalAmount: dec(130)}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := env.svc.OpenShift(cashierCtx("kasir-b"), domain.ShiftOpenRequest{RegisterID: "reg-1"}); err != nil {
		t.Fatalf("expected register free after close, got %v", err)
	}

	stats, err := env.svc.CashierDailyStats(ctx, "kasir-a", shift.StartTime.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("daily stats failed: %v", err)
	}
	if !stats.SalesTotal.Equal(dec(100)) || stats.TransactionCount != 3 || stats.ShiftsClosed != 1 {
		t.Fatalf("unexpected daily stats: %+v", stats)
	}
}

func TestSummaryCountsEveryOperationOnLongShift(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)

	const sales = 5100
	for i := 0; i < sales; i++ {
		mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentCard, 1)
	}

	result, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, FinalAmount: dec(100)})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	summary := result.Summary
	if !summary.SalesTotal.Equal(dec(sales)) || summary.TransactionCount != sales {
		t.Fatalf("expected %d sales in summary, got total %s count %d", sales, summary.SalesTotal, summary.TransactionCount)
	}
	if summary.CountsByType[domain.OperationSale] != sales {
		t.Fatalf("expected %d SALE rows, got %d", sales, summary.CountsByType[domain.OperationSale])
	}
	if !summary.TotalsByPaymentMethod[domain.PaymentCard].Equal(dec(sales)) {
		t.Fatalf("expected card total %d, got %s", sales, summary.TotalsByPaymentMethod[domain.PaymentCard])
	}

	stats, err := env.svc.CashierDailyStats(ctx, "kasir-a", shift.StartTime.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("daily stats failed: %v", err)
	}
	if !stats.SalesTotal.Equal(dec(sales)) || stats.TransactionCount != sales {
		t.Fatalf("daily stats undercount: %+v", stats)
	}
}

func TestConcurrentCashOperationsOnOneShift(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opType := domain.OperationSale
			if i%2 == 1 {
				opType = domain.OperationDeposit
			}
			_, err := env.svc.RecordCashOperation(ctx, domain.CashOperationRequest{
				ShiftID: shift.ID, RegisterID: shift.RegisterID, Type: opType, Amount: dec(5), PaymentMethod: domain.PaymentCash,
			})
			if err != nil {
				t.Errorf("record %s failed: %v", opType, err)
			}
		}(i)
	}
	wg.Wait()

	current, err := env.svc.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift failed: %v", err)
	}
	if !current.CurrentAmount.Equal(dec(100 + workers*5)) {
		t.Fatalf("expected drawer %d, got %s", 100+workers*5, current.CurrentAmount)
	}
	ops, _ := env.svc.ListCashOperations(ctx, domain.CashOperationFilter{ShiftID: shift.ID})
	if len(ops) != workers+1 {
		t.Fatalf("expected %d operations, got %d", workers+1, len(ops))
	}
	drawer, _ := env.svc.GetPaymentMethod(ctx, "pm-cash-reg-1")
	if !drawer.CurrentBalance.Equal(dec(workers * 5)) {
		t.Fatalf("expected mirrored balance %d, got %s", workers*5, drawer.CurrentBalance)
	}
}

func TestInterruptShift(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 300)

	if _, err := env.svc.InterruptShift(ctx, domain.ShiftInterruptRequest{ShiftID: shift.ID}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error without reason, got %v", err)
	}
	interrupted, err := env.svc.InterruptShift(ctx, domain.ShiftInterruptRequest{ShiftID: shift.ID, Reason: "power outage"})
	if err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}
	if interrupted.Status != domain.ShiftStatusInterrupted || interrupted.EndTime == nil {
		t.Fatalf("expected INTERRUPTED with end time, got %+v", interrupted)
	}
	if !interrupted.CurrentAmount.Equal(dec(300)) {
		t.Fatalf("expected balance untouched, got %s", interrupted.CurrentAmount)
	}
	_, err = env.svc.RecordCashOperation(ctx, domain.CashOperationRequest{
		ShiftID: shift.ID, RegisterID: "reg-1", Type: domain.OperationSale, Amount: dec(1), PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on interrupted shift, got %v", err)
	}
}

func TestCashOperationInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)

	_, err := env.svc.RecordCashOperation(ctx, domain.CashOperationRequest{
		ShiftID: shift.ID, RegisterID: "reg-1", Type: domain.OperationWithdrawal, Amount: dec(150), PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	current, _ := env.svc.GetShift(ctx, shift.ID)
	if !current.CurrentAmount.Equal(dec(100)) {
		t.Fatalf("expected balance 100 after failed withdrawal, got %s", current.CurrentAmount)
	}
	ops, _ := env.svc.ListCashOperations(ctx, domain.CashOperationFilter{ShiftID: shift.ID})
	if len(ops) != 1 {
		t.Fatalf("expected only the opening deposit, got %d operations", len(ops))
	}
	entries, _ := env.svc.ListPaymentTransactions(ctx, "pm-cash-reg-1", domain.PaymentTxFilter{})
	if len(entries) != 0 {
		t.Fatalf("expected no payment postings, got %d", len(entries))
	}
}

func TestCashOperationValidation(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)

	cases := []struct {
		name string
		req  domain.CashOperationRequest
		want error
	}{
		{name: "negative amount", req: domain.CashOperationRequest{ShiftID: shift.ID, RegisterID: "reg-1", Type: domain.OperationSale, Amount: dec(-5), PaymentMethod: domain.PaymentCash}, want: store.ErrValidation},
		{name: "unknown type", req: domain.CashOperationRequest{ShiftID: shift.ID, RegisterID: "reg-1", Type: "GIFT", Amount: dec(5), PaymentMethod: domain.PaymentCash}, want: store.ErrValidation},
		{name: "custom kind", req: domain.CashOperationRequest{ShiftID: shift.ID, RegisterID: "reg-1", Type: domain.OperationSale, Amount: dec(5), PaymentMethod: domain.PaymentCustom}, want: store.ErrValidation},
		{name: "wrong register", req: domain.CashOperationRequest{ShiftID: shift.ID, RegisterID: "reg-2", Type: domain.OperationSale, Amount: dec(5), PaymentMethod: domain.PaymentCash}, want: store.ErrValidation},
		{name: "unknown shift", req: domain.CashOperationRequest{ShiftID: "shift-missing", RegisterID: "reg-1", Type: domain.OperationSale, Amount: dec(5), PaymentMethod: domain.PaymentCash}, want: store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.RecordCashOperation(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNonCashOperationLeavesDrawerAlone(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)

	op := mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentQR, 75)
	mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentCard, 40)

	current, _ := env.svc.GetShift(ctx, shift.ID)
	if !current.CurrentAmount.Equal(dec(100)) {
		t.Fatalf("expected non-cash sales to leave drawer at 100, got %s", current.CurrentAmount)
	}
	if op.PaymentMethodTransactionID == "" {
		t.Fatalf("expected QR sale to post to the register's QR method")
	}
	qr, _ := env.svc.GetPaymentMethod(ctx, "pm-qr-reg-1")
	if !qr.CurrentBalance.Equal(dec(75)) {
		t.Fatalf("expected QR balance 75, got %s", qr.CurrentBalance)
	}
	card, _ := env.svc.GetPaymentMethod(ctx, "pm-card-shared")
	if !card.CurrentBalance.Equal(dec(40)) {
		t.Fatalf("expected shared card terminal balance 40, got %s", card.CurrentBalance)
	}

	summary, err := env.svc.ShiftSummary(ctx, shift.ID, domain.SummaryOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.TotalsByPaymentMethod[domain.PaymentQR].Equal(dec(75)) || !summary.SalesTotal.Equal(dec(115)) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCashOperationPaymentMirroring(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 500)

	mustRecord(t, env.svc, ctx, shift, domain.OperationSale, domain.PaymentCash, 200)
	mustRecord(t, env.svc, ctx, shift, domain.OperationReturn, domain.PaymentCash, 30)
	mustRecord(t, env.svc, ctx, shift, domain.OperationTransferOut, domain.PaymentCash, 20)

	entries, err := env.svc.ListPaymentTransactions(ctx, "pm-cash-reg-1", domain.PaymentTxFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 postings, got %d", len(entries))
	}
	// newest first
	want := []struct {
		typ    domain.PaymentTransactionType
		amount int64
	}{
		{domain.PaymentTxAdjustment, -20},
		{domain.PaymentTxRefund, -30},
		{domain.PaymentTxSale, 200},
	}
	for i, w := range want {
		if entries[i].TransactionType != w.typ || !entries[i].Amount.Equal(dec(w.amount)) {
			t.Fatalf("posting %d: expected %s %d, got %s %s", i, w.typ, w.amount, entries[i].TransactionType, entries[i].Amount)
		}
		if entries[i].ReferenceType != "cash_operation" || entries[i].ShiftID != shift.ID {
			t.Fatalf("posting %d: unexpected reference %+v", i, entries[i])
		}
	}
	if !entries[0].BalanceAfter.Equal(dec(150)) {
		t.Fatalf("expected final balance 150, got %s", entries[0].BalanceAfter)
	}
}

func TestServiceOperationNotifiesOrder(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 0)

	_, err := env.svc.RecordCashOperation(ctx, domain.CashOperationRequest{
		ShiftID: shift.ID, RegisterID: "reg-1", Type: domain.OperationService,
		Amount: dec(80), PaymentMethod: domain.PaymentCash, OrderID: "B1234XYZ",
	})
	if err != nil {
		t.Fatalf("record service failed: %v", err)
	}
	mustRecord(t, env.svc, ctx, shift, domain.OperationService, domain.PaymentCash, 20)

	if len(env.notifier.services) != 1 || env.notifier.services[0].OrderID != "B1234XYZ" {
		t.Fatalf("expected one service notification for the order, got %+v", env.notifier.services)
	}
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	failing := &recordingNotifier{fail: errors.New("broker down")}
	env := newTestEnv(t, Deps{Notifier: failing})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 0)

	_, err := env.svc.RecordCashOperation(ctx, domain.CashOperationRequest{
		ShiftID: shift.ID, RegisterID: "reg-1", Type: domain.OperationService,
		Amount: dec(80), PaymentMethod: domain.PaymentCash, OrderID: "B1234XYZ",
	})
	if err != nil {
		t.Fatalf("expected operation to succeed despite notifier failure, got %v", err)
	}
	if env.logs.LastEntry() == nil || env.logs.LastEntry().Level != logrus.WarnLevel {
		t.Fatalf("expected a warning to be logged")
	}
}

func TestSetRegisterStatusRefusesWhileShiftOpen(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 0)

	if _, err := env.svc.SetRegisterStatus(ctx, "reg-1", domain.RegisterStatusMaintenance); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	reg, err := env.svc.SetRegisterStatus(ctx, "reg-1", domain.RegisterStatusMaintenance)
	if err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	if reg.Status != domain.RegisterStatusMaintenance {
		t.Fatalf("expected MAINTENANCE, got %s", reg.Status)
	}
}

func TestClosedSummaryIsCached(t *testing.T) {
	mem := cache.NewMemory()
	env := newTestEnv(t, Deps{SummaryCache: mem, SummaryCacheTTL: time.Minute})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 100)
	if _, err := env.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, FinalAmount: dec(100)}); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	first, err := env.svc.ShiftSummary(ctx, shift.ID, domain.SummaryOptions{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, summaryKey{ShiftID: shift.ID, IncludeOpeningDeposit: true}.cacheKey()); !ok {
		t.Fatalf("expected closed summary to be cached")
	}
	second, err := env.svc.ShiftSummary(ctx, shift.ID, domain.SummaryOptions{})
	if err != nil {
		t.Fatalf("cached summary failed: %v", err)
	}
	if !first.CashIncome.Equal(second.CashIncome) || first.ShiftID != second.ShiftID {
		t.Fatalf("cached summary differs: %+v vs %+v", first, second)
	}
}

func TestAuditTrailRecordsActor(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx := cashierCtx("kasir-a")
	shift := mustOpen(t, env.svc, ctx, "reg-1", 0)

	logs, err := env.svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "SHIFT_OPEN" || logs[0].EntityID != shift.ID || logs[0].ActorUsername != "kasir-a" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}
}

package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// state is copied on every RunInTx and swapped in on commit. Entries are
// replaced as whole values, never mutated in place, so shallow map clones are
// enough. Append-only slices share their backing array: writers are
// serialized and an aborted stage is simply dropped.
type state struct {
	registers          map[string]domain.CashRegister
	shifts             map[string]domain.CashShift
	openShiftByReg     map[string]string
	openShiftByCashier map[string]string
	cashOperations     []domain.CashOperation
	paymentMethods     map[string]domain.PaymentMethod
	paymentTxs         []domain.PaymentMethodTransaction
	warehouses         map[string]domain.Warehouse
	suppliers          map[string]domain.Supplier
	products           map[string]domain.WarehouseProduct
	inventoryTxs       []domain.InventoryTransaction
	purchases          map[string]domain.Purchase
	priceHistory       []domain.PriceHistory
	dailyStats         map[string]domain.CashierDailyStats
	auditLogs          []domain.AuditLog
}

func (st *state) clone() *state {
	return &state{
		registers:          maps.Clone(st.registers),
		shifts:             maps.Clone(st.shifts),
		openShiftByReg:     maps.Clone(st.openShiftByReg),
		openShiftByCashier: maps.Clone(st.openShiftByCashier),
		cashOperations:     st.cashOperations,
		paymentMethods:     maps.Clone(st.paymentMethods),
		paymentTxs:         st.paymentTxs,
		warehouses:         maps.Clone(st.warehouses),
		suppliers:          maps.Clone(st.suppliers),
		products:           maps.Clone(st.products),
		inventoryTxs:       st.inventoryTxs,
		purchases:          maps.Clone(st.purchases),
		priceHistory:       st.priceHistory,
		dailyStats:         st.dailyStats,
		auditLogs:          st.auditLogs,
	}
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: &state{
		registers:          make(map[string]domain.CashRegister),
		shifts:             make(map[string]domain.CashShift),
		openShiftByReg:     make(map[string]string),
		openShiftByCashier: make(map[string]string),
		cashOperations:     make([]domain.CashOperation, 0, 256),
		paymentMethods:     make(map[string]domain.PaymentMethod),
		paymentTxs:         make([]domain.PaymentMethodTransaction, 0, 256),
		warehouses:         make(map[string]domain.Warehouse),
		suppliers:          make(map[string]domain.Supplier),
		products:           make(map[string]domain.WarehouseProduct),
		inventoryTxs:       make([]domain.InventoryTransaction, 0, 256),
		purchases:          make(map[string]domain.Purchase),
		priceHistory:       make([]domain.PriceHistory, 0, 64),
		dailyStats:         make(map[string]domain.CashierDailyStats),
		auditLogs:          make([]domain.AuditLog, 0, 128),
	}}
}

// NewSeeded returns a store with one shop, three registers, two live
// warehouses and a handful of products. Used by dev mode and tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, w := range []domain.Warehouse{
		{ID: "wh-main", ShopID: "main-shop", Name: "Main Warehouse", Active: true},
		{ID: "wh-branch", ShopID: "main-shop", Name: "Branch Warehouse", Active: true},
		{ID: "wh-closed", ShopID: "main-shop", Name: "Closed Warehouse", Active: false},
	} {
		s.PutWarehouse(w)
	}
	for _, r := range []domain.CashRegister{
		{ID: "reg-1", ShopID: "main-shop", WarehouseID: "wh-main", Name: "Front Register", Status: domain.RegisterStatusActive, CreatedAt: now},
		{ID: "reg-2", ShopID: "main-shop", WarehouseID: "wh-main", Name: "Express Register", Status: domain.RegisterStatusActive, CreatedAt: now},
		{ID: "reg-3", ShopID: "main-shop", WarehouseID: "wh-branch", Name: "Branch Register", Status: domain.RegisterStatusMaintenance, CreatedAt: now},
	} {
		s.PutRegister(r)
	}
	for _, pm := range []domain.PaymentMethod{
		{ID: "pm-cash-reg-1", RegisterID: "reg-1", ShopID: "main-shop", Name: "Cash Drawer 1", Kind: domain.PaymentCash, Source: domain.PaymentSourceSystem, Status: domain.PaymentMethodActive},
		{ID: "pm-qr-reg-1", RegisterID: "reg-1", ShopID: "main-shop", Name: "QR Register 1", Kind: domain.PaymentQR, Source: domain.PaymentSourceSystem, Status: domain.PaymentMethodActive},
		{ID: "pm-cash-reg-2", RegisterID: "reg-2", ShopID: "main-shop", Name: "Cash Drawer 2", Kind: domain.PaymentCash, Source: domain.PaymentSourceSystem, Status: domain.PaymentMethodActive},
		{ID: "pm-card-shared", ShopID: "main-shop", Name: "Card Terminal", Kind: domain.PaymentCard, Source: domain.PaymentSourceSystem, Status: domain.PaymentMethodActive},
		{ID: "pm-bank", ShopID: "main-shop", Name: "Bank Account", Kind: domain.PaymentCustom, Source: domain.PaymentSourceCustom, Status: domain.PaymentMethodActive},
	} {
		pm.CreatedAt = now
		pm.CurrentBalance = decimal.Zero
		s.PutPaymentMethod(pm)
	}
	for _, p := range []domain.WarehouseProduct{
		{ID: "wp-rice", WarehouseID: "wh-main", Name: "Rice 5kg", Barcode: "8991001", Quantity: decimal.NewFromInt(50), MinQuantity: decimal.NewFromInt(10), PurchasePrice: decimal.NewFromInt(10), SellingPrice: decimal.NewFromInt(14), IsActive: true},
		{ID: "wp-oil", WarehouseID: "wh-main", Name: "Cooking Oil 1L", Barcode: "8991002", Quantity: decimal.NewFromInt(12), MinQuantity: decimal.NewFromInt(5), PurchasePrice: decimal.NewFromInt(20), SellingPrice: decimal.NewFromInt(26), IsActive: true},
		{ID: "wp-sugar", WarehouseID: "wh-main", Name: "Sugar 1kg", Barcode: "8991003", Quantity: decimal.Zero, MinQuantity: decimal.Zero, PurchasePrice: decimal.NewFromInt(8), SellingPrice: decimal.NewFromInt(11), IsActive: true},
		{ID: "wp-branch-rice", WarehouseID: "wh-branch", Name: "Rice 5kg", Barcode: "8991001", Quantity: decimal.Zero, MinQuantity: decimal.NewFromInt(5), PurchasePrice: decimal.NewFromInt(10), SellingPrice: decimal.NewFromInt(14), IsActive: true},
	} {
		p.UpdatedAt = now
		s.PutWarehouseProduct(p)
	}
	s.PutSupplier(domain.Supplier{ID: "sup-main", WarehouseID: "wh-main", Name: "Sumber Pangan", Active: true})
	s.PutSupplier(domain.Supplier{ID: "sup-branch", WarehouseID: "wh-branch", Name: "Mitra Cabang", Active: true})
	return s
}

// Fixture writers. Catalog CRUD lives outside the ledger, so these bypass
// transactions.

func (s *Store) PutRegister(r domain.CashRegister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.registers[r.ID] = r
}

func (s *Store) PutWarehouse(w domain.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.warehouses[w.ID] = w
}

func (s *Store) PutWarehouseProduct(p domain.WarehouseProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) PutSupplier(sup domain.Supplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.suppliers[sup.ID] = sup
}

func (s *Store) PutPaymentMethod(pm domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.paymentMethods[pm.ID] = pm
}

func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(ctx, &tx{st: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = staged
	return nil
}

type tx struct {
	st *state
}

func (t *tx) GetRegister(_ context.Context, id string) (*domain.CashRegister, error) {
	r, ok := t.st.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) UpdateRegisterStatus(_ context.Context, id string, status domain.RegisterStatus) error {
	r, ok := t.st.registers[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	t.st.registers[id] = r
	return nil
}

func (t *tx) HasOpenShift(_ context.Context, registerID string) (bool, error) {
	_, ok := t.st.openShiftByReg[registerID]
	return ok, nil
}

func (t *tx) CreateShift(_ context.Context, shift domain.CashShift) error {
	if _, exists := t.st.shifts[shift.ID]; exists {
		return fmt.Errorf("%w: shift id %s already used", store.ErrConflict, shift.ID)
	}
	if _, ok := t.st.registers[shift.RegisterID]; !ok {
		return store.ErrNotFound
	}
	if shift.Status == domain.ShiftStatusOpen {
		if _, busy := t.st.openShiftByReg[shift.RegisterID]; busy {
			return fmt.Errorf("%w: register %s already has an open shift", store.ErrConflict, shift.RegisterID)
		}
		if _, busy := t.st.openShiftByCashier[shift.CashierID]; busy {
			return fmt.Errorf("%w: cashier %s already has an open shift", store.ErrConflict, shift.CashierID)
		}
		t.st.openShiftByReg[shift.RegisterID] = shift.ID
		t.st.openShiftByCashier[shift.CashierID] = shift.ID
	}
	shift.CashBreakdown = maps.Clone(shift.CashBreakdown)
	t.st.shifts[shift.ID] = shift
	return nil
}

func (t *tx) GetShiftForUpdate(_ context.Context, id string) (*domain.CashShift, error) {
	shift, ok := t.st.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (t *tx) AddShiftAmount(_ context.Context, shiftID string, delta decimal.Decimal) (decimal.Decimal, error) {
	shift, ok := t.st.shifts[shiftID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return decimal.Zero, fmt.Errorf("%w: shift %s is %s", store.ErrInvalidState, shiftID, shift.Status)
	}
	shift.CurrentAmount = shift.CurrentAmount.Add(delta)
	t.st.shifts[shiftID] = shift
	return shift.CurrentAmount, nil
}

func (t *tx) FinishShift(_ context.Context, shift domain.CashShift) error {
	current, ok := t.st.shifts[shift.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != domain.ShiftStatusOpen {
		return fmt.Errorf("%w: shift %s is %s", store.ErrInvalidState, shift.ID, current.Status)
	}
	current.Status = shift.Status
	current.EndTime = shift.EndTime
	current.FinalAmount = shift.FinalAmount
	current.CashBreakdown = maps.Clone(shift.CashBreakdown)
	current.Notes = shift.Notes
	t.st.shifts[shift.ID] = current
	if current.Status != domain.ShiftStatusOpen {
		delete(t.st.openShiftByReg, current.RegisterID)
		delete(t.st.openShiftByCashier, current.CashierID)
	}
	return nil
}

func (t *tx) InsertCashOperation(_ context.Context, op domain.CashOperation) error {
	if _, ok := t.st.shifts[op.ShiftID]; !ok {
		return store.ErrNotFound
	}
	t.st.cashOperations = append(t.st.cashOperations, op)
	return nil
}

func (t *tx) CreatePaymentMethod(_ context.Context, method domain.PaymentMethod) error {
	if _, exists := t.st.paymentMethods[method.ID]; exists {
		return fmt.Errorf("%w: payment method %s exists", store.ErrConflict, method.ID)
	}
	t.st.paymentMethods[method.ID] = method
	return nil
}

func (t *tx) FindRegisterPaymentMethod(_ context.Context, registerID string, kind domain.PaymentKind) (*domain.PaymentMethod, error) {
	reg, ok := t.st.registers[registerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var shared *domain.PaymentMethod
	for _, id := range sortedKeys(t.st.paymentMethods) {
		pm := t.st.paymentMethods[id]
		if pm.Kind != kind || pm.Status != domain.PaymentMethodActive {
			continue
		}
		if pm.RegisterID == registerID {
			return &pm, nil
		}
		if pm.RegisterID == "" && pm.ShopID == reg.ShopID && shared == nil {
			shared = &pm
		}
	}
	if shared != nil {
		return shared, nil
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetPaymentMethodForUpdate(_ context.Context, id string) (*domain.PaymentMethod, error) {
	pm, ok := t.st.paymentMethods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pm, nil
}

func (t *tx) UpdatePaymentMethodStatus(_ context.Context, id string, status domain.PaymentMethodStatus) error {
	pm, ok := t.st.paymentMethods[id]
	if !ok {
		return store.ErrNotFound
	}
	pm.Status = status
	t.st.paymentMethods[id] = pm
	return nil
}

func (t *tx) ApplyPaymentTransaction(_ context.Context, entry domain.PaymentMethodTransaction) error {
	pm, ok := t.st.paymentMethods[entry.PaymentMethodID]
	if !ok {
		return store.ErrNotFound
	}
	pm.CurrentBalance = pm.CurrentBalance.Add(entry.Amount)
	if !pm.CurrentBalance.Equal(entry.BalanceAfter) {
		return fmt.Errorf("payment method %s balance drifted: stored %s, expected %s", pm.ID, pm.CurrentBalance, entry.BalanceAfter)
	}
	t.st.paymentMethods[pm.ID] = pm
	t.st.paymentTxs = append(t.st.paymentTxs, entry)
	return nil
}

func (t *tx) GetWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	w, ok := t.st.warehouses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (t *tx) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	sup, ok := t.st.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sup, nil
}

func (t *tx) GetWarehouseProductForUpdate(_ context.Context, id string) (*domain.WarehouseProduct, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) ApplyInventoryTransaction(_ context.Context, entry domain.InventoryTransaction) (decimal.Decimal, error) {
	p, ok := t.st.products[entry.WarehouseProductID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	next := p.Quantity.Add(entry.Delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: product %s would go to %s", store.ErrInsufficientStock, p.ID, next)
	}
	p.Quantity = next
	p.UpdatedAt = entry.CreatedAt
	t.st.products[p.ID] = p
	entry.Metadata = maps.Clone(entry.Metadata)
	t.st.inventoryTxs = append(t.st.inventoryTxs, entry)
	return next, nil
}

func (t *tx) UpdateProductPurchasePrice(_ context.Context, productID string, price decimal.Decimal) error {
	p, ok := t.st.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.PurchasePrice = price
	t.st.products[productID] = p
	return nil
}

func (t *tx) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	t.st.priceHistory = append(t.st.priceHistory, entry)
	return nil
}

func (t *tx) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if _, exists := t.st.purchases[purchase.ID]; exists {
		return fmt.Errorf("%w: purchase %s exists", store.ErrConflict, purchase.ID)
	}
	purchase.Items = slices.Clone(purchase.Items)
	t.st.purchases[purchase.ID] = purchase
	return nil
}

func (t *tx) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	p, ok := t.st.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Items = slices.Clone(p.Items)
	return &p, nil
}

func (t *tx) SetPurchaseActive(_ context.Context, id string, active bool) error {
	p, ok := t.st.purchases[id]
	if !ok {
		return store.ErrNotFound
	}
	p.IsActive = active
	t.st.purchases[id] = p
	return nil
}

func (s *Store) GetRegister(_ context.Context, id string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shift, ok := s.st.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift.CashBreakdown = maps.Clone(shift.CashBreakdown)
	return &shift, nil
}

func (s *Store) GetOpenShiftByRegister(_ context.Context, registerID string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.st.openShiftByReg[registerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.st.shifts[id]
	return &shift, nil
}

func (s *Store) ListShifts(_ context.Context, filter domain.ShiftFilter) ([]domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CashShift, 0, 16)
	for _, shift := range s.st.shifts {
		if filter.RegisterID != "" && shift.RegisterID != filter.RegisterID {
			continue
		}
		if filter.CashierID != "" && shift.CashierID != filter.CashierID {
			continue
		}
		if filter.Status != "" && shift.Status != filter.Status {
			continue
		}
		if !inRange(shift.StartTime, filter.From, filter.To) {
			continue
		}
		out = append(out, shift)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return truncate(out, store.ClampLimit(filter.Limit, 100, 500)), nil
}

func (s *Store) ListCashOperations(_ context.Context, filter domain.CashOperationFilter) ([]domain.CashOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CashOperation, 0, 32)
	for _, op := range s.st.cashOperations {
		if filter.ShiftID != "" && op.ShiftID != filter.ShiftID {
			continue
		}
		if filter.RegisterID != "" && op.RegisterID != filter.RegisterID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, op.OperationType) {
			continue
		}
		if len(filter.PaymentMethods) > 0 && !slices.Contains(filter.PaymentMethods, op.PaymentMethod) {
			continue
		}
		if !inRange(op.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, op)
	}
	return truncate(out, store.ClampLimit(filter.Limit, 1000, 5000)), nil
}

func (s *Store) SumCashOperations(_ context.Context, shiftID string) ([]domain.CashOperationTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type groupKey struct {
		opType domain.OperationType
		method domain.PaymentKind
		origin domain.OperationOrigin
	}
	index := make(map[groupKey]int)
	out := make([]domain.CashOperationTotal, 0, 8)
	for _, op := range s.st.cashOperations {
		if op.ShiftID != shiftID {
			continue
		}
		k := groupKey{op.OperationType, op.PaymentMethod, op.Origin}
		at, ok := index[k]
		if !ok {
			at = len(out)
			index[k] = at
			out = append(out, domain.CashOperationTotal{OperationType: k.opType, PaymentMethod: k.method, Origin: k.origin, Amount: decimal.Zero})
		}
		out[at].Count++
		out[at].Amount = out[at].Amount.Add(op.Amount)
	}
	return out, nil
}

func (s *Store) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pm, ok := s.st.paymentMethods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pm, nil
}

func (s *Store) ListPaymentMethods(_ context.Context, registerID string) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shopID := ""
	if registerID != "" {
		reg, ok := s.st.registers[registerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		shopID = reg.ShopID
	}

	out := make([]domain.PaymentMethod, 0, len(s.st.paymentMethods))
	for _, id := range sortedKeys(s.st.paymentMethods) {
		pm := s.st.paymentMethods[id]
		if registerID != "" && pm.RegisterID != registerID && !(pm.RegisterID == "" && pm.ShopID == shopID) {
			continue
		}
		out = append(out, pm)
	}
	return out, nil
}

func (s *Store) ListPaymentTransactions(_ context.Context, paymentMethodID string, filter domain.PaymentTxFilter) ([]domain.PaymentMethodTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.st.paymentMethods[paymentMethodID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.PaymentMethodTransaction, 0, 32)
	for i := len(s.st.paymentTxs) - 1; i >= 0; i-- {
		entry := s.st.paymentTxs[i]
		if entry.PaymentMethodID != paymentMethodID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, entry.TransactionType) {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, entry)
	}
	return truncate(out, store.ClampLimit(filter.Limit, 200, 2000)), nil
}

func (s *Store) ListPaymentsByReference(_ context.Context, referenceType string, referenceID string) ([]domain.PaymentMethodTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PaymentMethodTransaction, 0, 4)
	for _, entry := range s.st.paymentTxs {
		if entry.ReferenceType == referenceType && entry.ReferenceID == referenceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) GetWarehouseProduct(_ context.Context, id string) (*domain.WarehouseProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListInventoryTransactions(_ context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryTransaction, 0, 32)
	for _, entry := range s.st.inventoryTxs {
		if filter.WarehouseProductID != "" && entry.WarehouseProductID != filter.WarehouseProductID {
			continue
		}
		if filter.WarehouseID != "" && entry.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.PurchaseID != "" && entry.PurchaseID != filter.PurchaseID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, entry.Type) {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, entry)
	}
	return truncate(out, store.ClampLimit(filter.Limit, 500, 5000)), nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Items = slices.Clone(p.Items)
	return &p, nil
}

func (s *Store) ListPurchases(_ context.Context, warehouseID string, includeInactive bool, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Purchase, 0, 16)
	for _, p := range s.st.purchases {
		if warehouseID != "" && p.WarehouseID != warehouseID {
			continue
		}
		if !includeInactive && !p.IsActive {
			continue
		}
		p.Items = slices.Clone(p.Items)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, store.ClampLimit(limit, 50, 500)), nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PriceHistory, 0, 8)
	for i := len(s.st.priceHistory) - 1; i >= 0; i-- {
		if s.st.priceHistory[i].WarehouseProductID == productID {
			out = append(out, s.st.priceHistory[i])
		}
	}
	return truncate(out, store.ClampLimit(limit, 50, 500)), nil
}

func (s *Store) AddCashierDailyStats(_ context.Context, delta domain.CashierDailyStats) error {
	if strings.TrimSpace(delta.CashierID) == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	day := store.DayUTC(delta.Date)
	key := dailyKey(delta.CashierID, day)
	current, ok := s.st.dailyStats[key]
	if !ok {
		current = domain.CashierDailyStats{CashierID: delta.CashierID, Date: day, SalesTotal: decimal.Zero}
	}
	current.SalesTotal = current.SalesTotal.Add(delta.SalesTotal)
	current.TransactionCount += delta.TransactionCount
	current.WorkedMinutes += delta.WorkedMinutes
	current.ShiftsClosed += delta.ShiftsClosed
	current.UpdatedAt = time.Now().UTC()
	s.st.dailyStats[key] = current
	return nil
}

func (s *Store) GetCashierDailyStats(_ context.Context, cashierID string, date time.Time) (*domain.CashierDailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.st.dailyStats[dailyKey(cashierID, store.DayUTC(date))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &stats, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.auditLogs = append(s.st.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, 32)
	for i := len(s.st.auditLogs) - 1; i >= 0; i-- {
		entry := s.st.auditLogs[i]
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		out = append(out, entry)
	}
	return truncate(out, store.ClampLimit(limit, 200, 1000)), nil
}

func dailyKey(cashierID string, day time.Time) string {
	return cashierID + "|" + day.Format("2006-01-02")
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func truncate[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RegisterStatus string

type ShiftStatus string

type OperationType string

type PaymentKind string

type OperationOrigin string

type PaymentMethodSource string

type PaymentMethodStatus string

type PaymentTransactionType string

type InventoryTransactionType string

type DebtDirection string

type CashRegister struct {
	ID          string         `json:"id"`
	ShopID      string         `json:"shop_id"`
	WarehouseID string         `json:"warehouse_id"`
	Name        string         `json:"name"`
	Status      RegisterStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

type CashShift struct {
	ID            string           `json:"id"`
	RegisterID    string           `json:"register_id"`
	CashierID     string           `json:"cashier_id"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       *time.Time       `json:"end_time,omitempty"`
	InitialAmount decimal.Decimal  `json:"initial_amount"`
	FinalAmount   *decimal.Decimal `json:"final_amount,omitempty"`
	CurrentAmount decimal.Decimal  `json:"current_amount"`
	CashBreakdown map[string]int   `json:"cash_breakdown,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	Status        ShiftStatus      `json:"status"`
}

// CashOperation is append-only; nothing updates a row once written.
type CashOperation struct {
	ID                         string          `json:"id"`
	ShiftID                    string          `json:"shift_id"`
	RegisterID                 string          `json:"register_id"`
	CashierID                  string          `json:"cashier_id"`
	OperationType              OperationType   `json:"operation_type"`
	Amount                     decimal.Decimal `json:"amount"`
	PaymentMethod              PaymentKind     `json:"payment_method"`
	OrderID                    string          `json:"order_id,omitempty"`
	Description                string          `json:"description,omitempty"`
	Origin                     OperationOrigin `json:"origin"`
	PaymentMethodTransactionID string          `json:"payment_method_transaction_id,omitempty"`
	CreatedAt                  time.Time       `json:"created_at"`
}

// CashOperationTotal is one (type, payment method, origin) group of a
// shift's ledger.
type CashOperationTotal struct {
	OperationType OperationType   `json:"operation_type"`
	PaymentMethod PaymentKind     `json:"payment_method"`
	Origin        OperationOrigin `json:"origin"`
	Count         int             `json:"count"`
	Amount        decimal.Decimal `json:"amount"`
}

type PaymentMethod struct {
	ID             string              `json:"id"`
	RegisterID     string              `json:"register_id,omitempty"`
	ShopID         string              `json:"shop_id"`
	Name           string              `json:"name"`
	Kind           PaymentKind         `json:"kind"`
	Source         PaymentMethodSource `json:"source"`
	Status         PaymentMethodStatus `json:"status"`
	CurrentBalance decimal.Decimal     `json:"current_balance"`
	CreatedAt      time.Time           `json:"created_at"`
}

type PaymentMethodTransaction struct {
	ID              string                 `json:"id"`
	PaymentMethodID string                 `json:"payment_method_id"`
	ShiftID         string                 `json:"shift_id,omitempty"`
	Amount          decimal.Decimal        `json:"amount"`
	BalanceBefore   decimal.Decimal        `json:"balance_before"`
	BalanceAfter    decimal.Decimal        `json:"balance_after"`
	TransactionType PaymentTransactionType `json:"transaction_type"`
	ReferenceType   string                 `json:"reference_type,omitempty"`
	ReferenceID     string                 `json:"reference_id,omitempty"`
	Note            string                 `json:"note,omitempty"`
	CreatedBy       string                 `json:"created_by,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`

	// Set only on purchase payments when listing.
	RemainingBefore *decimal.Decimal `json:"remaining_before,omitempty"`
	RemainingAfter  *decimal.Decimal `json:"remaining_after,omitempty"`
}

type Warehouse struct {
	ID     string `json:"id"`
	ShopID string `json:"shop_id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type WarehouseProduct struct {
	ID            string          `json:"id"`
	WarehouseID   string          `json:"warehouse_id"`
	Name          string          `json:"name"`
	Barcode       string          `json:"barcode,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	MinQuantity   decimal.Decimal `json:"min_quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	IsActive      bool            `json:"is_active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type InventoryTransaction struct {
	ID                 string                   `json:"id"`
	WarehouseProductID string                   `json:"warehouse_product_id"`
	WarehouseID        string                   `json:"warehouse_id"`
	Type               InventoryTransactionType `json:"type"`
	Quantity           decimal.Decimal          `json:"quantity"`
	QuantityBefore     decimal.Decimal          `json:"quantity_before"`
	QuantityAfter      decimal.Decimal          `json:"quantity_after"`
	Delta              decimal.Decimal          `json:"delta"`
	Price              decimal.Decimal          `json:"price"`
	PurchaseID         string                   `json:"purchase_id,omitempty"`
	TargetWarehouseID  string                   `json:"target_warehouse_id,omitempty"`
	Metadata           map[string]any           `json:"metadata,omitempty"`
	CreatedBy          string                   `json:"created_by,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
}

type Supplier struct {
	ID          string `json:"id"`
	WarehouseID string `json:"warehouse_id"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
}

type Purchase struct {
	ID              string          `json:"id"`
	WarehouseID     string          `json:"warehouse_id"`
	SupplierID      string          `json:"supplier_id,omitempty"`
	Date            time.Time       `json:"date"`
	Comment         string          `json:"comment,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	TotalItems      decimal.Decimal `json:"total_items"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []PurchaseItem  `json:"items"`
}

type PurchaseItem struct {
	ID                     string          `json:"id"`
	PurchaseID             string          `json:"purchase_id"`
	ProductID              string          `json:"product_id"`
	Quantity               decimal.Decimal `json:"quantity"`
	Price                  decimal.Decimal `json:"price"`
	Total                  decimal.Decimal `json:"total"`
	Comment                string          `json:"comment,omitempty"`
	SerialNumber           string          `json:"serial_number,omitempty"`
	ExpiryDate             *time.Time      `json:"expiry_date,omitempty"`
	InventoryTransactionID string          `json:"inventory_transaction_id,omitempty"`
}

type PriceHistory struct {
	ID                 string          `json:"id"`
	WarehouseProductID string          `json:"warehouse_product_id"`
	OldPrice           decimal.Decimal `json:"old_price"`
	NewPrice           decimal.Decimal `json:"new_price"`
	PriceType          string          `json:"price_type"`
	PurchaseID         string          `json:"purchase_id,omitempty"`
	ChangedBy          string          `json:"changed_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

type CashierDailyStats struct {
	CashierID        string          `json:"cashier_id"`
	Date             time.Time       `json:"date"`
	SalesTotal       decimal.Decimal `json:"sales_total"`
	TransactionCount int             `json:"transaction_count"`
	WorkedMinutes    int             `json:"worked_minutes"`
	ShiftsClosed     int             `json:"shifts_closed"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

const (
	RegisterStatusActive      RegisterStatus = "ACTIVE"
	RegisterStatusInactive    RegisterStatus = "INACTIVE"
	RegisterStatusMaintenance RegisterStatus = "MAINTENANCE"

	ShiftStatusOpen        ShiftStatus = "OPEN"
	ShiftStatusClosed      ShiftStatus = "CLOSED"
	ShiftStatusInterrupted ShiftStatus = "INTERRUPTED"

	OperationSale                 OperationType = "SALE"
	OperationReturn               OperationType = "RETURN"
	OperationDeposit              OperationType = "DEPOSIT"
	OperationWithdrawal           OperationType = "WITHDRAWAL"
	OperationService              OperationType = "SERVICE"
	OperationTransferIn           OperationType = "TRANSFER_IN"
	OperationTransferOut          OperationType = "TRANSFER_OUT"
	OperationReturnWithoutReceipt OperationType = "RETURN_WITHOUT_RECEIPT"

	PaymentCash   PaymentKind = "CASH"
	PaymentCard   PaymentKind = "CARD"
	PaymentQR     PaymentKind = "QR"
	PaymentCustom PaymentKind = "CUSTOM"

	OriginManual          OperationOrigin = "MANUAL"
	OriginShiftOpen       OperationOrigin = "SHIFT_OPEN"
	OriginCloseCorrection OperationOrigin = "SHIFT_CLOSE_CORRECTION"

	PaymentSourceSystem PaymentMethodSource = "SYSTEM"
	PaymentSourceCustom PaymentMethodSource = "CUSTOM"

	PaymentMethodActive   PaymentMethodStatus = "ACTIVE"
	PaymentMethodInactive PaymentMethodStatus = "INACTIVE"

	PaymentTxSale                 PaymentTransactionType = "SALE"
	PaymentTxRefund               PaymentTransactionType = "REFUND"
	PaymentTxDeposit              PaymentTransactionType = "DEPOSIT"
	PaymentTxWithdrawal           PaymentTransactionType = "WITHDRAWAL"
	PaymentTxPurchase             PaymentTransactionType = "PURCHASE"
	PaymentTxAdjustment           PaymentTransactionType = "ADJUSTMENT"
	PaymentTxReturnWithoutReceipt PaymentTransactionType = "RETURN_WITHOUT_RECEIPT"

	InventoryPurchase   InventoryTransactionType = "PURCHASE"
	InventorySale       InventoryTransactionType = "SALE"
	InventoryAdjustment InventoryTransactionType = "ADJUSTMENT"
	InventoryWriteOff   InventoryTransactionType = "WRITE_OFF"
	InventoryTransfer   InventoryTransactionType = "TRANSFER"
	InventoryReturn     InventoryTransactionType = "RETURN"

	DebtIncoming DebtDirection = "INCOMING"
	DebtOutgoing DebtDirection = "OUTGOING"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationSale, OperationReturn, OperationDeposit, OperationWithdrawal,
		OperationService, OperationTransferIn, OperationTransferOut, OperationReturnWithoutReceipt:
		return true
	}
	return false
}

// CashSign is +1 for operations that bring cash into the drawer and -1 for
// those that take it out.
func (t OperationType) CashSign() int {
	switch t {
	case OperationDeposit, OperationSale, OperationService, OperationTransferIn:
		return 1
	case OperationWithdrawal, OperationReturn, OperationTransferOut, OperationReturnWithoutReceipt:
		return -1
	}
	return 0
}

// Kinds accepted on a cash operation. CUSTOM only exists on payment methods.
func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentCash, PaymentCard, PaymentQR:
		return true
	}
	return false
}

func (s RegisterStatus) Valid() bool {
	switch s {
	case RegisterStatusActive, RegisterStatusInactive, RegisterStatusMaintenance:
		return true
	}
	return false
}

func (t PaymentTransactionType) Valid() bool {
	switch t {
	case PaymentTxSale, PaymentTxRefund, PaymentTxDeposit, PaymentTxWithdrawal,
		PaymentTxPurchase, PaymentTxAdjustment, PaymentTxReturnWithoutReceipt:
		return true
	}
	return false
}

func (t InventoryTransactionType) Valid() bool {
	switch t {
	case InventoryPurchase, InventorySale, InventoryAdjustment,
		InventoryWriteOff, InventoryTransfer, InventoryReturn:
		return true
	}
	return false
}

// Decreasing reports whether the type removes stock and therefore needs a
// sufficiency check.
func (t InventoryTransactionType) Decreasing() bool {
	return t == InventorySale || t == InventoryWriteOff || t == InventoryTransfer
}

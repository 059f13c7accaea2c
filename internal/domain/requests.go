package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type ShiftOpenRequest struct {
	RegisterID    string          `json:"register_id" validate:"required"`
	CashierID     string          `json:"cashier_id"`
	InitialAmount decimal.Decimal `json:"initial_amount"`
	Notes         string          `json:"notes" validate:"max=500"`
}

type ShiftCloseRequest struct {
	ShiftID       string          `json:"shift_id" validate:"required"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
	CashBreakdown map[string]int  `json:"cash_breakdown"`
	Notes         string          `json:"notes" validate:"max=500"`
}

type ShiftInterruptRequest struct {
	ShiftID string `json:"shift_id" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=500"`
}

type ShiftCloseResult struct {
	Shift      CashShift      `json:"shift"`
	Correction *CashOperation `json:"correction,omitempty"`
	Summary    ShiftSummary   `json:"summary"`
}

type ShiftFilter struct {
	RegisterID string
	CashierID  string
	Status     ShiftStatus
	From       time.Time
	To         time.Time
	Limit      int
}

type CashOperationRequest struct {
	ShiftID       string          `json:"shift_id" validate:"required"`
	RegisterID    string          `json:"register_id" validate:"required"`
	Type          OperationType   `json:"operation_type" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentKind     `json:"payment_method" validate:"required"`
	OrderID       string          `json:"order_id"`
	Description   string          `json:"description" validate:"max=500"`
	ManagerPIN    string          `json:"manager_pin,omitempty"`
}

type CashOperationFilter struct {
	ShiftID        string
	RegisterID     string
	From           time.Time
	To             time.Time
	Types          []OperationType
	PaymentMethods []PaymentKind
	Limit          int
}

type PaymentMethodCreateRequest struct {
	RegisterID string              `json:"register_id"`
	ShopID     string              `json:"shop_id" validate:"required"`
	Name       string              `json:"name" validate:"required,max=120"`
	Kind       PaymentKind         `json:"kind" validate:"required"`
	Source     PaymentMethodSource `json:"source"`
}

type PaymentPostRequest struct {
	PaymentMethodID string                 `json:"payment_method_id"`
	ShiftID         string                 `json:"shift_id"`
	Amount          decimal.Decimal        `json:"amount"`
	Type            PaymentTransactionType `json:"transaction_type"`
	ReferenceType   string                 `json:"reference_type"`
	ReferenceID     string                 `json:"reference_id"`
	Note            string                 `json:"note"`
}

type PaymentAmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Note        string          `json:"note" validate:"max=500"`
	ReferenceID string          `json:"reference_id"`
	ManagerPIN  string          `json:"manager_pin,omitempty"`
}

type DebtPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Direction DebtDirection   `json:"direction" validate:"required,oneof=INCOMING OUTGOING"`
	DebtID    string          `json:"debt_id" validate:"required"`
	Note      string          `json:"note" validate:"max=500"`
}

type PaymentTxFilter struct {
	From  time.Time
	To    time.Time
	Types []PaymentTransactionType
	Limit int
}

type InventoryRequest struct {
	WarehouseProductID string                   `json:"warehouse_product_id" validate:"required"`
	Type               InventoryTransactionType `json:"type" validate:"required"`
	Quantity           decimal.Decimal          `json:"quantity"`
	Price              decimal.Decimal          `json:"price"`
	PurchaseID         string                   `json:"purchase_id"`
	TargetWarehouseID  string                   `json:"target_warehouse_id"`
	Metadata           map[string]any           `json:"metadata"`
}

type InventoryAdjustRequest struct {
	WarehouseProductID string           `json:"warehouse_product_id" validate:"required"`
	Delta              *decimal.Decimal `json:"delta,omitempty"`
	Target             *decimal.Decimal `json:"target,omitempty"`
	Reason             string           `json:"reason" validate:"max=500"`
}

type InventoryFilter struct {
	WarehouseProductID string
	WarehouseID        string
	PurchaseID         string
	Types              []InventoryTransactionType
	From               time.Time
	To                 time.Time
	Limit              int
}

type PurchaseRequest struct {
	WarehouseID          string                `json:"warehouse_id" validate:"required"`
	SupplierID           string                `json:"supplier_id"`
	Date                 *time.Time            `json:"date,omitempty"`
	Comment              string                `json:"comment" validate:"max=1000"`
	Items                []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
	UpdatePurchasePrices bool                  `json:"update_purchase_prices"`
	PaymentMethodID      string                `json:"payment_method_id"`
}

type PurchaseItemRequest struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Comment      string          `json:"comment"`
	SerialNumber string          `json:"serial_number"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

type SummaryOptions struct {
	// Nil falls back to the service default.
	IncludeOpeningDeposit *bool
}

type ShiftSummary struct {
	ShiftID               string                        `json:"shift_id"`
	Status                ShiftStatus                   `json:"status"`
	InitialAmount         decimal.Decimal               `json:"initial_amount"`
	CurrentAmount         decimal.Decimal               `json:"current_amount"`
	FinalAmount           *decimal.Decimal              `json:"final_amount,omitempty"`
	CashIncome            decimal.Decimal               `json:"cash_income"`
	CashExpense           decimal.Decimal               `json:"cash_expense"`
	SalesTotal            decimal.Decimal               `json:"sales_total"`
	ReturnsTotal          decimal.Decimal               `json:"returns_total"`
	CorrectionTotal       decimal.Decimal               `json:"correction_total"`
	Discrepancy           decimal.Decimal               `json:"discrepancy"`
	TotalsByPaymentMethod map[PaymentKind]decimal.Decimal `json:"totals_by_payment_method"`
	CountsByType          map[OperationType]int         `json:"counts_by_type"`
	TransactionCount      int                           `json:"transaction_count"`
	OpeningDepositCounted bool                          `json:"opening_deposit_counted"`
}

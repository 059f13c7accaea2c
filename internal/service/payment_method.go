package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type paymentPosting struct {
	PaymentMethodID string
	ShiftID         string
	Amount          decimal.Decimal
	Type            domain.PaymentTransactionType
	ReferenceType   string
	ReferenceID     string
	Note            string
	CreatedBy       string
	// RequireFunds rejects postings that would take the balance below zero.
	RequireFunds bool
}

// postPayment is the locked read-modify-write at the heart of the payment
// ledger: lock the method, snapshot before/after and write both in one step.
func (s *Service) postPayment(ctx context.Context, tx store.Tx, in paymentPosting) (domain.PaymentMethodTransaction, error) {
	pm, err := tx.GetPaymentMethodForUpdate(ctx, in.PaymentMethodID)
	if err != nil {
		return domain.PaymentMethodTransaction{}, notFound(err, "payment method", in.PaymentMethodID)
	}
	if pm.Status != domain.PaymentMethodActive {
		return domain.PaymentMethodTransaction{}, fmt.Errorf("%w: payment method %s is %s",
			store.ErrInvalidState, pm.ID, pm.Status)
	}
	after := pm.CurrentBalance.Add(in.Amount)
	if in.RequireFunds && in.Amount.IsNegative() && after.IsNegative() {
		return domain.PaymentMethodTransaction{}, fmt.Errorf("%w: %s holds %s, posting needs %s",
			store.ErrInsufficientFunds, pm.Name, pm.CurrentBalance, in.Amount.Abs())
	}

	entry := domain.PaymentMethodTransaction{
		ID:              xid.New("pmt"),
		PaymentMethodID: pm.ID,
		ShiftID:         in.ShiftID,
		Amount:          in.Amount,
		BalanceBefore:   pm.CurrentBalance,
		BalanceAfter:    after,
		TransactionType: in.Type,
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		Note:            in.Note,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       s.now(),
	}
	if err := tx.ApplyPaymentTransaction(ctx, entry); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	return entry, nil
}

func (s *Service) post(ctx context.Context, in paymentPosting) (entry domain.PaymentMethodTransaction, err error) {
	ctx, span := s.startSpan(ctx, "PostPayment",
		attribute.String("payment_method_id", in.PaymentMethodID),
		attribute.String("transaction_type", string(in.Type)),
	)
	defer func() { endSpan(span, err) }()

	if err := checkPlaces("amount", in.Amount, moneyPlaces); err != nil {
		return entry, err
	}
	if in.CreatedBy == "" {
		in.CreatedBy = actorOrSystem(ctx).Username
	}
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err = s.postPayment(ctx, tx, in)
		return err
	})
	if err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	s.metrics.PaymentTransaction(string(entry.TransactionType))
	return entry, nil
}

// PostPaymentTransaction is the raw ledger entry point. Amount is signed and
// no sufficiency check is made.
func (s *Service) PostPaymentTransaction(ctx context.Context, req domain.PaymentPostRequest) (domain.PaymentMethodTransaction, error) {
	if !req.Type.Valid() {
		return domain.PaymentMethodTransaction{}, validationErr("unknown transaction_type %q", req.Type)
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return domain.PaymentMethodTransaction{}, validationErr("payment_method_id is required")
	}
	return s.post(ctx, paymentPosting{
		PaymentMethodID: req.PaymentMethodID,
		ShiftID:         req.ShiftID,
		Amount:          req.Amount,
		Type:            req.Type,
		ReferenceType:   strings.TrimSpace(req.ReferenceType),
		ReferenceID:     strings.TrimSpace(req.ReferenceID),
		Note:            strings.TrimSpace(req.Note),
	})
}

func positiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationErr("amount must be greater than zero")
	}
	return nil
}

func (s *Service) Deposit(ctx context.Context, paymentMethodID string, req domain.PaymentAmountRequest) (domain.PaymentMethodTransaction, error) {
	if err := positiveAmount(req.Amount); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	return s.post(ctx, paymentPosting{
		PaymentMethodID: paymentMethodID,
		Amount:          req.Amount,
		Type:            domain.PaymentTxDeposit,
		ReferenceType:   referenceTypeIf(req.ReferenceID, "manual"),
		ReferenceID:     req.ReferenceID,
		Note:            strings.TrimSpace(req.Note),
	})
}

func (s *Service) Withdraw(ctx context.Context, paymentMethodID string, req domain.PaymentAmountRequest) (domain.PaymentMethodTransaction, error) {
	if err := positiveAmount(req.Amount); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	entry, err := s.post(ctx, paymentPosting{
		PaymentMethodID: paymentMethodID,
		Amount:          req.Amount.Neg(),
		Type:            domain.PaymentTxWithdrawal,
		ReferenceType:   referenceTypeIf(req.ReferenceID, "manual"),
		ReferenceID:     req.ReferenceID,
		Note:            strings.TrimSpace(req.Note),
		RequireFunds:    true,
	})
	if err == nil {
		s.logAudit(ctx, "PAYMENT_WITHDRAWAL", "payment_method", paymentMethodID, req.Amount.String())
	}
	return entry, err
}

func (s *Service) RecordSalePayment(ctx context.Context, paymentMethodID string, amount decimal.Decimal, saleID string) (domain.PaymentMethodTransaction, error) {
	if err := positiveAmount(amount); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	return s.post(ctx, paymentPosting{
		PaymentMethodID: paymentMethodID,
		Amount:          amount,
		Type:            domain.PaymentTxSale,
		ReferenceType:   "sale",
		ReferenceID:     saleID,
	})
}

func (s *Service) RecordRefund(ctx context.Context, paymentMethodID string, amount decimal.Decimal, saleID string) (domain.PaymentMethodTransaction, error) {
	if err := positiveAmount(amount); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	return s.post(ctx, paymentPosting{
		PaymentMethodID: paymentMethodID,
		Amount:          amount.Neg(),
		Type:            domain.PaymentTxRefund,
		ReferenceType:   "sale",
		ReferenceID:     saleID,
	})
}

func (s *Service) RecordPurchasePayment(ctx context.Context, paymentMethodID string, amount decimal.Decimal, purchaseID string) (domain.PaymentMethodTransaction, error) {
	if err := positiveAmount(amount); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	return s.post(ctx, purchasePosting(paymentMethodID, amount, purchaseID, ""))
}

func purchasePosting(paymentMethodID string, amount decimal.Decimal, purchaseID string, createdBy string) paymentPosting {
	return paymentPosting{
		PaymentMethodID: paymentMethodID,
		Amount:          amount.Neg(),
		Type:            domain.PaymentTxPurchase,
		ReferenceType:   "purchase",
		ReferenceID:     purchaseID,
		CreatedBy:       createdBy,
		RequireFunds:    true,
	}
}

// RecordDebtPayment posts a debt settlement as an ADJUSTMENT. Money received
// from a debtor raises the balance; paying a creditor lowers it.
func (s *Service) RecordDebtPayment(ctx context.Context, paymentMethodID string, req domain.DebtPaymentRequest) (domain.PaymentMethodTransaction, error) {
	if err := positiveAmount(req.Amount); err != nil {
		return domain.PaymentMethodTransaction{}, err
	}
	amount := req.Amount
	switch req.Direction {
	case domain.DebtIncoming:
	case domain.DebtOutgoing:
		amount = amount.Neg()
	default:
		return domain.PaymentMethodTransaction{}, validationErr("direction must be INCOMING or OUTGOING")
	}
	if strings.TrimSpace(req.DebtID) == "" {
		return domain.PaymentMethodTransaction{}, validationErr("debt_id is required")
	}
	return s.post(ctx, paymentPosting{
		PaymentMethodID: paymentMethodID,
		Amount:          amount,
		Type:            domain.PaymentTxAdjustment,
		ReferenceType:   "debt",
		ReferenceID:     req.DebtID,
		Note:            strings.TrimSpace(req.Note),
	})
}

// ListPaymentTransactions returns postings newest first. Purchase payments
// carry the purchase's outstanding amount before and after each payment.
func (s *Service) ListPaymentTransactions(ctx context.Context, paymentMethodID string, filter domain.PaymentTxFilter) ([]domain.PaymentMethodTransaction, error) {
	entries, err := s.repo.ListPaymentTransactions(ctx, paymentMethodID, filter)
	if err != nil {
		return nil, notFound(err, "payment method", paymentMethodID)
	}

	remaining := map[string][2]decimal.Decimal{}
	seen := map[string]bool{}
	for _, entry := range entries {
		if entry.TransactionType != domain.PaymentTxPurchase || entry.ReferenceType != "purchase" || entry.ReferenceID == "" {
			continue
		}
		if seen[entry.ReferenceID] {
			continue
		}
		seen[entry.ReferenceID] = true
		if err := s.purchaseRemaining(ctx, entry.ReferenceID, remaining); err != nil {
			s.warn("ListPaymentTransactions.remaining", err, nil)
		}
	}
	for i := range entries {
		if r, ok := remaining[entries[i].ID]; ok {
			before, after := r[0], r[1]
			entries[i].RemainingBefore = &before
			entries[i].RemainingAfter = &after
		}
	}
	return entries, nil
}

func (s *Service) purchaseRemaining(ctx context.Context, purchaseID string, into map[string][2]decimal.Decimal) error {
	purchase, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	payments, err := s.repo.ListPaymentsByReference(ctx, "purchase", purchaseID)
	if err != nil {
		return err
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})
	left := purchase.TotalAmount
	for _, p := range payments {
		if p.TransactionType != domain.PaymentTxPurchase {
			continue
		}
		before := left
		left = left.Sub(p.Amount.Abs())
		into[p.ID] = [2]decimal.Decimal{before, left}
	}
	return nil
}

func (s *Service) CreatePaymentMethod(ctx context.Context, req domain.PaymentMethodCreateRequest) (pm domain.PaymentMethod, err error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return pm, validationErr("name is required")
	}
	switch req.Kind {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQR, domain.PaymentCustom:
	default:
		return pm, validationErr("unknown kind %q", req.Kind)
	}
	switch req.Source {
	case "":
		req.Source = domain.PaymentSourceCustom
	case domain.PaymentSourceSystem, domain.PaymentSourceCustom:
	default:
		return pm, validationErr("unknown source %q", req.Source)
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shopID := strings.TrimSpace(req.ShopID)
		if req.RegisterID != "" {
			reg, err := tx.GetRegister(ctx, req.RegisterID)
			if err != nil {
				return notFound(err, "register", req.RegisterID)
			}
			if shopID != "" && shopID != reg.ShopID {
				return validationErr("register %s belongs to shop %s", reg.ID, reg.ShopID)
			}
			shopID = reg.ShopID
		}
		if shopID == "" {
			return validationErr("shop_id is required")
		}
		pm = domain.PaymentMethod{
			ID:             xid.New("pm"),
			RegisterID:     req.RegisterID,
			ShopID:         shopID,
			Name:           req.Name,
			Kind:           req.Kind,
			Source:         req.Source,
			Status:         domain.PaymentMethodActive,
			CurrentBalance: decimal.Zero,
			CreatedAt:      s.now(),
		}
		return tx.CreatePaymentMethod(ctx, pm)
	})
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	s.logAudit(ctx, "PAYMENT_METHOD_CREATE", "payment_method", pm.ID, pm.Name)
	return pm, nil
}

// SetPaymentMethodStatus toggles a method. Inactive methods reject postings
// and are skipped when mirroring cash operations.
func (s *Service) SetPaymentMethodStatus(ctx context.Context, id string, status domain.PaymentMethodStatus) (pm domain.PaymentMethod, err error) {
	if status != domain.PaymentMethodActive && status != domain.PaymentMethodInactive {
		return pm, validationErr("unknown status %q", status)
	}
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetPaymentMethodForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "payment method", id)
		}
		if err := tx.UpdatePaymentMethodStatus(ctx, id, status); err != nil {
			return err
		}
		current.Status = status
		pm = *current
		return nil
	})
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	s.logAudit(ctx, "PAYMENT_METHOD_STATUS", "payment_method", id, string(status))
	return pm, nil
}

func (s *Service) GetPaymentMethod(ctx context.Context, id string) (domain.PaymentMethod, error) {
	pm, err := s.repo.GetPaymentMethod(ctx, id)
	if err != nil {
		return domain.PaymentMethod{}, notFound(err, "payment method", id)
	}
	return *pm, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, registerID string) ([]domain.PaymentMethod, error) {
	methods, err := s.repo.ListPaymentMethods(ctx, registerID)
	if err != nil {
		return nil, notFound(err, "register", registerID)
	}
	return methods, nil
}

func referenceTypeIf(referenceID string, referenceType string) string {
	if strings.TrimSpace(referenceID) == "" {
		return ""
	}
	return referenceType
}

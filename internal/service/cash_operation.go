package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/notify"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type cashEntry struct {
	Type          domain.OperationType
	Amount        decimal.Decimal
	PaymentMethod domain.PaymentKind
	OrderID       string
	Description   string
	Origin        domain.OperationOrigin
}

// paymentPostingFor maps a cash operation onto the register's payment method
// ledger. The sign is applied to the operation amount.
func paymentPostingFor(t domain.OperationType) (domain.PaymentTransactionType, int) {
	switch t {
	case domain.OperationSale, domain.OperationService:
		return domain.PaymentTxSale, 1
	case domain.OperationReturn:
		return domain.PaymentTxRefund, -1
	case domain.OperationDeposit:
		return domain.PaymentTxDeposit, 1
	case domain.OperationWithdrawal:
		return domain.PaymentTxWithdrawal, -1
	case domain.OperationTransferIn:
		return domain.PaymentTxAdjustment, 1
	case domain.OperationTransferOut:
		return domain.PaymentTxAdjustment, -1
	case domain.OperationReturnWithoutReceipt:
		return domain.PaymentTxReturnWithoutReceipt, -1
	}
	return "", 0
}

// appendCashOperation writes one ledger row for an open shift and applies its
// effects. CASH rows move the drawer balance, except the opening float which
// is already part of InitialAmount. Every row except the opening float is
// mirrored onto the register's matching payment method when one exists.
func (s *Service) appendCashOperation(ctx context.Context, tx store.Tx, shift *domain.CashShift, in cashEntry) (domain.CashOperation, error) {
	actor := actorOrSystem(ctx)
	op := domain.CashOperation{
		ID:            xid.New("cop"),
		ShiftID:       shift.ID,
		RegisterID:    shift.RegisterID,
		CashierID:     shift.CashierID,
		OperationType: in.Type,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		OrderID:       in.OrderID,
		Description:   in.Description,
		Origin:        in.Origin,
		CreatedAt:     s.now(),
	}

	sign := in.Type.CashSign()
	if in.PaymentMethod == domain.PaymentCash && in.Origin != domain.OriginShiftOpen {
		delta := signed(in.Amount, sign)
		if sign < 0 && in.Origin != domain.OriginCloseCorrection && shift.CurrentAmount.Add(delta).IsNegative() {
			return domain.CashOperation{}, fmt.Errorf("%w: drawer holds %s, operation needs %s",
				store.ErrInsufficientFunds, shift.CurrentAmount, in.Amount)
		}
		next, err := tx.AddShiftAmount(ctx, shift.ID, delta)
		if err != nil {
			return domain.CashOperation{}, err
		}
		shift.CurrentAmount = next
	}

	if in.Origin != domain.OriginShiftOpen {
		pm, err := tx.FindRegisterPaymentMethod(ctx, shift.RegisterID, in.PaymentMethod)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return domain.CashOperation{}, err
		default:
			txType, pmSign := paymentPostingFor(in.Type)
			entry, err := s.postPayment(ctx, tx, paymentPosting{
				PaymentMethodID: pm.ID,
				ShiftID:         shift.ID,
				Amount:          signed(in.Amount, pmSign),
				Type:            txType,
				ReferenceType:   "cash_operation",
				ReferenceID:     op.ID,
				Note:            in.Description,
				CreatedBy:       actor.Username,
			})
			if err != nil {
				return domain.CashOperation{}, err
			}
			op.PaymentMethodTransactionID = entry.ID
		}
	}

	if err := tx.InsertCashOperation(ctx, op); err != nil {
		return domain.CashOperation{}, err
	}
	return op, nil
}

// RecordCashOperation appends a manual operation to an open shift.
func (s *Service) RecordCashOperation(ctx context.Context, req domain.CashOperationRequest) (op domain.CashOperation, err error) {
	ctx, span := s.startSpan(ctx, "RecordCashOperation",
		attribute.String("shift_id", req.ShiftID),
		attribute.String("operation_type", string(req.Type)),
	)
	defer func() { endSpan(span, err) }()

	if !req.Type.Valid() {
		return op, validationErr("unknown operation_type %q", req.Type)
	}
	if !req.PaymentMethod.Valid() {
		return op, validationErr("unknown payment_method %q", req.PaymentMethod)
	}
	if req.Amount.IsNegative() {
		return op, validationErr("amount must not be negative")
	}
	if err := checkPlaces("amount", req.Amount, moneyPlaces); err != nil {
		return op, err
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shift, err := tx.GetShiftForUpdate(ctx, req.ShiftID)
		if err != nil {
			return notFound(err, "shift", req.ShiftID)
		}
		if shift.Status != domain.ShiftStatusOpen {
			return fmt.Errorf("%w: shift %s is %s", store.ErrInvalidState, shift.ID, shift.Status)
		}
		if req.RegisterID != "" && req.RegisterID != shift.RegisterID {
			return validationErr("shift %s belongs to register %s", shift.ID, shift.RegisterID)
		}
		op, err = s.appendCashOperation(ctx, tx, shift, cashEntry{
			Type:          req.Type,
			Amount:        req.Amount,
			PaymentMethod: req.PaymentMethod,
			OrderID:       strings.TrimSpace(req.OrderID),
			Description:   strings.TrimSpace(req.Description),
			Origin:        domain.OriginManual,
		})
		return err
	})
	if err != nil {
		return domain.CashOperation{}, err
	}

	s.metrics.CashOperation(string(op.OperationType), string(op.PaymentMethod))
	if op.OperationType == domain.OperationService && op.OrderID != "" {
		s.afterCommit(ctx, "service_completed", func(ctx context.Context) error {
			return s.notifier.ServiceCompleted(ctx, notify.ServiceEvent{
				CashOperationID: op.ID,
				RegisterID:      op.RegisterID,
				ShiftID:         op.ShiftID,
				OrderID:         op.OrderID,
				Amount:          op.Amount,
				PaymentMethod:   op.PaymentMethod,
				At:              op.CreatedAt,
			})
		})
	}
	if op.OperationType.CashSign() < 0 {
		s.logAudit(ctx, "CASH_"+string(op.OperationType), "cash_operation", op.ID,
			fmt.Sprintf("shift=%s amount=%s method=%s", op.ShiftID, op.Amount, op.PaymentMethod))
	}
	return op, nil
}

func (s *Service) ListCashOperations(ctx context.Context, filter domain.CashOperationFilter) ([]domain.CashOperation, error) {
	return s.repo.ListCashOperations(ctx, filter)
}

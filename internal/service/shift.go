package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func registerLockKey(registerID string) string {
	return "register:" + registerID
}

// OpenShift starts a shift on an active register. The opening float becomes a
// SHIFT_OPEN deposit in the ledger so the drawer history starts from it.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (shift domain.CashShift, err error) {
	ctx, span := s.startSpan(ctx, "OpenShift", attribute.String("register_id", req.RegisterID))
	defer func() { endSpan(span, err) }()

	req.RegisterID = strings.TrimSpace(req.RegisterID)
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			req.CashierID = actor.Username
		}
	}
	if req.RegisterID == "" {
		return domain.CashShift{}, validationErr("register_id is required")
	}
	if req.CashierID == "" {
		return domain.CashShift{}, validationErr("cashier_id is required")
	}
	if req.InitialAmount.IsNegative() {
		return domain.CashShift{}, validationErr("initial_amount must not be negative")
	}
	if err := checkPlaces("initial_amount", req.InitialAmount, moneyPlaces); err != nil {
		return domain.CashShift{}, err
	}

	release, err := s.locker.Obtain(ctx, registerLockKey(req.RegisterID))
	if err != nil {
		return domain.CashShift{}, err
	}
	defer release()

	now := s.now()
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reg, err := tx.GetRegister(ctx, req.RegisterID)
		if err != nil {
			return notFound(err, "register", req.RegisterID)
		}
		if reg.Status != domain.RegisterStatusActive {
			return fmt.Errorf("%w: register %s is %s", store.ErrInvalidState, reg.ID, reg.Status)
		}

		shift = domain.CashShift{
			ID:            xid.New("shift"),
			RegisterID:    reg.ID,
			CashierID:     req.CashierID,
			StartTime:     now,
			InitialAmount: req.InitialAmount,
			CurrentAmount: req.InitialAmount,
			Notes:         strings.TrimSpace(req.Notes),
			Status:        domain.ShiftStatusOpen,
		}
		if err := tx.CreateShift(ctx, shift); err != nil {
			return err
		}
		if req.InitialAmount.IsPositive() {
			_, err := s.appendCashOperation(ctx, tx, &shift, cashEntry{
				Type:          domain.OperationDeposit,
				Amount:        req.InitialAmount,
				PaymentMethod: domain.PaymentCash,
				Description:   "opening float",
				Origin:        domain.OriginShiftOpen,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return domain.CashShift{}, err
	}

	s.metrics.ShiftEvent("opened")
	s.logAudit(ctx, "SHIFT_OPEN", "cash_shift", shift.ID,
		fmt.Sprintf("register=%s cashier=%s initial=%s", shift.RegisterID, shift.CashierID, shift.InitialAmount))
	return shift, nil
}

// CloseShift records the counted cash. Any gap between the count and the
// running balance is booked as a correction so the shift ends with
// CurrentAmount equal to FinalAmount.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (result domain.ShiftCloseResult, err error) {
	ctx, span := s.startSpan(ctx, "CloseShift", attribute.String("shift_id", req.ShiftID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.ShiftID) == "" {
		return result, validationErr("shift_id is required")
	}
	if req.FinalAmount.IsNegative() {
		return result, validationErr("final_amount must not be negative")
	}
	if err := checkPlaces("final_amount", req.FinalAmount, moneyPlaces); err != nil {
		return result, err
	}
	for denom, count := range req.CashBreakdown {
		if count < 0 {
			return result, validationErr("cash_breakdown %s has negative count", denom)
		}
	}

	current, err := s.repo.GetShift(ctx, req.ShiftID)
	if err != nil {
		return result, notFound(err, "shift", req.ShiftID)
	}
	release, err := s.locker.Obtain(ctx, registerLockKey(current.RegisterID))
	if err != nil {
		return result, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result = domain.ShiftCloseResult{}
		shift, err := tx.GetShiftForUpdate(ctx, req.ShiftID)
		if err != nil {
			return notFound(err, "shift", req.ShiftID)
		}
		if shift.Status != domain.ShiftStatusOpen {
			return fmt.Errorf("%w: shift %s is %s", store.ErrInvalidState, shift.ID, shift.Status)
		}

		discrepancy := req.FinalAmount.Sub(shift.CurrentAmount)
		if !discrepancy.IsZero() {
			opType := domain.OperationDeposit
			if discrepancy.IsNegative() {
				opType = domain.OperationWithdrawal
			}
			op, err := s.appendCashOperation(ctx, tx, shift, cashEntry{
				Type:          opType,
				Amount:        discrepancy.Abs(),
				PaymentMethod: domain.PaymentCash,
				Description:   "closing count correction",
				Origin:        domain.OriginCloseCorrection,
			})
			if err != nil {
				return err
			}
			result.Correction = &op
		}

		end := s.now()
		final := req.FinalAmount
		shift.EndTime = &end
		shift.FinalAmount = &final
		shift.CashBreakdown = req.CashBreakdown
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			shift.Notes = notes
		}
		shift.Status = domain.ShiftStatusClosed
		if err := tx.FinishShift(ctx, *shift); err != nil {
			return err
		}
		result.Shift = *shift
		return nil
	})
	if err != nil {
		return domain.ShiftCloseResult{}, err
	}

	s.metrics.ShiftEvent("closed")
	summary, err := s.buildSummary(ctx, result.Shift, s.includeOpeningDeposit)
	if err != nil {
		s.warn("CloseShift.summary", err, nil)
	} else {
		result.Summary = summary
		s.afterCommit(ctx, "cashier_daily_stats", func(ctx context.Context) error {
			return s.recordCashierStats(ctx, result.Shift, summary)
		})
	}
	detail := fmt.Sprintf("final=%s", req.FinalAmount)
	if result.Correction != nil {
		detail += fmt.Sprintf(" correction=%s %s", result.Correction.OperationType, result.Correction.Amount)
	}
	s.logAudit(ctx, "SHIFT_CLOSE", "cash_shift", result.Shift.ID, detail)
	return result, nil
}

// InterruptShift ends a shift without a count, e.g. after a crash or power
// loss. The balance is left as recorded.
func (s *Service) InterruptShift(ctx context.Context, req domain.ShiftInterruptRequest) (shift domain.CashShift, err error) {
	ctx, span := s.startSpan(ctx, "InterruptShift", attribute.String("shift_id", req.ShiftID))
	defer func() { endSpan(span, err) }()

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return shift, validationErr("reason is required")
	}
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetShiftForUpdate(ctx, req.ShiftID)
		if err != nil {
			return notFound(err, "shift", req.ShiftID)
		}
		if current.Status != domain.ShiftStatusOpen {
			return fmt.Errorf("%w: shift %s is %s", store.ErrInvalidState, current.ID, current.Status)
		}
		end := s.now()
		current.EndTime = &end
		current.Status = domain.ShiftStatusInterrupted
		current.Notes = reason
		if err := tx.FinishShift(ctx, *current); err != nil {
			return err
		}
		shift = *current
		return nil
	})
	if err != nil {
		return domain.CashShift{}, err
	}
	s.metrics.ShiftEvent("interrupted")
	s.logAudit(ctx, "SHIFT_INTERRUPT", "cash_shift", shift.ID, reason)
	return shift, nil
}

func (s *Service) GetShift(ctx context.Context, id string) (domain.CashShift, error) {
	shift, err := s.repo.GetShift(ctx, id)
	if err != nil {
		return domain.CashShift{}, notFound(err, "shift", id)
	}
	return *shift, nil
}

func (s *Service) GetActiveShift(ctx context.Context, registerID string) (domain.CashShift, error) {
	shift, err := s.repo.GetOpenShiftByRegister(ctx, registerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashShift{}, fmt.Errorf("%w: no open shift on register %s", store.ErrNotFound, registerID)
		}
		return domain.CashShift{}, err
	}
	return *shift, nil
}

func (s *Service) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.CashShift, error) {
	return s.repo.ListShifts(ctx, filter)
}

// SetRegisterStatus refuses to take a register out of service while a shift
// is open on it.
func (s *Service) SetRegisterStatus(ctx context.Context, registerID string, status domain.RegisterStatus) (reg domain.CashRegister, err error) {
	if !status.Valid() {
		return reg, validationErr("unknown register status %q", status)
	}
	release, err := s.locker.Obtain(ctx, registerLockKey(registerID))
	if err != nil {
		return reg, err
	}
	defer release()

	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetRegister(ctx, registerID)
		if err != nil {
			return notFound(err, "register", registerID)
		}
		if status != domain.RegisterStatusActive {
			busy, err := tx.HasOpenShift(ctx, registerID)
			if err != nil {
				return err
			}
			if busy {
				return fmt.Errorf("%w: register %s has an open shift", store.ErrInvalidState, registerID)
			}
		}
		if err := tx.UpdateRegisterStatus(ctx, registerID, status); err != nil {
			return err
		}
		current.Status = status
		reg = *current
		return nil
	})
	if err != nil {
		return domain.CashRegister{}, err
	}
	s.logAudit(ctx, "REGISTER_STATUS", "cash_register", registerID, string(status))
	return reg, nil
}

func (s *Service) recordCashierStats(ctx context.Context, shift domain.CashShift, summary domain.ShiftSummary) error {
	worked := 0
	if shift.EndTime != nil {
		worked = int(shift.EndTime.Sub(shift.StartTime).Minutes())
	}
	return s.repo.AddCashierDailyStats(ctx, domain.CashierDailyStats{
		CashierID:        shift.CashierID,
		Date:             shift.StartTime,
		SalesTotal:       summary.SalesTotal,
		TransactionCount: summary.TransactionCount,
		WorkedMinutes:    worked,
		ShiftsClosed:     1,
	})
}

func (s *Service) CashierDailyStats(ctx context.Context, cashierID string, date string) (domain.CashierDailyStats, error) {
	day, err := parseDay(date, s.now())
	if err != nil {
		return domain.CashierDailyStats{}, err
	}
	stats, err := s.repo.GetCashierDailyStats(ctx, cashierID, day)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashierDailyStats{CashierID: cashierID, Date: day, SalesTotal: decimal.Zero}, nil
		}
		return domain.CashierDailyStats{}, err
	}
	return *stats, nil
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

type summaryKey struct {
	ShiftID               string
	IncludeOpeningDeposit bool
}

func (k summaryKey) cacheKey() string {
	return "shift-summary:" + k.ShiftID + ":" + strconv.FormatBool(k.IncludeOpeningDeposit)
}

// ShiftSummary aggregates a shift's ledger. Open shifts are always computed
// live; finished shifts cannot change and go through the summary cache.
func (s *Service) ShiftSummary(ctx context.Context, shiftID string, opts domain.SummaryOptions) (summary domain.ShiftSummary, err error) {
	ctx, span := s.startSpan(ctx, "ShiftSummary", attribute.String("shift_id", shiftID))
	defer func() { endSpan(span, err) }()

	include := s.includeOpeningDeposit
	if opts.IncludeOpeningDeposit != nil {
		include = *opts.IncludeOpeningDeposit
	}
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return summary, notFound(err, "shift", shiftID)
	}
	if shift.Status == domain.ShiftStatusOpen {
		return s.buildSummary(ctx, *shift, include)
	}
	return s.closedSummary(ctx, summaryKey{ShiftID: shiftID, IncludeOpeningDeposit: include})
}

func (s *Service) loadClosedSummary(ctx context.Context, key summaryKey) (domain.ShiftSummary, error) {
	shift, err := s.repo.GetShift(ctx, key.ShiftID)
	if err != nil {
		return domain.ShiftSummary{}, notFound(err, "shift", key.ShiftID)
	}
	return s.buildSummary(ctx, *shift, key.IncludeOpeningDeposit)
}

func (s *Service) buildSummary(ctx context.Context, shift domain.CashShift, includeOpening bool) (domain.ShiftSummary, error) {
	totals, err := s.repo.SumCashOperations(ctx, shift.ID)
	if err != nil {
		return domain.ShiftSummary{}, err
	}
	return summarize(shift, totals, includeOpening), nil
}

// summarize folds a shift's grouped ledger into totals. With includeOpening
// off the SHIFT_OPEN float is left out of every figure.
func summarize(shift domain.CashShift, totals []domain.CashOperationTotal, includeOpening bool) domain.ShiftSummary {
	out := domain.ShiftSummary{
		ShiftID:               shift.ID,
		Status:                shift.Status,
		InitialAmount:         shift.InitialAmount,
		CurrentAmount:         shift.CurrentAmount,
		FinalAmount:           shift.FinalAmount,
		CashIncome:            decimal.Zero,
		CashExpense:           decimal.Zero,
		SalesTotal:            decimal.Zero,
		ReturnsTotal:          decimal.Zero,
		CorrectionTotal:       decimal.Zero,
		Discrepancy:           decimal.Zero,
		TotalsByPaymentMethod: map[domain.PaymentKind]decimal.Decimal{},
		CountsByType:          map[domain.OperationType]int{},
		OpeningDepositCounted: includeOpening,
	}

	for _, op := range totals {
		if op.Origin == domain.OriginShiftOpen && !includeOpening {
			continue
		}
		sign := op.OperationType.CashSign()
		amount := signed(op.Amount, sign)

		out.CountsByType[op.OperationType] += op.Count
		out.TotalsByPaymentMethod[op.PaymentMethod] = out.TotalsByPaymentMethod[op.PaymentMethod].Add(amount)

		switch op.OperationType {
		case domain.OperationSale, domain.OperationService:
			out.SalesTotal = out.SalesTotal.Add(op.Amount)
			out.TransactionCount += op.Count
		case domain.OperationReturn, domain.OperationReturnWithoutReceipt:
			out.ReturnsTotal = out.ReturnsTotal.Add(op.Amount)
			out.TransactionCount += op.Count
		}
		if op.Origin == domain.OriginCloseCorrection {
			out.CorrectionTotal = out.CorrectionTotal.Add(amount)
		}
		if op.PaymentMethod != domain.PaymentCash {
			continue
		}
		if sign > 0 {
			out.CashIncome = out.CashIncome.Add(op.Amount)
		} else {
			out.CashExpense = out.CashExpense.Add(op.Amount)
		}
	}

	if shift.FinalAmount != nil {
		out.Discrepancy = out.CorrectionTotal
	}
	return out
}

// parseDay accepts YYYY-MM-DD; empty means today.
func parseDay(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return store.DayUTC(now), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}
	return day, nil
}

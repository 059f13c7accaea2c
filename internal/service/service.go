package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/lock"
	"posledger/backend/internal/metrics"
	"posledger/backend/internal/notify"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Deps carries the optional collaborators. Zero values fall back to no-op
// implementations.
type Deps struct {
	Notifier        notify.Notifier
	Locker          lock.Locker
	SummaryCache    cache.Store
	SummaryCacheTTL time.Duration
	Metrics         *metrics.Metrics
	Logger          *logrus.Logger
	// The opening float is counted as cash income unless this is set.
	ExcludeOpeningDeposit bool
	SideEffectTimeout     time.Duration
	Now                   func() time.Time
}

type Service struct {
	repo                  store.Repository
	notifier              notify.Notifier
	locker                lock.Locker
	metrics               *metrics.Metrics
	logger                *logrus.Logger
	tracer                trace.Tracer
	includeOpeningDeposit bool
	sideEffectTimeout     time.Duration
	now                   func() time.Time
	closedSummary         cache.Loader[summaryKey, domain.ShiftSummary]
}

func New(repo store.Repository, deps Deps) *Service {
	s := &Service{
		repo:                  repo,
		notifier:              deps.Notifier,
		locker:                deps.Locker,
		metrics:               deps.Metrics,
		logger:                deps.Logger,
		tracer:                otel.Tracer("posledger/service"),
		includeOpeningDeposit: !deps.ExcludeOpeningDeposit,
		sideEffectTimeout:     deps.SideEffectTimeout,
		now:                   deps.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Noop{}
	}
	if s.locker == nil {
		s.locker = lock.Noop{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.sideEffectTimeout <= 0 {
		s.sideEffectTimeout = 3 * time.Second
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	ttl := deps.SummaryCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s.closedSummary = s.loadClosedSummary
	if deps.SummaryCache != nil {
		s.closedSummary = cache.ReadThrough(deps.SummaryCache, ttl, summaryKey.cacheKey, s.loadClosedSummary, s.logger)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// afterCommit runs a best-effort side effect detached from the caller's
// cancellation but bounded by its own timeout. Failures are logged only.
func (s *Service) afterCommit(ctx context.Context, name string, fn func(ctx context.Context) error) {
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()
	if err := fn(sideCtx); err != nil {
		s.metrics.NotificationFailed(name)
		s.warn(name, err, nil)
	}
}

func (s *Service) warn(funcName string, err error, fields logrus.Fields) {
	entry := s.logger.WithFields(logrus.Fields{"module": "service", "func": funcName})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Warnf("[service] WARN: %s failed: %v", funcName, err)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)
	err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "audit",
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warnf("[audit] WARN: failed to write audit log: %v", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

// Column scales of the ledger tables. Inputs finer than these would be
// rounded by the database and drift from the computed snapshots.
const (
	moneyPlaces    int32 = 2
	quantityPlaces int32 = 3
)

func checkPlaces(field string, v decimal.Decimal, places int32) error {
	if !v.Round(places).Equal(v) {
		return validationErr("%s allows at most %d decimal places", field, places)
	}
	return nil
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

// notFound names the missing entity while keeping store.ErrNotFound in the
// chain. Other errors pass through untouched.
func notFound(err error, entity string, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, entity, id)
	}
	return err
}

func signed(amount decimal.Decimal, sign int) decimal.Decimal {
	if sign < 0 {
		return amount.Neg()
	}
	return amount
}

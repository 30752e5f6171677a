package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/platform/observability"
	"github.com/rl1809/stock-billing/internal/port"
)

const TopicStockDebited = "stock.debited"

// DebitService applies batches of stock decrements exactly once per
// idempotency key.
type DebitService struct {
	uow     port.InventoryUnitOfWork
	locker  port.KeyLocker
	cache   port.CacheRepository
	events  port.EventPublisher
	metrics *observability.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

type DebitOption func(*DebitService)

func WithDebitCache(cache port.CacheRepository) DebitOption {
	return func(s *DebitService) { s.cache = cache }
}

func WithDebitEvents(events port.EventPublisher) DebitOption {
	return func(s *DebitService) { s.events = events }
}

func WithDebitMetrics(m *observability.Metrics) DebitOption {
	return func(s *DebitService) { s.metrics = m }
}

func NewDebitService(uow port.InventoryUnitOfWork, locker port.KeyLocker, logger *zap.Logger, opts ...DebitOption) *DebitService {
	s := &DebitService{
		uow:    uow,
		locker: locker,
		logger: logger,
		tracer: otel.Tracer("inventory.debit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DebitService) Debit(ctx context.Context, key string, items []domain.DebitItem) (domain.DebitOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "DebitService.Debit")
	defer span.End()
	span.SetAttributes(
		attribute.String("debit.idempotency_key", key),
		attribute.Int("debit.items", len(items)),
	)

	outcome, err := s.debit(ctx, key, items)
	if err != nil {
		kind := domain.KindOf(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("debit.error_kind", kind.String()))
		s.metrics.ObserveDebit(kind.String())

		fields := []zap.Field{zap.String("idempotency_key", key), zap.Error(err)}
		if kind.Definitive() {
			s.logger.Info("stock debit rejected", fields...)
		} else {
			s.logger.Error("stock debit failed", fields...)
		}
		return "", err
	}

	span.SetAttributes(attribute.String("debit.outcome", string(outcome)))
	span.SetStatus(codes.Ok, "")
	s.metrics.ObserveDebit(string(outcome))
	return outcome, nil
}

func (s *DebitService) debit(ctx context.Context, key string, items []domain.DebitItem) (domain.DebitOutcome, error) {
	if key == "" {
		return "", domain.Errorf(domain.KindInvalidState, "idempotency key is required")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return "", domain.Errorf(domain.KindInvalidState, "quantity for product %d must be greater than zero", item.ProductID)
		}
	}

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return "", domain.Wrap(domain.KindUnexpected, err, "acquire idempotency lock")
	}
	defer unlock()

	totals, order := mergeItems(items)
	outcome := domain.DebitApplied

	err = s.uow.Do(ctx, func(tx port.InventoryTx) error {
		known, err := tx.IsKnown(ctx, key)
		if err != nil {
			return err
		}
		if known {
			outcome = domain.DebitAlreadyApplied
			return nil
		}

		// validate every line before touching any balance
		products := make(map[int64]*domain.Product, len(order))
		for _, id := range order {
			p, err := tx.GetProductForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if p == nil {
				return domain.Errorf(domain.KindNotFound, "product %d not found", id)
			}
			products[id] = p
		}
		for _, id := range order {
			p := products[id]
			if p.Balance < totals[id] {
				return domain.Errorf(domain.KindInsufficientBalance,
					"insufficient balance for product %s: available %d, requested %d", p.Code, p.Balance, totals[id])
			}
		}

		for _, id := range order {
			balance, _, err := tx.TryDebit(ctx, id, totals[id], products[id].Version)
			if err != nil {
				return err
			}
			s.logger.Debug("product debited",
				zap.String("idempotency_key", key),
				zap.String("code", products[id].Code),
				zap.Int("quantity", totals[id]),
				zap.Int("balance", balance),
			)
		}

		return tx.RecordKey(ctx, key)
	})

	if errors.Is(err, domain.ErrDuplicateKey) {
		// another process recorded the key between our check and insert
		// and our transaction was rolled back
		s.logger.Info("idempotency key recorded concurrently", zap.String("idempotency_key", key))
		return domain.DebitAlreadyApplied, nil
	}
	if err != nil {
		return "", domain.Wrap(domain.KindUnexpected, err, "debit stock")
	}

	if outcome == domain.DebitAlreadyApplied {
		s.logger.Info("idempotent debit detected", zap.String("idempotency_key", key))
		return outcome, nil
	}

	s.afterApplied(ctx, key, order, items)
	s.logger.Info("stock debit applied", zap.String("idempotency_key", key), zap.Int("products", len(order)))
	return outcome, nil
}

func (s *DebitService) afterApplied(ctx context.Context, key string, ids []int64, items []domain.DebitItem) {
	if len(ids) == 0 {
		return
	}

	if s.cache != nil {
		if err := s.cache.InvalidateProducts(ctx, ids...); err != nil {
			s.logger.Warn("failed to invalidate product cache", zap.Error(err))
		}
	}

	if s.events != nil {
		event := domain.StockDebitedEvent{IdempotencyKey: key, Items: items, OccurredAt: s.now().UTC()}
		if err := s.events.Publish(ctx, TopicStockDebited, key, event); err != nil {
			s.logger.Warn("failed to publish stock debited event", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
}

// mergeItems sums quantities per product and returns the product ids in
// ascending order so concurrent batches lock rows in the same order.
func mergeItems(items []domain.DebitItem) (map[int64]int, []int64) {
	totals := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := totals[item.ProductID]; !ok {
			order = append(order, item.ProductID)
		}
		totals[item.ProductID] += item.Quantity
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return totals, order
}

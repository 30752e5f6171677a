package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/platform/observability"
	"github.com/rl1809/stock-billing/internal/port"
)

const TopicInvoiceClosed = "invoice.closed"

// IdempotencyKey derives the debit key from the invoice number alone, so
// every retry of the same invoice presents the same key.
func IdempotencyKey(number int) string {
	return fmt.Sprintf("NF-%d", number)
}

// Finalizer moves an invoice from open to closed, debiting inventory once.
type Finalizer struct {
	invoices  port.InvoiceRepository
	inventory port.InventoryClient
	events    port.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	delay     time.Duration
	timeout   time.Duration
	now       func() time.Time
	inflight  singleflight.Group
}

type FinalizerOption func(*Finalizer)

// WithProcessingDelay sets the pause before the remote debit that stands
// in for the printing work.
func WithProcessingDelay(d time.Duration) FinalizerOption {
	return func(f *Finalizer) { f.delay = d }
}

// WithFinalizeTimeout bounds one shared finalization, which runs detached
// from the cancellation of whichever caller started it.
func WithFinalizeTimeout(d time.Duration) FinalizerOption {
	return func(f *Finalizer) { f.timeout = d }
}

func WithFinalizerEvents(events port.EventPublisher) FinalizerOption {
	return func(f *Finalizer) { f.events = events }
}

func WithFinalizerMetrics(m *observability.Metrics) FinalizerOption {
	return func(f *Finalizer) { f.metrics = m }
}

func NewFinalizer(invoices port.InvoiceRepository, inventory port.InventoryClient, logger *zap.Logger, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		invoices:  invoices,
		inventory: inventory,
		logger:    logger,
		tracer:    otel.Tracer("billing.finalize"),
		delay:     2 * time.Second,
		timeout:   2 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize prints the invoice. Concurrent calls for the same id share one
// execution and its result. A caller whose ctx ends stops waiting, but the
// shared execution carries on for the others until the finalize timeout.
func (f *Finalizer) Finalize(ctx context.Context, id int64) (*domain.Invoice, error) {
	ctx, span := f.tracer.Start(ctx, "Finalizer.Finalize")
	defer span.End()
	span.SetAttributes(attribute.Int64("invoice.id", id))

	ch := f.inflight.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.finalize(workCtx, id)
	})

	var (
		v   any
		err error
	)
	select {
	case <-ctx.Done():
		err = domain.Wrap(domain.KindUnexpected, ctx.Err(), "stopped waiting for finalization")
	case res := <-ch:
		v, err = res.Val, res.Err
		if res.Shared {
			span.SetAttributes(attribute.Bool("invoice.finalize_shared", true))
		}
	}

	if err != nil {
		kind := domain.KindOf(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("invoice.error_kind", kind.String()))
		f.metrics.ObserveFinalize(kind.String())
		return nil, err
	}

	f.metrics.ObserveFinalize("closed")
	span.SetStatus(codes.Ok, "")
	inv := *v.(*domain.Invoice)
	return &inv, nil
}

func (f *Finalizer) finalize(ctx context.Context, id int64) (*domain.Invoice, error) {
	inv, err := f.invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "load invoice")
	}
	if inv == nil {
		return nil, domain.Errorf(domain.KindNotFound, "invoice %d not found", id)
	}
	if err := inv.CanFinalize(); err != nil {
		return nil, err
	}

	log := f.logger.With(zap.Int64("invoice_id", inv.ID), zap.Int("number", inv.Number))
	log.Info("printing invoice")

	if err := f.wait(ctx); err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "processing interrupted")
	}

	key := IdempotencyKey(inv.Number)
	outcome, err := f.inventory.Debit(ctx, key, inv.DebitItems())
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindServiceUnavailable:
			log.Error("inventory service unavailable; invoice left open", zap.String("idempotency_key", key), zap.Error(err))
		default:
			log.Info("stock debit rejected; invoice left open", zap.String("idempotency_key", key), zap.Error(err))
		}
		return nil, err
	}

	inv.Close(f.now().UTC())
	if err := f.invoices.CloseInvoice(ctx, inv); err != nil {
		if domain.KindOf(err) == domain.KindConcurrencyConflict {
			// the debit is already applied remotely; a human has to reconcile
			log.Error("CRITICAL invoice changed after stock was debited",
				zap.String("idempotency_key", key), zap.String("debit_outcome", string(outcome)), zap.Error(err))
			return nil, err
		}
		log.Error("CRITICAL failed to persist closed invoice after stock debit",
			zap.String("idempotency_key", key), zap.Error(err))
		return nil, domain.Wrap(domain.KindUnexpected, err, "close invoice")
	}

	log.Info("invoice printed and stock debited", zap.String("idempotency_key", key), zap.String("debit_outcome", string(outcome)))

	if f.events != nil {
		event := domain.InvoiceClosedEvent{InvoiceID: inv.ID, Number: inv.Number, IdempotencyKey: key, ClosedAt: *inv.ClosedAt}
		if err := f.events.Publish(ctx, TopicInvoiceClosed, strconv.Itoa(inv.Number), event); err != nil {
			log.Warn("failed to publish invoice closed event", zap.Error(err))
		}
	}

	return inv, nil
}

func (f *Finalizer) wait(ctx context.Context) error {
	if f.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(f.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

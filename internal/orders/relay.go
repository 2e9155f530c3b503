package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

type RelayConfig struct {
	Interval    time.Duration
	Lease       time.Duration
	Batch       int
	MaxAttempts int
	Timeout     time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:    5 * time.Second,
		Lease:       30 * time.Second,
		Batch:       50,
		MaxAttempts: 10,
		Timeout:     5 * time.Second,
	}
}

// Relay finishes post-commit work that CreateOrder could not complete inline:
// stock decrements and order.created events left pending by a failure or a
// crash between commit and completion.
type Relay struct {
	queue   FollowUpQueue
	store   OrderStore
	catalog Catalog
	events  EventPublisher
	cfg     RelayConfig
	logger  *zap.Logger
	metrics *metrics.OrderMetrics
}

func NewRelay(queue FollowUpQueue, store OrderStore, catalog Catalog, events EventPublisher, cfg RelayConfig, logger *zap.Logger, m *metrics.OrderMetrics) *Relay {
	def := DefaultRelayConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.Batch <= 0 {
		cfg.Batch = def.Batch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{queue: queue, store: store, catalog: catalog, events: events, cfg: cfg, logger: logger, metrics: m}
}

// Run drains the queue every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("🔁 Follow-up relay started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("👋 Follow-up relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("⚠️ Follow-up drain failed", zap.Error(err))
			}
		}
	}
}

// Drain claims one batch and executes it. It returns how many follow-ups were
// completed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	claimed, err := r.queue.ClaimFollowUps(ctx, r.cfg.Lease, r.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("failed to claim follow-ups: %w", err)
	}

	done := 0
	for _, f := range claimed {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if r.execute(ctx, f) {
			done++
		}
	}
	return done, nil
}

// errTerminal marks a follow-up that must not be retried.
type errTerminal struct{ err error }

func (e errTerminal) Error() string { return e.err.Error() }
func (e errTerminal) Unwrap() error { return e.err }

func (r *Relay) execute(ctx context.Context, f models.FollowUp) bool {
	log := r.logger.With(
		zap.Int64("follow_up_id", f.ID),
		zap.Int64("order_id", f.OrderID),
		zap.String("kind", string(f.Kind)),
		zap.Int("attempt", f.Attempts),
	)

	state, err := r.run(ctx, f)
	if err == nil {
		if rerr := r.resolve(ctx, f, state); rerr != nil {
			log.Warn("⚠️ Failed to resolve follow-up", zap.Error(rerr))
			return false
		}
		r.metrics.FollowUp(string(f.Kind), string(state))
		log.Info("✅ Follow-up completed", zap.String("state", string(state)))
		return true
	}

	var terminal errTerminal
	if errors.As(err, &terminal) || f.Attempts >= r.cfg.MaxAttempts {
		r.metrics.FollowUp(string(f.Kind), "failed")
		log.Error("❌ Follow-up failed permanently", zap.Error(err))
		if ferr := r.queue.FailFollowUp(ctx, f.ID, err.Error()); ferr != nil {
			log.Warn("⚠️ Failed to mark follow-up failed", zap.Error(ferr))
		}
		return false
	}

	r.metrics.FollowUp(string(f.Kind), "retry")
	log.Warn("⚠️ Follow-up attempt failed, will retry", zap.Error(err))
	if rerr := r.queue.RetryFollowUp(ctx, f.ID, err.Error()); rerr != nil {
		log.Warn("⚠️ Failed to record follow-up retry", zap.Error(rerr))
	}
	return false
}

func (r *Relay) run(ctx context.Context, f models.FollowUp) (models.FollowUpState, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	order, err := r.store.FindOrder(opCtx, f.OrderID, 0)
	if errors.Is(err, ErrNotFound) {
		return "", errTerminal{fmt.Errorf("order %d no longer exists", f.OrderID)}
	}
	if err != nil {
		return "", fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status == models.StatusCancelled {
		return models.FollowUpCancelled, nil
	}

	switch f.Kind {
	case models.FollowUpStock:
		return r.applyStock(opCtx, order)
	case models.FollowUpEvent:
		if err := r.events.PublishOrderCreated(opCtx, models.NewOrderCreatedEvent(order)); err != nil {
			return "", fmt.Errorf("failed to publish order.created: %w", err)
		}
		return models.FollowUpDone, nil
	default:
		return "", errTerminal{fmt.Errorf("unknown follow-up kind %q", f.Kind)}
	}
}

// applyStock re-applies the order's decrements. Products already recorded
// against the order are skipped by the catalog. An order cancelled since it was
// loaded resolves the follow-up as cancelled.
func (r *Relay) applyStock(ctx context.Context, order *models.Order) (models.FollowUpState, error) {
	lines := make([]models.LineItemRequest, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, models.LineItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := validate(order.BuyerID, lines); err != nil {
		return "", errTerminal{fmt.Errorf("stored items: %w", err)}
	}
	want := demandOf(lines)

	for _, id := range want.ids {
		err := r.catalog.DecrementStock(ctx, order.ID, id, want.qty[id])
		if errors.Is(err, ErrOrderCancelled) {
			return models.FollowUpCancelled, nil
		}
		if errors.Is(err, ErrInsufficientStock) {
			// The order was paid for stock that is gone: needs an operator.
			r.logger.Error("❌ Stock drift, order committed without stock",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", id),
				zap.Int("requested", want.qty[id]),
			)
			return "", errTerminal{fmt.Errorf("product %d: %w", id, err)}
		}
		if err != nil {
			return "", fmt.Errorf("failed to decrement stock for product %d: %w", id, err)
		}
	}
	return models.FollowUpDone, nil
}

func (r *Relay) resolve(ctx context.Context, f models.FollowUp, state models.FollowUpState) error {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.store.ResolveFollowUp(opCtx, f.OrderID, f.Kind, state)
}

package orders

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

type Config struct {
	Currency       string
	CatalogTimeout time.Duration
	PaymentTimeout time.Duration
	StoreTimeout   time.Duration
	PublishTimeout time.Duration
	// LookupLimit bounds concurrent product lookups per order.
	LookupLimit int
}

func DefaultConfig() Config {
	return Config{
		Currency:       "usd",
		CatalogTimeout: 2 * time.Second,
		PaymentTimeout: 10 * time.Second,
		StoreTimeout:   5 * time.Second,
		PublishTimeout: 3 * time.Second,
		LookupLimit:    8,
	}
}

type Option func(*Service)

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// Service coordinates order creation across the catalog, the payment gateway,
// the order store and the event bus. It holds no per-order state.
type Service struct {
	catalog  Catalog
	store    OrderStore
	payments PaymentGateway
	events   EventPublisher
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.OrderMetrics
	tracer   trace.Tracer
}

func NewService(catalog Catalog, store OrderStore, payments PaymentGateway, events EventPublisher, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = def.CatalogTimeout
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = def.PaymentTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.LookupLimit <= 0 {
		cfg.LookupLimit = def.LookupLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		catalog:  catalog,
		store:    store,
		payments: payments,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("order-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxQuantity bounds a line and the summed demand for one product. It is the
// largest value the INTEGER quantity columns hold.
const MaxQuantity = math.MaxInt32

// demand is the total quantity requested per product, in first-seen order.
type demand struct {
	ids []int64
	qty map[int64]int
}

// demandOf expects items that passed validate.
func demandOf(items []models.LineItemRequest) demand {
	d := demand{qty: make(map[int64]int, len(items))}
	for _, item := range items {
		if _, seen := d.qty[item.ProductID]; !seen {
			d.ids = append(d.ids, item.ProductID)
		}
		d.qty[item.ProductID] += item.Quantity
	}
	return d
}

func validate(buyerID int64, items []models.LineItemRequest) error {
	if buyerID <= 0 {
		return invalidRequest("buyer id must be positive")
	}
	if len(items) == 0 {
		return invalidRequest("order must contain at least one item")
	}
	sums := make(map[int64]int, len(items))
	for i, item := range items {
		if item.ProductID <= 0 {
			return invalidRequest("item %d: product_id must be positive", i)
		}
		if item.Quantity <= 0 {
			return invalidRequest("item %d: quantity must be positive", i)
		}
		if item.Quantity > MaxQuantity {
			return invalidRequest("item %d: quantity must not exceed %d", i, MaxQuantity)
		}
		// Both sides stay within MaxQuantity, so the comparison cannot wrap.
		if sums[item.ProductID] > MaxQuantity-item.Quantity {
			return invalidRequest("product %d: total quantity exceeds %d", item.ProductID, MaxQuantity)
		}
		sums[item.ProductID] += item.Quantity
	}
	return nil
}

// CreateOrder validates availability, authorizes payment, persists the order,
// takes stock and announces the order. The buyer is never left with an
// authorization for an order that was not created.
func (s *Service) CreateOrder(ctx context.Context, buyerID int64, items []models.LineItemRequest) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "create_order")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("buyer.id", buyerID),
		attribute.Int("order.lines", len(items)),
	)

	order, err := s.createOrder(ctx, buyerID, items)
	if err != nil {
		kind := KindOf(err)
		s.metrics.OrderRejected(kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		return nil, err
	}

	s.metrics.OrderCreated()
	span.SetAttributes(attribute.Int64("order.id", order.ID))
	span.SetStatus(codes.Ok, "order created")
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, buyerID int64, items []models.LineItemRequest) (*models.Order, error) {
	if err := validate(buyerID, items); err != nil {
		return nil, err
	}
	want := demandOf(items)

	// Step 1: every distinct product must exist and cover the summed demand.
	products, err := s.loadProducts(ctx, want.ids)
	if err != nil {
		return nil, err
	}
	for _, id := range want.ids {
		if p := products[id]; want.qty[id] > p.Stock {
			return nil, insufficientStock(id, p.Stock, want.qty[id])
		}
	}

	// Step 2: price lines from the fresh read.
	lines := make([]models.OrderItem, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		p := products[item.ProductID]
		line := models.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			UnitPrice:   p.Price,
		}
		total = total.Add(line.LineTotal())
		lines = append(lines, line)
	}

	// Step 3
	reference, err := s.authorize(ctx, buyerID, total)
	if err != nil {
		return nil, err
	}

	// Step 4
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	order, err := s.store.CreateOrder(storeCtx, models.NewOrder{
		BuyerID:          buyerID,
		Items:            lines,
		TotalAmount:      total,
		Status:           models.StatusPending,
		PaymentReference: reference,
	})
	cancel()
	if err != nil {
		s.voidPayment(ctx, reference, 0)
		return nil, unexpected("failed to persist order", err)
	}
	s.logger.Info("✅ Order persisted",
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", buyerID),
		zap.String("total", total.StringFixed(2)),
	)

	// Step 5
	if err := s.takeStock(ctx, order, want); err != nil {
		return nil, err
	}

	// Step 6
	s.publish(ctx, order)

	return order, nil
}

func (s *Service) loadProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	found := make([]*models.Product, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(s.cfg.LookupLimit)
	for i, id := range ids {
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.CatalogTimeout)
			defer cancel()
			found[i], errs[i] = s.catalog.GetProduct(lookupCtx, id)
			return nil
		})
	}
	_ = g.Wait()

	products := make(map[int64]*models.Product, len(ids))
	for i, err := range errs {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, productNotFound(ids[i])
		case err != nil:
			return nil, unexpected("failed to load product "+strconv.FormatInt(ids[i], 10), err)
		case found[i] == nil:
			return nil, productNotFound(ids[i])
		}
		products[ids[i]] = found[i]
	}
	return products, nil
}

func (s *Service) authorize(ctx context.Context, buyerID int64, total decimal.Decimal) (string, error) {
	amount, err := ToMinorUnits(total, s.cfg.Currency)
	if err != nil {
		return "", invalidRequest("order total: %v", err)
	}

	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()
	reference, err := s.payments.Authorize(payCtx, AuthorizationRequest{
		AmountMinor:    amount,
		Currency:       s.cfg.Currency,
		IdempotencyKey: uuid.NewString(),
		Metadata:       map[string]string{"buyer_id": strconv.FormatInt(buyerID, 10)},
	})
	if err != nil {
		var declined *DeclinedError
		switch {
		case errors.As(err, &declined):
			s.metrics.Payment("declined")
			return "", paymentFailed(declined.Reason, err)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(payCtx.Err(), context.DeadlineExceeded):
			s.metrics.Payment("timeout")
			return "", paymentFailed("payment gateway timed out", err)
		default:
			s.metrics.Payment("error")
			return "", paymentFailed("payment gateway unavailable", err)
		}
	}
	if reference == "" {
		s.metrics.Payment("error")
		return "", paymentFailed("payment gateway returned no reference", nil)
	}
	s.metrics.Payment("authorized")
	return reference, nil
}

// takeStock applies the conditional decrements for a persisted order. Only a
// lost stock race fails the call; anything else is left to the relay.
func (s *Service) takeStock(ctx context.Context, order *models.Order, want demand) error {
	for _, id := range want.ids {
		stockCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err := s.catalog.DecrementStock(stockCtx, order.ID, id, want.qty[id])
		cancel()

		var shortage *ShortageError
		switch {
		case err == nil:
		case errors.As(err, &shortage):
			s.cancelOrder(ctx, order, want.ids)
			return insufficientStock(id, shortage.Available, want.qty[id])
		case errors.Is(err, ErrInsufficientStock):
			s.cancelOrder(ctx, order, want.ids)
			return insufficientStock(id, 0, want.qty[id])
		case errors.Is(err, ErrOrderCancelled):
			// Cancelled by an admin while stock was being taken. Like any
			// status change, that leaves stock as it is.
			s.logger.Warn("⚠️ Order cancelled during stock decrement",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", id),
			)
			s.resolve(ctx, order.ID, models.FollowUpStock, models.FollowUpCancelled)
			return nil
		default:
			s.logger.Warn("⚠️ Failed to decrement stock, leaving follow-up pending",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", id),
				zap.Error(err),
			)
			return nil
		}
	}

	s.resolve(ctx, order.ID, models.FollowUpStock, models.FollowUpDone)
	return nil
}

// cancelOrder unwinds an order that lost a stock race after commit. The status
// flips first: the catalog refuses decrements for a CANCELLED order, so a relay
// racing this unwind either committed its decrement before the flip, and is
// restored below, or takes nothing. Every product of the order is restored,
// not only those taken inline.
func (s *Service) cancelOrder(ctx context.Context, order *models.Order, products []int64) {
	s.resolve(ctx, order.ID, models.FollowUpStock, models.FollowUpCancelled)
	s.resolve(ctx, order.ID, models.FollowUpEvent, models.FollowUpCancelled)

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	_, err := s.store.UpdateStatus(storeCtx, order.ID, models.StatusPending, models.StatusCancelled)
	cancel()
	if err != nil {
		s.logger.Error("❌ Failed to cancel order after stock shortage",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}

	s.restoreStock(ctx, order.ID, products)
	s.voidPayment(ctx, order.PaymentReference, order.ID)
	if err == nil {
		s.logger.Warn("⚠️ Order cancelled, stock taken by a concurrent order", zap.Int64("order_id", order.ID))
	}
}

// restoreStock gives back what the order took of each product. The catalog
// ignores products the order holds nothing of.
func (s *Service) restoreStock(ctx context.Context, orderID int64, products []int64) {
	bg := context.WithoutCancel(ctx)
	for _, id := range products {
		restoreCtx, cancel := context.WithTimeout(bg, s.cfg.StoreTimeout)
		err := s.catalog.RestoreStock(restoreCtx, orderID, id)
		cancel()
		if err != nil {
			s.logger.Error("❌ Failed to restore stock",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", id),
				zap.Error(err),
			)
		}
	}
}

// voidPayment releases an authorization. It runs detached from the caller so a
// cancelled request still releases the hold.
func (s *Service) voidPayment(ctx context.Context, reference string, orderID int64) {
	voidCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PaymentTimeout)
	defer cancel()
	if err := s.payments.Void(voidCtx, reference); err != nil {
		s.metrics.Payment("void_failed")
		s.logger.Error("❌ Failed to void payment authorization",
			zap.String("payment_reference", reference),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	s.metrics.Payment("voided")
	s.logger.Info("↩️ Payment authorization voided", zap.String("payment_reference", reference))
}

func (s *Service) publish(ctx context.Context, order *models.Order) {
	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	err := s.events.PublishOrderCreated(pubCtx, models.NewOrderCreatedEvent(order))
	cancel()
	if err != nil {
		s.metrics.FollowUp(string(models.FollowUpEvent), "deferred")
		s.logger.Warn("⚠️ Failed to publish order.created, leaving follow-up pending",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("📤 Published order.created", zap.Int64("order_id", order.ID))
	s.resolve(ctx, order.ID, models.FollowUpEvent, models.FollowUpDone)
}

func (s *Service) resolve(ctx context.Context, orderID int64, kind models.FollowUpKind, state models.FollowUpState) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.ResolveFollowUp(storeCtx, orderID, kind, state); err != nil {
		s.logger.Warn("⚠️ Failed to resolve follow-up",
			zap.Int64("order_id", orderID),
			zap.String("kind", string(kind)),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

// ListOrders returns orders newest first, items included.
func (s *Service) ListOrders(ctx context.Context, scope Scope) ([]models.Order, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	orders, err := s.store.FindOrders(storeCtx, scope.BuyerID)
	if err != nil {
		return nil, unexpected("failed to list orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// GetOrder returns one order. An order owned by a buyer outside scope is
// reported exactly like a missing one.
func (s *Service) GetOrder(ctx context.Context, id int64, scope Scope) (*models.Order, error) {
	if id <= 0 {
		return nil, orderNotFound(id)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	order, err := s.store.FindOrder(storeCtx, id, scope.BuyerID)
	if errors.Is(err, ErrNotFound) {
		return nil, orderNotFound(id)
	}
	if err != nil {
		return nil, unexpected("failed to load order", err)
	}
	return order, nil
}

// UpdateOrderStatus moves an order along the status table. It never touches
// stock or payment.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, invalidRequest("unknown status %q", status)
	}
	current, err := s.GetOrder(ctx, id, AllBuyers)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if !CanTransition(current.Status, status) {
		return nil, invalidTransition(id, current.Status, status)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	updated, err := s.store.UpdateStatus(storeCtx, id, current.Status, status)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, orderNotFound(id)
	case errors.Is(err, ErrStatusConflict):
		// Lost a concurrent update.
		return nil, invalidTransition(id, current.Status, status)
	case err != nil:
		return nil, unexpected("failed to update order status", err)
	}
	s.logger.Info("🔄 Order status updated",
		zap.Int64("order_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	return updated, nil
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

type movementKey struct{ orderID, productID int64 }

// fakeCatalog keeps stock in memory and applies decrements conditionally
// under one lock, like the storage-side UPDATE ... WHERE stock >= $1.
type fakeCatalog struct {
	mu        sync.Mutex
	products  map[int64]models.Product
	movements map[movementKey]int
	getErr    map[int64]error
	decErr    map[int64]error
	// beforeDecrement runs before each decrement, outside the lock.
	beforeDecrement func(productID int64)
	// orderStatus, when set, is consulted under the lock like the order row
	// the storage-side decrement locks.
	orderStatus func(orderID int64) models.OrderStatus
	gets        int
	decrements  int
}

func newFakeCatalog(products ...models.Product) *fakeCatalog {
	c := &fakeCatalog{
		products:  make(map[int64]models.Product),
		movements: make(map[movementKey]int),
		getErr:    make(map[int64]error),
		decErr:    make(map[int64]error),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func product(id int64, price string, stock int) models.Product {
	return models.Product{ID: id, Name: "product", Price: decimal.RequireFromString(price), Stock: stock}
}

func (c *fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if err := c.getErr[id]; err != nil {
		return nil, err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (c *fakeCatalog) DecrementStock(ctx context.Context, orderID, productID int64, quantity int) error {
	if c.beforeDecrement != nil {
		c.beforeDecrement(productID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decrements++
	if err := c.decErr[productID]; err != nil {
		return err
	}
	if c.orderStatus != nil && c.orderStatus(orderID) == models.StatusCancelled {
		return ErrOrderCancelled
	}
	key := movementKey{orderID, productID}
	if _, done := c.movements[key]; done {
		return nil
	}
	p, ok := c.products[productID]
	if !ok {
		return ErrNotFound
	}
	if p.Stock < quantity {
		return &ShortageError{ProductID: productID, Available: p.Stock, Requested: quantity}
	}
	p.Stock -= quantity
	c.products[productID] = p
	c.movements[key] = quantity
	return nil
}

func (c *fakeCatalog) RestoreStock(ctx context.Context, orderID, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := movementKey{orderID, productID}
	qty, ok := c.movements[key]
	if !ok {
		return nil
	}
	delete(c.movements, key)
	p := c.products[productID]
	p.Stock += qty
	c.products[productID] = p
	return nil
}

func (c *fakeCatalog) stock(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[id].Stock
}

type followUpKey struct {
	orderID int64
	kind    models.FollowUpKind
}

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]models.Order
	followUps map[followUpKey]models.FollowUpState
	createErr error
	findErr   error
	// statusRace, when set, changes the stored status just before a
	// compare-and-set is evaluated.
	statusRace models.OrderStatus
	creates    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[int64]models.Order),
		followUps: make(map[followUpKey]models.FollowUpState),
	}
}

func (s *fakeStore) CreateOrder(ctx context.Context, o models.NewOrder) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		return nil, s.createErr
	}
	if o.PaymentReference == "" {
		return nil, errors.New("payment_reference violates not-null constraint")
	}
	s.nextID++
	now := time.Now().UTC()
	order := models.Order{
		ID:               s.nextID,
		BuyerID:          o.BuyerID,
		TotalAmount:      o.TotalAmount,
		Status:           o.Status,
		PaymentReference: o.PaymentReference,
		CreatedAt:        now.Add(time.Duration(s.nextID) * time.Millisecond),
		UpdatedAt:        now,
	}
	for i, item := range o.Items {
		item.ID = int64(i + 1)
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}
	s.orders[order.ID] = order
	s.followUps[followUpKey{order.ID, models.FollowUpStock}] = models.FollowUpPending
	s.followUps[followUpKey{order.ID, models.FollowUpEvent}] = models.FollowUpPending
	out := order
	return &out, nil
}

func (s *fakeStore) FindOrders(ctx context.Context, buyerID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []models.Order
	for _, o := range s.orders {
		if buyerID == 0 || o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) FindOrder(ctx context.Context, id, buyerID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	o, ok := s.orders[id]
	if !ok || (buyerID != 0 && o.BuyerID != buyerID) {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.statusRace != "" {
		o.Status = s.statusRace
		s.orders[id] = o
	}
	if o.Status != from {
		return nil, ErrStatusConflict
	}
	o.Status = to
	s.orders[id] = o
	return &o, nil
}

func (s *fakeStore) ResolveFollowUp(ctx context.Context, orderID int64, kind models.FollowUpKind, state models.FollowUpState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := followUpKey{orderID, kind}
	if _, ok := s.followUps[key]; !ok {
		return ErrNotFound
	}
	s.followUps[key] = state
	return nil
}

func (s *fakeStore) followUp(orderID int64, kind models.FollowUpKind) models.FollowUpState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.followUps[followUpKey{orderID, kind}]
}

func (s *fakeStore) status(id int64) models.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type fakeGateway struct {
	mu        sync.Mutex
	err       error
	block     bool
	requests  []AuthorizationRequest
	voids     []string
	voidErr   error
	reference int
}

func (g *fakeGateway) Authorize(ctx context.Context, req AuthorizationRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.reference++
	ref := fmt.Sprintf("auth_%d", g.reference)
	err, block := g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *fakeGateway) Void(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voids = append(g.voids, reference)
	return g.voidErr
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGateway) voided() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.voids...)
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	block     bool
	published []models.OrderCreatedEvent
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, evt models.OrderCreatedEvent) error {
	p.mu.Lock()
	err, block := p.err, p.block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, evt)
	return nil
}

func (p *fakePublisher) events() []models.OrderCreatedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderCreatedEvent(nil), p.published...)
}

// fakeQueue hands out every pending follow-up of a fakeStore.
type fakeQueue struct {
	store    *fakeStore
	attempts map[followUpKey]int
	retried  map[int64]string
	failed   map[int64]string
	ids      map[int64]followUpKey
	claimErr error
}

func newFakeQueue(store *fakeStore) *fakeQueue {
	return &fakeQueue{
		store:    store,
		attempts: make(map[followUpKey]int),
		retried:  make(map[int64]string),
		failed:   make(map[int64]string),
		ids:      make(map[int64]followUpKey),
	}
}

func (q *fakeQueue) ClaimFollowUps(ctx context.Context, lease time.Duration, limit int) ([]models.FollowUp, error) {
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()

	keys := make([]followUpKey, 0, len(q.store.followUps))
	for key, state := range q.store.followUps {
		if state == models.FollowUpPending {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].orderID != keys[j].orderID {
			return keys[i].orderID < keys[j].orderID
		}
		return keys[i].kind > keys[j].kind
	})

	var out []models.FollowUp
	for _, key := range keys {
		if len(out) == limit {
			break
		}
		q.attempts[key]++
		id := key.orderID * 10
		if key.kind == models.FollowUpEvent {
			id++
		}
		q.ids[id] = key
		out = append(out, models.FollowUp{ID: id, OrderID: key.orderID, Kind: key.kind, Attempts: q.attempts[key]})
	}
	return out, nil
}

func (q *fakeQueue) RetryFollowUp(ctx context.Context, id int64, reason string) error {
	q.retried[id] = reason
	return nil
}

func (q *fakeQueue) FailFollowUp(ctx context.Context, id int64, reason string) error {
	q.failed[id] = reason
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	q.store.followUps[q.ids[id]] = models.FollowUpFailed
	return nil
}

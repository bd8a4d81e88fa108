package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// fakeOrderRepo is an in-memory OrderRepository that enforces the same
// transition rules as the Postgres implementation.
type fakeOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]*models.Order
	seq     int
	failErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*models.Order)}
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.LineItem(nil), o.Items...)
	return &c
}

func (r *fakeOrderRepo) Create(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	if req.PaymentID != "" {
		for _, o := range r.orders {
			if o.PaymentID == req.PaymentID {
				return nil, errors.ErrPaymentReferenceConflict
			}
		}
	}

	r.seq++
	now := time.Now().Add(time.Duration(r.seq) * time.Millisecond)
	order := &models.Order{
		ID:            fmt.Sprintf("ord_%d", r.seq),
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		Customer:      req.Customer,
		Items:         req.Items,
		TotalAmount:   req.TotalAmount,
		PaymentStatus: models.PaymentStatusPending,
		PaymentID:     req.PaymentID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.orders[order.ID] = order
	return copyOrder(order), nil
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return copyOrder(o), nil
}

func (r *fakeOrderRepo) findByPaymentID(paymentID string) *models.Order {
	for _, o := range r.orders {
		if paymentID != "" && o.PaymentID == paymentID {
			return o
		}
	}
	return nil
}

func (r *fakeOrderRepo) GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.findByPaymentID(paymentID)
	if o == nil {
		return nil, errors.ErrNotFound
	}
	return copyOrder(o), nil
}

func (r *fakeOrderRepo) List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Order
	for _, o := range r.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && o.PaymentStatus != *filter.Status {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Order{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (r *fakeOrderRepo) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Order, int, error) {
	return r.List(ctx, &models.OrderListFilter{UserID: userID, Limit: limit, Offset: offset})
}

func (r *fakeOrderRepo) SetPaymentID(ctx context.Context, orderID, paymentID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if other := r.findByPaymentID(paymentID); other != nil && other.ID != orderID {
		return nil, errors.ErrPaymentReferenceConflict
	}
	if o.PaymentID != "" && o.PaymentID != paymentID {
		return nil, errors.ErrPaymentReferenceConflict
	}
	o.PaymentID = paymentID
	return copyOrder(o), nil
}

func (r *fakeOrderRepo) apply(o *models.Order, status models.PaymentStatus) (*models.StatusChange, error) {
	if o.PaymentStatus == status {
		return &models.StatusChange{Order: copyOrder(o), Previous: status}, nil
	}
	if !models.CanTransition(o.PaymentStatus, status) {
		return nil, errors.ErrIllegalTransition
	}
	previous := o.PaymentStatus
	o.PaymentStatus = status
	o.UpdatedAt = time.Now()
	return &models.StatusChange{Order: copyOrder(o), Previous: previous, Applied: true}, nil
}

func (r *fakeOrderRepo) UpdatePaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return r.apply(o, status)
}

func (r *fakeOrderRepo) UpdatePaymentStatusByPaymentID(ctx context.Context, paymentID string, status models.PaymentStatus) (*models.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	o := r.findByPaymentID(paymentID)
	if o == nil {
		return nil, errors.ErrNotFound
	}
	return r.apply(o, status)
}

func (r *fakeOrderRepo) Ping(ctx context.Context) error { return r.failErr }

func (r *fakeOrderRepo) snapshot() map[string]models.PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.PaymentStatus, len(r.orders))
	for id, o := range r.orders {
		out[id] = o.PaymentStatus
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	err      error
	calls    int
	lastPref *clients.PreferenceRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*models.Payment)}
}

func (g *fakeGateway) setStatus(paymentID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[paymentID] = &models.Payment{ID: paymentID, Status: status}
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) CreatePreference(ctx context.Context, req *clients.PreferenceRequest) (*models.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastPref = req
	if g.err != nil {
		return nil, g.err
	}
	return &models.Preference{ID: "pref_1", InitPoint: "https://checkout.example.com/pref_1"}, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	c := *p
	return &c, nil
}

type statusEvent struct {
	orderID  string
	previous models.PaymentStatus
	current  models.PaymentStatus
	source   string
}

type fakePublisher struct {
	mu      sync.Mutex
	created []string
	changed []statusEvent
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, order.ID)
	return nil
}

func (p *fakePublisher) PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.PaymentStatus, source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, statusEvent{order.ID, previous, order.PaymentStatus, source})
	return nil
}

func (p *fakePublisher) changeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.changed)
}

type fakeDeduper struct {
	mu      sync.Mutex
	marks   map[string]models.ReconcileOutcome
	seenErr error
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{marks: make(map[string]models.ReconcileOutcome)}
}

func (d *fakeDeduper) Seen(ctx context.Context, paymentID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seenErr != nil {
		return false, d.seenErr
	}
	_, ok := d.marks[paymentID]
	return ok, nil
}

func (d *fakeDeduper) Mark(ctx context.Context, paymentID string, outcome models.ReconcileOutcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.marks[paymentID]; !ok {
		d.marks[paymentID] = outcome
	}
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	orders  map[string]*models.Order
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{orders: make(map[string]*models.Order)}
}

func (c *fakeCache) Get(ctx context.Context, id string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.orders[id]; ok {
		return copyOrder(o), nil
	}
	return nil, nil
}

func (c *fakeCache) Set(ctx context.Context, order *models.Order) error {
	if !order.Settled() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[order.ID] = copyOrder(order)
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.orders, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Checkout: config.CheckoutConfig{
			SuccessPath: "/payment-success",
			FailurePath: "/payment-failure",
			PendingPath: "/payment-pending",
			WebhookPath: "/api/payments/webhook",
		},
		Features: config.FeatureFlags{
			EnableOrderCaching: true,
			EnableOrderEvents:  true,
			EnableWebhookDedup: true,
		},
	}
}

type testEnv struct {
	repo      *fakeOrderRepo
	cache     *fakeCache
	gateway   *fakeGateway
	publisher *fakePublisher
	deduper   *fakeDeduper
	orders    *OrderService
	payments  *PaymentService
	cfg       *config.Config
}

func newTestEnv(mutate ...func(*config.Config)) *testEnv {
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	env := &testEnv{
		repo:      newFakeOrderRepo(),
		cache:     newFakeCache(),
		gateway:   newFakeGateway(),
		publisher: &fakePublisher{},
		deduper:   newFakeDeduper(),
		cfg:       cfg,
	}
	env.orders = NewOrderService(env.repo, env.cache, env.publisher, cfg)
	env.payments = NewPaymentService(env.gateway, env.orders, env.deduper, cfg)
	return env
}

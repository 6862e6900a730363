package orderengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cafepos/internal/pricing"
	"cafepos/internal/stockledger"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

var testRates = pricing.Config{ExchangeRate: 90000, RoundingFactor: 5000}

// fakeStore keeps orders in memory and applies transition plans the way the
// Postgres store does: state write, stock effects and event append succeed
// or fail as one unit under a single lock.
type fakeStore struct {
	mu      sync.Mutex
	orders  map[string]*models.Order
	stock   map[int64]int64
	deducts map[int64][]stockledger.Requirement // orderID -> outstanding deduction
	events  []models.DomainEvent
	nextID  int64
	nextSeq int64
}

func newFakeStore(stock map[int64]int64) *fakeStore {
	return &fakeStore{
		orders:  make(map[string]*models.Order),
		stock:   stock,
		deducts: make(map[int64][]stockledger.Requirement),
	}
}

func (f *fakeStore) CreateOrder(ctx context.Context, order *models.Order) (*models.DomainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	order.ID = f.nextID
	order.Number = fmt.Sprintf("ORD_20250601_%03d", f.nextID)
	order.CustomerNumber = fmt.Sprintf("20250601-%03d", f.nextID)
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
	}

	stored := *order
	f.orders[order.Number] = &stored
	return f.appendEventLocked(order, models.EventOrderCreated), nil
}

func (f *fakeStore) Transition(ctx context.Context, orderNumber string, decide DecideFunc) (*models.Order, *models.DomainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.orders[orderNumber]
	if !ok {
		return nil, nil, ErrOrderNotFound
	}

	working := *stored
	plan, err := decide(&working)
	if err != nil {
		return nil, nil, err
	}

	if len(plan.Deduct) > 0 {
		if _, done := f.deducts[working.ID]; done {
			return nil, nil, stockledger.ErrAlreadyProcessed
		}
		var shortages []stockledger.Shortage
		for _, req := range plan.Deduct {
			if f.stock[req.IngredientID] < req.Quantity {
				shortages = append(shortages, stockledger.Shortage{
					IngredientID: req.IngredientID,
					Name:         req.Name,
					Needed:       req.Quantity,
					Available:    f.stock[req.IngredientID],
				})
			}
		}
		if len(shortages) > 0 {
			return nil, nil, &stockledger.InsufficientStockError{Shortages: shortages}
		}
		for _, req := range plan.Deduct {
			f.stock[req.IngredientID] -= req.Quantity
		}
		f.deducts[working.ID] = plan.Deduct
	}

	if plan.Reverse {
		if reqs, done := f.deducts[working.ID]; done {
			for _, req := range reqs {
				f.stock[req.IngredientID] += req.Quantity
			}
			delete(f.deducts, working.ID)
		}
	}

	working.Status = plan.To
	if plan.PaymentMethod != nil {
		working.PaymentMethod = plan.PaymentMethod
	}

	*stored = working
	return &working, f.appendEventLocked(&working, plan.Event), nil
}

func (f *fakeStore) appendEventLocked(order *models.Order, kind models.EventKind) *models.DomainEvent {
	f.nextSeq++
	evt := models.DomainEvent{
		Seq:         f.nextSeq,
		Kind:        kind,
		Topic:       models.TopicOrders,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Status:      order.Status,
	}
	f.events = append(f.events, evt)
	return &evt
}

func (f *fakeStore) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[orderNumber]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o := *stored
	return &o, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCompleted(ctx context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == models.StatusCompleted {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) BaristaQueue(ctx context.Context) ([]models.OrderSummary, error) {
	return nil, nil
}

func (f *fakeStore) stockOf(ingredientID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[ingredientID]
}

type fakeCatalog struct {
	mu        sync.Mutex
	items     map[int64]models.CatalogItem
	discounts []models.Discount
	recipes   map[int64][]models.RecipeLine
}

func (c *fakeCatalog) Snapshot(ctx context.Context, itemIDs []int64) (pricing.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := pricing.Snapshot{Items: make(map[int64]models.CatalogItem)}
	for _, id := range itemIDs {
		if item, ok := c.items[id]; ok {
			snap.Items[id] = item
		}
	}
	return snap, nil
}

func (c *fakeCatalog) ActiveDiscounts(ctx context.Context) ([]models.Discount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discounts, nil
}

func (c *fakeCatalog) Recipe(ctx context.Context, itemID int64, variantID *int64) ([]models.RecipeLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipes[itemID], nil
}

func (c *fakeCatalog) setPrice(itemID, cents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.items[itemID]
	item.BasePriceCents = &cents
	c.items[itemID] = item
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *fakePublisher) Publish(event models.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func price(cents int64) *int64 { return &cents }

// espressoWorld is the common fixture: one item, a two-ingredient recipe,
// enough beans for two double orders.
func espressoWorld(beans, milk int64) (*fakeStore, *fakeCatalog, *fakePublisher, *Engine) {
	store := newFakeStore(map[int64]int64{1: beans, 2: milk})
	catalog := &fakeCatalog{
		items: map[int64]models.CatalogItem{
			10: {ID: 10, Name: "Espresso", BasePriceCents: price(250), Active: true},
		},
		recipes: map[int64][]models.RecipeLine{
			10: {
				{IngredientID: 1, IngredientName: "Coffee Beans", AmountPerUnit: 18},
				{IngredientID: 2, IngredientName: "Milk", AmountPerUnit: 50},
			},
		},
	}
	publisher := &fakePublisher{}
	ledger := stockledger.NewLedger(nil, nil, logger.NewLogger("engine-test"))
	engine := NewEngine(store, catalog, ledger, publisher, testRates, logger.NewLogger("engine-test"))
	return store, catalog, publisher, engine
}

var (
	cashier = models.Actor{ID: 1, Name: "Rita", Role: models.RoleCashier}
	barista = models.Actor{ID: 2, Name: "Sam", Role: models.RoleBarista}
	cash    = models.PaymentCash
)

func createEspressoOrder(t *testing.T, engine *Engine, qty int) *models.Order {
	t.Helper()
	order, err := engine.CreateOrder(context.Background(), cashier, models.CreateOrderRequest{
		Items: []models.CartLine{{ItemID: 10, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func pay(engine *Engine, orderNumber string) (*models.Order, error) {
	return engine.Transition(context.Background(), cashier, orderNumber, models.TransitionRequest{
		Target:        models.StatusPaidWaitingPreparation,
		PaymentMethod: &cash,
	})
}

func TestCreateOrderFreezesPrices(t *testing.T) {
	_, catalog, _, engine := espressoWorld(1000, 1000)

	order := createEspressoOrder(t, engine, 2)
	if order.Status != models.StatusPendingPayment {
		t.Errorf("expected pending_payment, got %s", order.Status)
	}
	if order.FinalTotalCents != 500 {
		t.Errorf("expected total 500 cents, got %d", order.FinalTotalCents)
	}
	if order.FinalTotalSecondary != 450000 {
		t.Errorf("expected total 450000 secondary, got %d", order.FinalTotalSecondary)
	}

	// A later menu price change must not move the stored totals.
	catalog.setPrice(10, 999)

	reloaded, err := engine.GetOrder(context.Background(), order.Number)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if reloaded.FinalTotalCents != 500 {
		t.Errorf("price change leaked into stored order: %d", reloaded.FinalTotalCents)
	}
	if reloaded.Lines[0].UnitPriceCents != 250 {
		t.Errorf("expected frozen unit price 250, got %d", reloaded.Lines[0].UnitPriceCents)
	}
}

func TestPaymentDeductsStockOnce(t *testing.T) {
	store, _, _, engine := espressoWorld(100, 1000)

	order := createEspressoOrder(t, engine, 2)

	if _, err := pay(engine, order.Number); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := store.stockOf(1); got != 100-2*18 {
		t.Errorf("expected beans 64 after deduction, got %d", got)
	}

	// A repeated confirmation is an idempotency hit, not a second charge.
	_, err := pay(engine, order.Number)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if got := store.stockOf(1); got != 64 {
		t.Errorf("stock deducted twice: %d", got)
	}
}

func TestPaymentRequiresMethod(t *testing.T) {
	_, _, _, engine := espressoWorld(100, 1000)
	order := createEspressoOrder(t, engine, 1)

	_, err := engine.Transition(context.Background(), cashier, order.Number, models.TransitionRequest{
		Target: models.StatusPaidWaitingPreparation,
	})
	if !errors.Is(err, ErrPaymentMethodRequired) {
		t.Fatalf("expected ErrPaymentMethodRequired, got %v", err)
	}
}

func TestInsufficientStockLeavesOrderPending(t *testing.T) {
	store, _, _, engine := espressoWorld(10, 10) // not enough for anything

	order := createEspressoOrder(t, engine, 2)

	_, err := pay(engine, order.Number)
	var insufficient *stockledger.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(insufficient.Shortages) != 2 {
		t.Errorf("expected both ingredients reported, got %d", len(insufficient.Shortages))
	}

	reloaded, _ := engine.GetOrder(context.Background(), order.Number)
	if reloaded.Status != models.StatusPendingPayment {
		t.Errorf("failed payment moved order to %s", reloaded.Status)
	}
	if store.stockOf(1) != 10 || store.stockOf(2) != 10 {
		t.Error("failed payment must not touch stock")
	}
}

func TestCancelAfterPaymentReversesStock(t *testing.T) {
	store, _, _, engine := espressoWorld(100, 1000)
	order := createEspressoOrder(t, engine, 2)

	if _, err := pay(engine, order.Number); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if store.stockOf(1) != 64 {
		t.Fatalf("expected deduction first, got %d", store.stockOf(1))
	}

	_, err := engine.Transition(context.Background(), cashier, order.Number, models.TransitionRequest{
		Target: models.StatusCancelledByStaff,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if store.stockOf(1) != 100 || store.stockOf(2) != 1000 {
		t.Errorf("expected net-zero stock after reversal, beans=%d milk=%d",
			store.stockOf(1), store.stockOf(2))
	}
}

func TestCancelBeforePaymentLeavesStockAlone(t *testing.T) {
	store, _, _, engine := espressoWorld(100, 1000)
	order := createEspressoOrder(t, engine, 2)

	_, err := engine.Transition(context.Background(), cashier, order.Number, models.TransitionRequest{
		Target: models.StatusCancelledByUser,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if store.stockOf(1) != 100 {
		t.Errorf("unpaid cancellation touched stock: %d", store.stockOf(1))
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	_, _, _, engine := espressoWorld(100, 1000)
	order := createEspressoOrder(t, engine, 1)

	_, err := engine.Transition(context.Background(), barista, order.Number, models.TransitionRequest{
		Target: models.StatusReadyForPickup,
	})
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if illegal.From != models.StatusPendingPayment || illegal.To != models.StatusReadyForPickup {
		t.Errorf("error names wrong states: %v", illegal)
	}
}

func TestTransitionUnknownOrder(t *testing.T) {
	_, _, _, engine := espressoWorld(100, 1000)

	_, err := engine.Transition(context.Background(), cashier, "ORD_20250601_999", models.TransitionRequest{
		Target: models.StatusCancelledByStaff,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestConcurrentPaymentExactlyOneSucceeds(t *testing.T) {
	store, _, _, engine := espressoWorld(100, 1000)
	order := createEspressoOrder(t, engine, 2)

	const racers = 2
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pay(engine, order.Number)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyProcessed):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || duplicates != 1 {
		t.Errorf("expected exactly one success and one duplicate, got %d/%d", succeeded, duplicates)
	}
	if got := store.stockOf(1); got != 64 {
		t.Errorf("racing payments deducted stock %d times worth", (100-got)/36)
	}
}

func TestEspressoLifecycle(t *testing.T) {
	_, _, publisher, engine := espressoWorld(100, 1000)
	order := createEspressoOrder(t, engine, 2)

	steps := []models.TransitionRequest{
		{Target: models.StatusPaidWaitingPreparation, PaymentMethod: &cash},
		{Target: models.StatusPreparing},
		{Target: models.StatusReadyForPickup},
		{Target: models.StatusCompleted},
	}
	for _, step := range steps {
		if _, err := engine.Transition(context.Background(), barista, order.Number, step); err != nil {
			t.Fatalf("transition to %s: %v", step.Target, err)
		}
	}

	final, _ := engine.GetOrder(context.Background(), order.Number)
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}

	want := []models.EventKind{
		models.EventOrderCreated,
		models.EventOrderPaid,
		models.EventPreparationStarted,
		models.EventOrderReady,
		models.EventOrderCompleted,
	}
	got := publisher.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// Completed orders are terminal.
	_, err := engine.Transition(context.Background(), cashier, order.Number, models.TransitionRequest{
		Target: models.StatusCancelledByStaff,
	})
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("expected IllegalTransitionError from terminal state, got %v", err)
	}
}

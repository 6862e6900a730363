package dashboard

import (
	"context"
	"testing"
	"time"

	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

type fakeReads struct {
	created []models.Order
	active  []models.Order
}

func (f *fakeReads) OrdersCreatedSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	return f.created, nil
}

func (f *fakeReads) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	return f.active, nil
}

type capturePublisher struct {
	events []models.DomainEvent
}

func (p *capturePublisher) Publish(event models.DomainEvent) {
	p.events = append(p.events, event)
}

func newTestAggregator(reads ReadModel) (*Aggregator, *capturePublisher) {
	pub := &capturePublisher{}
	return NewAggregator(reads, pub, logger.NewLogger("dashboard-test")), pub
}

func at(hour int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 30, 0, 0, time.UTC)
}

func event(seq int64, kind models.EventKind, number string, totalCents, totalSecondary int64) models.DomainEvent {
	return models.DomainEvent{
		Seq:         seq,
		Kind:        kind,
		Topic:       models.TopicOrders,
		OrderNumber: number,
		OccurredAt:  at(10),
		Summary: models.EventSummary{
			FinalTotalCents:     totalCents,
			FinalTotalSecondary: totalSecondary,
		},
	}
}

func TestApplyFoldsRevenueAndCounts(t *testing.T) {
	agg, _ := newTestAggregator(&fakeReads{})

	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(event(2, models.EventOrderPaid, "A", 500, 450000))

	snap := agg.Snapshot()
	if snap.OrdersToday != 1 {
		t.Errorf("expected 1 order today, got %d", snap.OrdersToday)
	}
	if snap.RevenueCents != 500 || snap.RevenueSecondary != 450000 {
		t.Errorf("expected revenue 500/450000, got %d/%d", snap.RevenueCents, snap.RevenueSecondary)
	}
	if snap.ActiveOrders != 1 {
		t.Errorf("expected 1 active order, got %d", snap.ActiveOrders)
	}
	if snap.HourlyRevenue[10] != 500 {
		t.Errorf("expected hour-10 bucket 500, got %d", snap.HourlyRevenue[10])
	}
	if snap.HourlyOrders[10] != 1 {
		t.Errorf("expected hour-10 order count 1, got %d", snap.HourlyOrders[10])
	}
}

func TestApplyIgnoresDuplicateSequence(t *testing.T) {
	agg, _ := newTestAggregator(&fakeReads{})

	paid := event(2, models.EventOrderPaid, "A", 500, 450000)
	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(paid)
	agg.Apply(paid) // redelivered

	snap := agg.Snapshot()
	if snap.RevenueCents != 500 {
		t.Errorf("duplicate event double-counted revenue: %d", snap.RevenueCents)
	}
}

func TestInterleavedOrdersKeepEveryEvent(t *testing.T) {
	agg, _ := newTestAggregator(&fakeReads{})

	// Sequence numbers are assigned at insert but publish follows commit
	// order, so events for different orders can arrive out of global
	// sequence. Order B's paid event (seq 6) lands before order A's
	// (seq 5); both must count.
	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(event(2, models.EventOrderCreated, "B", 300, 270000))
	agg.Apply(event(6, models.EventOrderPaid, "B", 300, 270000))
	agg.Apply(event(5, models.EventOrderPaid, "A", 500, 450000))

	snap := agg.Snapshot()
	if snap.RevenueCents != 800 {
		t.Errorf("interleaved paid event dropped: revenue = %d, want 800", snap.RevenueCents)
	}
	if snap.RevenueSecondary != 720000 {
		t.Errorf("expected secondary revenue 720000, got %d", snap.RevenueSecondary)
	}

	// Per-order duplicates are still suppressed.
	agg.Apply(event(5, models.EventOrderPaid, "A", 500, 450000))
	if got := agg.Snapshot().RevenueCents; got != 800 {
		t.Errorf("redelivered event double-counted: revenue = %d, want 800", got)
	}
}

func TestCompletionMovesOrderOutOfActive(t *testing.T) {
	agg, _ := newTestAggregator(&fakeReads{})

	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(event(2, models.EventOrderPaid, "A", 500, 450000))
	agg.Apply(event(3, models.EventOrderCompleted, "A", 500, 450000))

	snap := agg.Snapshot()
	if snap.ActiveOrders != 0 {
		t.Errorf("completed order still active: %d", snap.ActiveOrders)
	}
	if snap.CompletedToday != 1 {
		t.Errorf("expected 1 completion, got %d", snap.CompletedToday)
	}
	if snap.RevenueCents != 500 {
		t.Errorf("completion must keep revenue, got %d", snap.RevenueCents)
	}
}

func TestCancellationAfterPaymentRemovesRevenue(t *testing.T) {
	agg, _ := newTestAggregator(&fakeReads{})

	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(event(2, models.EventOrderPaid, "A", 500, 450000))
	agg.Apply(event(3, models.EventOrderCancelled, "A", 500, 450000))

	snap := agg.Snapshot()
	if snap.RevenueCents != 0 || snap.RevenueSecondary != 0 {
		t.Errorf("cancelled revenue not removed: %d/%d", snap.RevenueCents, snap.RevenueSecondary)
	}
	if snap.HourlyRevenue[10] != 0 {
		t.Errorf("hourly bucket not compensated: %d", snap.HourlyRevenue[10])
	}
	if snap.ActiveOrders != 0 {
		t.Errorf("cancelled order still active: %d", snap.ActiveOrders)
	}
}

func TestCancellationBeforePaymentKeepsRevenueZero(t *testing.T) {
	agg, _ := newTestAggregator(&fakeReads{})

	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(event(2, models.EventOrderCancelled, "A", 500, 450000))

	snap := agg.Snapshot()
	if snap.RevenueCents != 0 {
		t.Errorf("unpaid cancellation moved revenue: %d", snap.RevenueCents)
	}
	if snap.OrdersToday != 1 {
		t.Errorf("created count should survive cancellation, got %d", snap.OrdersToday)
	}
}

func TestRebuildFromStorage(t *testing.T) {
	now := time.Now().UTC()
	reads := &fakeReads{
		created: []models.Order{
			{Number: "A", Status: models.StatusCompleted, FinalTotalCents: 500, FinalTotalSecondary: 450000, CreatedAt: now},
			{Number: "B", Status: models.StatusPreparing, FinalTotalCents: 300, FinalTotalSecondary: 270000, CreatedAt: now},
			{Number: "C", Status: models.StatusPendingPayment, FinalTotalCents: 200, FinalTotalSecondary: 180000, CreatedAt: now},
			{Number: "D", Status: models.StatusCancelledByUser, FinalTotalCents: 100, FinalTotalSecondary: 90000, CreatedAt: now},
		},
		active: []models.Order{
			{Number: "B", Status: models.StatusPreparing, FinalTotalCents: 300, FinalTotalSecondary: 270000, CreatedAt: now},
			{Number: "C", Status: models.StatusPendingPayment, FinalTotalCents: 200, FinalTotalSecondary: 180000, CreatedAt: now},
		},
	}
	agg, _ := newTestAggregator(reads)

	if err := agg.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	snap := agg.Snapshot()
	if snap.OrdersToday != 4 {
		t.Errorf("expected 4 orders today, got %d", snap.OrdersToday)
	}
	// Only paid-or-later, non-cancelled orders contribute revenue.
	if snap.RevenueCents != 800 {
		t.Errorf("expected revenue 800, got %d", snap.RevenueCents)
	}
	if snap.CompletedToday != 1 {
		t.Errorf("expected 1 completion, got %d", snap.CompletedToday)
	}
	if snap.ActiveOrders != 2 {
		t.Errorf("expected 2 active orders, got %d", snap.ActiveOrders)
	}
}

func TestResyncEventTriggersRebuild(t *testing.T) {
	reads := &fakeReads{
		created: []models.Order{
			{Number: "A", Status: models.StatusCompleted, FinalTotalCents: 500, FinalTotalSecondary: 450000, CreatedAt: time.Now().UTC()},
		},
	}
	agg, _ := newTestAggregator(reads)

	events := make(chan models.DomainEvent, 1)
	events <- models.DomainEvent{Resync: true, Topic: models.TopicOrders, OccurredAt: time.Now().UTC()}
	close(events)

	agg.Run(context.Background(), events)

	snap := agg.Snapshot()
	if snap.RevenueCents != 500 {
		t.Errorf("expected rebuilt revenue 500, got %d", snap.RevenueCents)
	}
}

func TestApplyPublishesDashboardUpdate(t *testing.T) {
	agg, pub := newTestAggregator(&fakeReads{})

	agg.Apply(event(1, models.EventOrderCreated, "A", 500, 450000))
	agg.Apply(event(2, models.EventOrderPaid, "A", 500, 450000))

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 dashboard updates, got %d", len(pub.events))
	}
	last := pub.events[len(pub.events)-1]
	if last.Kind != models.EventDashboardUpdated || last.Topic != models.TopicDashboard {
		t.Errorf("unexpected published event: %+v", last)
	}
	if last.Summary.RevenueCents != 500 {
		t.Errorf("expected aggregate revenue 500, got %d", last.Summary.RevenueCents)
	}
	if last.Summary.OrdersToday != 1 {
		t.Errorf("expected orders_today 1, got %d", last.Summary.OrdersToday)
	}
}

func TestNonOrderTopicIgnored(t *testing.T) {
	agg, pub := newTestAggregator(&fakeReads{})

	agg.Apply(models.DomainEvent{
		Seq:        1,
		Kind:       models.EventDashboardUpdated,
		Topic:      models.TopicDashboard,
		OccurredAt: at(10),
	})

	if len(pub.events) != 0 {
		t.Errorf("dashboard events must not feed back into the aggregator")
	}
	if agg.Snapshot().OrdersToday != 0 {
		t.Error("dashboard event mutated stats")
	}
}

// Package dashboard folds the order event stream into rolling daily
// statistics. The stream is not durable, so the aggregator can always
// rebuild from persisted order state: on cold start, on day rollover, and
// whenever the hub flags a delivery gap.
package dashboard

import (
	"context"
	"sync"
	"time"

	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

// ReadModel is the persisted-order view used for rebuilds.
type ReadModel interface {
	OrdersCreatedSince(ctx context.Context, since time.Time) ([]models.Order, error)
	ActiveOrders(ctx context.Context) ([]models.Order, error)
}

// Publisher pushes refreshed dashboard snapshots back to the hub.
type Publisher interface {
	Publish(event models.DomainEvent)
}

type Aggregator struct {
	reads     ReadModel
	publisher Publisher
	logger    *logger.Logger

	mu      sync.Mutex
	day     time.Time
	lastSeq map[string]int64 // per-order watermark for duplicate detection
	stats   models.DashboardStats
	active  map[string]models.OrderSummary
	paid    map[string]paidOrder // revenue attribution for cancellations
}

type paidOrder struct {
	cents     int64
	secondary int64
	hour      int
}

func NewAggregator(reads ReadModel, publisher Publisher, log *logger.Logger) *Aggregator {
	return &Aggregator{
		reads:     reads,
		publisher: publisher,
		logger:    log,
		lastSeq:   make(map[string]int64),
		active:    make(map[string]models.OrderSummary),
		paid:      make(map[string]paidOrder),
	}
}

// Rebuild re-derives all statistics from persisted orders. Safe to call at
// any time; it replaces the folded state wholesale.
func (a *Aggregator) Rebuild(ctx context.Context) error {
	startOfDay := startOfDayUTC(time.Now().UTC())

	todays, err := a.reads.OrdersCreatedSince(ctx, startOfDay)
	if err != nil {
		return err
	}
	activeOrders, err := a.reads.ActiveOrders(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.day = startOfDay
	a.stats = models.DashboardStats{Day: startOfDay.Format("2006-01-02")}
	a.lastSeq = make(map[string]int64)
	a.active = make(map[string]models.OrderSummary)
	a.paid = make(map[string]paidOrder)

	for _, o := range todays {
		a.stats.OrdersToday++
		hour := o.CreatedAt.UTC().Hour()
		a.stats.HourlyOrders[hour]++

		if o.Status.Cancelled() || o.Status == models.StatusPendingPayment {
			continue
		}
		// Paid or later: revenue counts.
		a.stats.RevenueCents += o.FinalTotalCents
		a.stats.RevenueSecondary += o.FinalTotalSecondary
		a.stats.HourlyRevenue[hour] += o.FinalTotalCents
		a.paid[o.Number] = paidOrder{cents: o.FinalTotalCents, secondary: o.FinalTotalSecondary, hour: hour}
		if o.Status == models.StatusCompleted {
			a.stats.CompletedToday++
		}
	}

	for _, o := range activeOrders {
		a.active[o.Number] = summarize(&o)
	}
	a.stats.ActiveOrders = len(a.active)

	a.logger.Info("", "dashboard_rebuilt", "Dashboard statistics rebuilt from storage")
	return nil
}

// Run consumes events until the channel closes or ctx is done. Events
// arrive at-least-once; duplicates are ignored by sequence number and a
// resync flag triggers a rebuild instead of incremental folding.
func (a *Aggregator) Run(ctx context.Context, events <-chan models.DomainEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Resync {
				if err := a.Rebuild(ctx); err != nil {
					a.logger.Error("", "dashboard_rebuild_failed", "Rebuild after resync failed", err)
				}
				continue
			}
			a.Apply(evt)
		}
	}
}

// Apply folds a single order event into the running statistics.
func (a *Aggregator) Apply(evt models.DomainEvent) {
	if evt.Topic != models.TopicOrders {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Ordering is guaranteed per order only: events for different orders
	// may arrive out of global sequence when transitions race. A
	// non-increasing sequence for the same order is a duplicate; across
	// orders it is just interleaving.
	if evt.Seq <= a.lastSeq[evt.OrderNumber] {
		return
	}
	a.lastSeq[evt.OrderNumber] = evt.Seq

	a.rolloverLocked(evt.OccurredAt.UTC())
	hour := evt.OccurredAt.UTC().Hour()

	switch evt.Kind {
	case models.EventOrderCreated:
		a.stats.OrdersToday++
		a.stats.HourlyOrders[hour]++
		a.active[evt.OrderNumber] = summaryFromEvent(evt)

	case models.EventOrderPaid:
		a.stats.RevenueCents += evt.Summary.FinalTotalCents
		a.stats.RevenueSecondary += evt.Summary.FinalTotalSecondary
		a.stats.HourlyRevenue[hour] += evt.Summary.FinalTotalCents
		a.paid[evt.OrderNumber] = paidOrder{
			cents:     evt.Summary.FinalTotalCents,
			secondary: evt.Summary.FinalTotalSecondary,
			hour:      hour,
		}
		a.updateActiveLocked(evt)

	case models.EventPreparationStarted, models.EventOrderReady:
		a.updateActiveLocked(evt)

	case models.EventOrderCompleted:
		a.stats.CompletedToday++
		delete(a.active, evt.OrderNumber)

	case models.EventOrderCancelled:
		delete(a.active, evt.OrderNumber)
		if p, ok := a.paid[evt.OrderNumber]; ok {
			a.stats.RevenueCents -= p.cents
			a.stats.RevenueSecondary -= p.secondary
			a.stats.HourlyRevenue[p.hour] -= p.cents
			delete(a.paid, evt.OrderNumber)
		}
	}

	a.stats.ActiveOrders = len(a.active)
	a.publishLocked(evt.Seq)
}

// Snapshot returns a copy of the current statistics with the live order
// list attached.
func (a *Aggregator) Snapshot() models.DashboardStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.stats
	snap.Active = make([]models.OrderSummary, 0, len(a.active))
	for _, summary := range a.active {
		snap.Active = append(snap.Active, summary)
	}
	return snap
}

func (a *Aggregator) updateActiveLocked(evt models.DomainEvent) {
	summary, ok := a.active[evt.OrderNumber]
	if !ok {
		summary = summaryFromEvent(evt)
	}
	summary.Status = evt.Status
	a.active[evt.OrderNumber] = summary
}

// publishLocked pushes the refreshed aggregate to dashboard subscribers,
// reusing the triggering event's sequence for client-side dedup.
func (a *Aggregator) publishLocked(seq int64) {
	if a.publisher == nil {
		return
	}
	a.publisher.Publish(models.DomainEvent{
		Seq:        seq,
		Kind:       models.EventDashboardUpdated,
		Topic:      models.TopicDashboard,
		OccurredAt: time.Now().UTC(),
		Summary: models.EventSummary{
			RevenueCents:     a.stats.RevenueCents,
			RevenueSecondary: a.stats.RevenueSecondary,
			OrdersToday:      a.stats.OrdersToday,
			ActiveOrders:     a.stats.ActiveOrders,
		},
	})
}

// rolloverLocked resets the daily counters when an event lands on a new
// day. Active orders survive: they are not a daily figure.
func (a *Aggregator) rolloverLocked(at time.Time) {
	day := startOfDayUTC(at)
	if a.day.IsZero() {
		a.day = day
		a.stats.Day = day.Format("2006-01-02")
		return
	}
	if day.After(a.day) {
		a.day = day
		a.stats = models.DashboardStats{
			Day:          day.Format("2006-01-02"),
			ActiveOrders: len(a.active),
		}
		a.paid = make(map[string]paidOrder)
	}
}

func summaryFromEvent(evt models.DomainEvent) models.OrderSummary {
	return models.OrderSummary{
		OrderNumber:         evt.OrderNumber,
		CustomerNumber:      evt.Summary.CustomerNumber,
		Status:              evt.Status,
		FinalTotalCents:     evt.Summary.FinalTotalCents,
		FinalTotalSecondary: evt.Summary.FinalTotalSecondary,
		CreatedAt:           evt.OccurredAt,
	}
}

func summarize(o *models.Order) models.OrderSummary {
	return models.OrderSummary{
		OrderNumber:         o.Number,
		CustomerNumber:      o.CustomerNumber,
		Status:              o.Status,
		FinalTotalCents:     o.FinalTotalCents,
		FinalTotalSecondary: o.FinalTotalSecondary,
		CreatedAt:           o.CreatedAt,
	}
}

func startOfDayUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

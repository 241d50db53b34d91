package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// subjectLoader materializes entity contexts for one run window. Contexts are
// built once per entity type and shared by every rule of that type; order
// snapshots and logs are cached by order ID.
type subjectLoader struct {
	store      Store
	start, end time.Time

	byEntity map[ir.EntityType][]*rules.EntityContext
	orders   map[string]*ir.Order
	events   map[string][]ir.OrderEvent
}

func newSubjectLoader(s Store, start, end time.Time) *subjectLoader {
	return &subjectLoader{
		store:    s,
		start:    start,
		end:      end,
		byEntity: make(map[ir.EntityType][]*rules.EntityContext),
		orders:   make(map[string]*ir.Order),
		events:   make(map[string][]ir.OrderEvent),
	}
}

// subjects returns the contexts for entity. Subjects that reference missing
// data are reported as skipped and left out. Errors are store failures.
func (l *subjectLoader) subjects(ctx context.Context, entity ir.EntityType, report *ir.Report, log *zap.Logger) ([]*rules.EntityContext, error) {
	if ecs, ok := l.byEntity[entity]; ok {
		return ecs, nil
	}

	var (
		ecs []*rules.EntityContext
		err error
	)
	switch entity {
	case ir.EntityOrder:
		ecs, err = l.orderSubjects(ctx)
	case ir.EntityEvent:
		ecs, err = l.eventSubjects(ctx, report, log)
	case ir.EntityCall:
		ecs, err = l.callSubjects(ctx)
	default:
		err = fmt.Errorf("unknown entity type %q", entity)
	}
	if err != nil {
		return nil, err
	}
	l.byEntity[entity] = ecs
	return ecs, nil
}

func (l *subjectLoader) newContext(entity ir.EntityType, subjectKey string) *rules.EntityContext {
	return &rules.EntityContext{
		Entity:      entity,
		SubjectKey:  subjectKey,
		WindowStart: l.start,
		WindowEnd:   l.end,
		Now:         l.end,
	}
}

// orderSubjects covers orders updated in the window or with events in it.
func (l *subjectLoader) orderSubjects(ctx context.Context) ([]*rules.EntityContext, error) {
	orders, err := l.store.ReadOrdersInWindow(ctx, l.start, l.end)
	if err != nil {
		return nil, fmt.Errorf("read orders in window: %w", err)
	}

	out := make([]*rules.EntityContext, 0, len(orders))
	for i := range orders {
		o := orders[i]
		l.orders[o.ID] = &o

		ec := l.newContext(ir.EntityOrder, ir.SubjectKey(ir.EntityOrder, o.ID))
		ec.Order = &o
		if err := l.attachOrderData(ctx, ec, o.ID); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, nil
}

// eventSubjects covers every event that occurred in the window.
func (l *subjectLoader) eventSubjects(ctx context.Context, report *ir.Report, log *zap.Logger) ([]*rules.EntityContext, error) {
	events, err := l.store.ReadEventsInWindow(ctx, l.start, l.end)
	if err != nil {
		return nil, fmt.Errorf("read events in window: %w", err)
	}

	out := make([]*rules.EntityContext, 0, len(events))
	for i := range events {
		ev := events[i]
		key := ir.EventSubjectKey(ev.ID)

		o, err := l.order(ctx, ev.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("event references unknown order",
				zap.String("subject", key),
				zap.String("order_id", ev.OrderID))
			report.Add(key, ir.OutcomeSkipped, "unknown order "+ev.OrderID)
			continue
		}
		if err != nil {
			return nil, err
		}

		ec := l.newContext(ir.EntityEvent, key)
		ec.Event = &ev
		ec.Order = o
		if err := l.attachOrderData(ctx, ec, ev.OrderID); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, nil
}

// callSubjects covers calls started in the window, with their match and the
// matched order when there is one.
func (l *subjectLoader) callSubjects(ctx context.Context) ([]*rules.EntityContext, error) {
	calls, err := l.store.ReadCallsInWindow(ctx, l.start, l.end)
	if err != nil {
		return nil, fmt.Errorf("read calls in window: %w", err)
	}

	out := make([]*rules.EntityContext, 0, len(calls))
	for i := range calls {
		c := calls[i]
		ec := l.newContext(ir.EntityCall, ir.SubjectKey(ir.EntityCall, c.ID))
		ec.Call = &c

		m, err := l.store.ReadMatch(ctx, c.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("read match of call %s: %w", c.ID, err)
		default:
			ec.Match = &m
			o, err := l.order(ctx, m.OrderID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			if err == nil {
				ec.Order = o
				evs, err := l.orderEvents(ctx, m.OrderID)
				if err != nil {
					return nil, err
				}
				ec.Events = evs
			}
		}
		out = append(out, ec)
	}
	return out, nil
}

// attachOrderData fills the order's log and its latest matched call.
func (l *subjectLoader) attachOrderData(ctx context.Context, ec *rules.EntityContext, orderID string) error {
	evs, err := l.orderEvents(ctx, orderID)
	if err != nil {
		return err
	}
	ec.Events = evs

	mc, ok, err := l.store.ReadLatestMatchedCall(ctx, orderID, l.end)
	if err != nil {
		return fmt.Errorf("read matched call of order %s: %w", orderID, err)
	}
	if ok {
		ec.Call = &mc.Call
		ec.Match = &mc.Match
	}
	return nil
}

func (l *subjectLoader) order(ctx context.Context, id string) (*ir.Order, error) {
	if o, ok := l.orders[id]; ok {
		return o, nil
	}
	o, err := l.store.ReadOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read order %s: %w", id, err)
	}
	l.orders[id] = &o
	return &o, nil
}

// orderEvents returns the order's log up to the window end.
func (l *subjectLoader) orderEvents(ctx context.Context, orderID string) ([]ir.OrderEvent, error) {
	if evs, ok := l.events[orderID]; ok {
		return evs, nil
	}
	all, err := l.store.ReadOrderEvents(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("read events of order %s: %w", orderID, err)
	}
	evs := make([]ir.OrderEvent, 0, len(all))
	for _, e := range all {
		if e.OccurredAt.After(l.end) {
			break
		}
		evs = append(evs, e)
	}
	l.events[orderID] = evs
	return evs, nil
}

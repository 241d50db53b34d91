package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Cursor marks the last processed call of a batch. Calls are ordered by
// (started_at, id) so calls sharing a start time are never skipped.
type Cursor struct {
	StartedAt time.Time
	CallID    string
}

// MatchedCall is a call together with the order it was matched to.
type MatchedCall struct {
	Call  ir.RawCall
	Match ir.CallOrderMatch
}

const callColumns = `id, direction, from_number, to_number, started_at, duration_sec, recording_ref, transcript`

const orderColumns = `id, number, status, created_at, updated_at, manager_id, total, payload`

const eventColumns = `id, order_id, field, old_value, new_value, manager_id, occurred_at`

const violationColumns = `id, rule_code, subject_key, entity_type, order_id, call_id, event_id, manager_id,
	severity, details, logic_hash, review_status, violated_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ReadCall returns a call by ID.
func (s *Store) ReadCall(ctx context.Context, id string) (ir.RawCall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.RawCall{}, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ReadCallsAfter returns up to limit calls strictly after the cursor in
// (started_at, id) order. The zero cursor starts from the first call.
func (s *Store) ReadCallsAfter(ctx context.Context, c Cursor, limit int) ([]ir.RawCall, error) {
	var rows *sql.Rows
	var err error
	if c.StartedAt.IsZero() && c.CallID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+callColumns+` FROM calls
			ORDER BY started_at ASC, id COLLATE BINARY ASC
			LIMIT ?
		`, limit)
	} else {
		at := formatTime(c.StartedAt)
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+callColumns+` FROM calls
			WHERE started_at > ? OR (started_at = ? AND id > ?)
			ORDER BY started_at ASC, id COLLATE BINARY ASC
			LIMIT ?
		`, at, at, c.CallID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query calls after cursor: %w", err)
	}
	return collectCalls(rows)
}

// ReadCallsInWindow returns calls started within [from, to].
func (s *Store) ReadCallsInWindow(ctx context.Context, from, to time.Time) ([]ir.RawCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE started_at >= ? AND started_at <= ?
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query calls in window: %w", err)
	}
	return collectCalls(rows)
}

func collectCalls(rows *sql.Rows) ([]ir.RawCall, error) {
	defer rows.Close()
	calls := []ir.RawCall{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

func scanCall(row scanner) (ir.RawCall, error) {
	var c ir.RawCall
	var direction, startedAt string
	if err := row.Scan(
		&c.ID, &direction, &c.FromNumber, &c.ToNumber, &startedAt,
		&c.DurationSec, &c.RecordingRef, &c.Transcript,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.RawCall{}, err
		}
		return ir.RawCall{}, fmt.Errorf("scan call: %w", err)
	}
	c.Direction = ir.Direction(direction)
	t, err := parseTime(startedAt)
	if err != nil {
		return ir.RawCall{}, err
	}
	c.StartedAt = t
	return c, nil
}

// ReadOrder returns an order snapshot with its indexed phones.
func (s *Store) ReadOrder(ctx context.Context, id string) (ir.Order, error) {
	orders, err := s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err != nil {
		return ir.Order{}, err
	}
	if len(orders) == 0 {
		return ir.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return orders[0], nil
}

// FindOrdersByPhones returns orders whose phone index contains any of keys.
func (s *Store) FindOrdersByPhones(ctx context.Context, keys []string) ([]ir.Order, error) {
	if len(keys) == 0 {
		return []ir.Order{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE id IN (SELECT order_id FROM order_phones WHERE phone IN (`+placeholders+`))
		ORDER BY id COLLATE BINARY ASC
	`, args...)
}

// FindOrdersBySuffix returns orders whose phone-occurrence log contains a
// phone ending in suffix.
func (s *Store) FindOrdersBySuffix(ctx context.Context, suffix string) ([]ir.Order, error) {
	if suffix == "" {
		return []ir.Order{}, nil
	}
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE id IN (SELECT order_id FROM phone_occurrences WHERE suffix = ?)
		ORDER BY id COLLATE BINARY ASC
	`, suffix)
}

// ReadOrdersInWindow returns orders updated within [from, to] or having at
// least one logged event in that range.
func (s *Store) ReadOrdersInWindow(ctx context.Context, from, to time.Time) ([]ir.Order, error) {
	f, t := formatTime(from), formatTime(to)
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE (updated_at >= ? AND updated_at <= ?)
		   OR id IN (SELECT order_id FROM order_events WHERE occurred_at >= ? AND occurred_at <= ?)
		ORDER BY id COLLATE BINARY ASC
	`, f, t, f, t)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]ir.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	orders := []ir.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	for i := range orders {
		phones, err := s.readOrderPhones(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Phones = phones
	}
	return orders, nil
}

func (s *Store) readOrderPhones(ctx context.Context, orderID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone FROM order_phones WHERE order_id = ? ORDER BY phone ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order phones: %w", err)
	}
	defer rows.Close()
	phones := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan order phone: %w", err)
		}
		phones = append(phones, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order phones: %w", err)
	}
	return phones, nil
}

func scanOrder(row scanner) (ir.Order, error) {
	var o ir.Order
	var createdAt, updatedAt, total, payload string
	if err := row.Scan(
		&o.ID, &o.Number, &o.Status, &createdAt, &updatedAt, &o.ManagerID, &total, &payload,
	); err != nil {
		return ir.Order{}, fmt.Errorf("scan order: %w", err)
	}
	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Order{}, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.Order{}, err
	}
	if o.Total, err = parseTotal(total); err != nil {
		return ir.Order{}, err
	}
	if o.Payload, err = unmarshalObject(payload); err != nil {
		return ir.Order{}, err
	}
	return o, nil
}

// ReadOrderEvents returns an order's full change log in time order.
func (s *Store) ReadOrderEvents(ctx context.Context, orderID string) ([]ir.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM order_events
		WHERE order_id = ?
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	return collectEvents(rows)
}

// ReadEventsInWindow returns events that occurred within [from, to].
func (s *Store) ReadEventsInWindow(ctx context.Context, from, to time.Time) ([]ir.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM order_events
		WHERE occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, id ASC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query events in window: %w", err)
	}
	return collectEvents(rows)
}

// ReadStatusHistories returns, per order, every status event up to until plus
// the first one after it, in time order. The extra event closes the interval
// that is running at until. Only orders with at least one event up to until
// are present.
func (s *Store) ReadStatusHistories(ctx context.Context, until time.Time) (map[string][]ir.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM order_events
		WHERE field = ?
		ORDER BY order_id COLLATE BINARY ASC, occurred_at ASC, id ASC
	`, ir.StatusField)
	if err != nil {
		return nil, fmt.Errorf("query status histories: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ir.OrderEvent)
	closed := make(map[string]bool)
	for _, e := range events {
		if !e.OccurredAt.After(until) {
			out[e.OrderID] = append(out[e.OrderID], e)
			continue
		}
		if len(out[e.OrderID]) > 0 && !closed[e.OrderID] {
			out[e.OrderID] = append(out[e.OrderID], e)
			closed[e.OrderID] = true
		}
	}
	return out, nil
}

func collectEvents(rows *sql.Rows) ([]ir.OrderEvent, error) {
	defer rows.Close()
	events := []ir.OrderEvent{}
	for rows.Next() {
		var e ir.OrderEvent
		var occurredAt string
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.Field, &e.OldValue, &e.NewValue, &e.ManagerID, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		t, err := parseTime(occurredAt)
		if err != nil {
			return nil, err
		}
		e.OccurredAt = t
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order events: %w", err)
	}
	return events, nil
}

// ReadMatch returns the persisted match of a call.
func (s *Store) ReadMatch(ctx context.Context, callID string) (ir.CallOrderMatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT call_id, order_id, score, match_type, explanation, matched_at
		FROM call_order_matches WHERE call_id = ?
	`, callID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CallOrderMatch{}, fmt.Errorf("match for call %s: %w", callID, ErrNotFound)
	}
	return m, err
}

// CountMatches returns the number of persisted matches.
func (s *Store) CountMatches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_order_matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}

// ReadLatestMatchedCall returns the most recent call matched to the order
// that started at or before until. ok is false when there is none.
func (s *Store) ReadLatestMatchedCall(ctx context.Context, orderID string, until time.Time) (MatchedCall, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.direction, c.from_number, c.to_number, c.started_at, c.duration_sec,
		       c.recording_ref, c.transcript,
		       m.call_id, m.order_id, m.score, m.match_type, m.explanation, m.matched_at
		FROM call_order_matches m
		JOIN calls c ON c.id = m.call_id
		WHERE m.order_id = ? AND c.started_at <= ?
		ORDER BY c.started_at DESC, c.id DESC
		LIMIT 1
	`, orderID, formatTime(until))
	mc, err := scanMatchedCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MatchedCall{}, false, nil
	}
	if err != nil {
		return MatchedCall{}, false, err
	}
	return mc, true, nil
}

// ReadMatchedCallsInWindow returns matched calls started within [from, to]
// lasting at least minDurationSec.
func (s *Store) ReadMatchedCallsInWindow(ctx context.Context, from, to time.Time, minDurationSec int64) ([]MatchedCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.direction, c.from_number, c.to_number, c.started_at, c.duration_sec,
		       c.recording_ref, c.transcript,
		       m.call_id, m.order_id, m.score, m.match_type, m.explanation, m.matched_at
		FROM call_order_matches m
		JOIN calls c ON c.id = m.call_id
		WHERE c.started_at >= ? AND c.started_at <= ? AND c.duration_sec >= ?
		ORDER BY c.started_at ASC, c.id ASC
	`, formatTime(from), formatTime(to), minDurationSec)
	if err != nil {
		return nil, fmt.Errorf("query matched calls: %w", err)
	}
	defer rows.Close()
	out := []MatchedCall{}
	for rows.Next() {
		mc, err := scanMatchedCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matched calls: %w", err)
	}
	return out, nil
}

func scanMatch(row scanner) (ir.CallOrderMatch, error) {
	var m ir.CallOrderMatch
	var matchType, matchedAt string
	if err := row.Scan(&m.CallID, &m.OrderID, &m.Score, &matchType, &m.Explanation, &matchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.CallOrderMatch{}, err
		}
		return ir.CallOrderMatch{}, fmt.Errorf("scan match: %w", err)
	}
	m.MatchType = ir.MatchType(matchType)
	t, err := parseTime(matchedAt)
	if err != nil {
		return ir.CallOrderMatch{}, err
	}
	m.MatchedAt = t
	return m, nil
}

func scanMatchedCall(row scanner) (MatchedCall, error) {
	var mc MatchedCall
	var direction, startedAt, matchType, matchedAt string
	if err := row.Scan(
		&mc.Call.ID, &direction, &mc.Call.FromNumber, &mc.Call.ToNumber, &startedAt,
		&mc.Call.DurationSec, &mc.Call.RecordingRef, &mc.Call.Transcript,
		&mc.Match.CallID, &mc.Match.OrderID, &mc.Match.Score, &matchType,
		&mc.Match.Explanation, &matchedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MatchedCall{}, err
		}
		return MatchedCall{}, fmt.Errorf("scan matched call: %w", err)
	}
	mc.Call.Direction = ir.Direction(direction)
	mc.Match.MatchType = ir.MatchType(matchType)
	var err error
	if mc.Call.StartedAt, err = parseTime(startedAt); err != nil {
		return MatchedCall{}, err
	}
	if mc.Match.MatchedAt, err = parseTime(matchedAt); err != nil {
		return MatchedCall{}, err
	}
	return mc, nil
}

// ReadRule returns a rule by code.
func (s *Store) ReadRule(ctx context.Context, code string) (ir.Rule, error) {
	rules, err := s.queryRules(ctx, `
		SELECT code, name, entity_type, logic, severity, active, params
		FROM rules WHERE code = ?
	`, code)
	if err != nil {
		return ir.Rule{}, err
	}
	if len(rules) == 0 {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", code, ErrNotFound)
	}
	return rules[0], nil
}

// ReadActiveRules returns every active rule ordered by code.
func (s *Store) ReadActiveRules(ctx context.Context) ([]ir.Rule, error) {
	return s.queryRules(ctx, `
		SELECT code, name, entity_type, logic, severity, active, params
		FROM rules WHERE active = 1
		ORDER BY code COLLATE BINARY ASC
	`)
}

// ReadAllRules returns every rule ordered by code.
func (s *Store) ReadAllRules(ctx context.Context) ([]ir.Rule, error) {
	return s.queryRules(ctx, `
		SELECT code, name, entity_type, logic, severity, active, params
		FROM rules
		ORDER BY code COLLATE BINARY ASC
	`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]ir.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	rules := []ir.Rule{}
	for rows.Next() {
		var r ir.Rule
		var entity, logic, severity, params string
		var active int
		if err := rows.Scan(&r.Code, &r.Name, &entity, &logic, &severity, &active, &params); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.EntityType = ir.EntityType(entity)
		r.Severity = ir.Severity(severity)
		r.Active = active != 0
		if r.Logic, err = unmarshalLogic(logic); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Code, err)
		}
		if r.Params, err = unmarshalObject(params); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Code, err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// ReadViolation returns the violation for (ruleCode, subjectKey).
func (s *Store) ReadViolation(ctx context.Context, ruleCode, subjectKey string) (ir.Violation, error) {
	vs, err := s.queryViolations(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE rule_code = ? AND subject_key = ?
	`, ruleCode, subjectKey)
	if err != nil {
		return ir.Violation{}, err
	}
	if len(vs) == 0 {
		return ir.Violation{}, fmt.Errorf("violation %s/%s: %w", ruleCode, subjectKey, ErrNotFound)
	}
	return vs[0], nil
}

// ReadViolations returns every violation ordered by (rule_code, subject_key).
func (s *Store) ReadViolations(ctx context.Context) ([]ir.Violation, error) {
	return s.queryViolations(ctx, `
		SELECT `+violationColumns+` FROM violations
		ORDER BY rule_code COLLATE BINARY ASC, subject_key COLLATE BINARY ASC
	`)
}

// CountViolations returns the number of persisted violations.
func (s *Store) CountViolations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM violations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

func (s *Store) queryViolations(ctx context.Context, query string, args ...any) ([]ir.Violation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()
	out := []ir.Violation{}
	for rows.Next() {
		var v ir.Violation
		var entity, severity, details, review, violatedAt string
		if err := rows.Scan(
			&v.ID, &v.RuleCode, &v.SubjectKey, &entity, &v.OrderID, &v.CallID, &v.EventID,
			&v.ManagerID, &severity, &details, &v.LogicHash, &review, &violatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.EntityType = ir.EntityType(entity)
		v.Severity = ir.Severity(severity)
		v.ReviewStatus = ir.ReviewStatus(review)
		if v.Details, err = unmarshalObject(details); err != nil {
			return nil, err
		}
		if v.ViolatedAt, err = parseTime(violatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return out, nil
}

// ReadCursor returns the cursor stored under name. ok is false when no
// cursor has been written yet.
func (s *Store) ReadCursor(ctx context.Context, name string) (Cursor, bool, error) {
	var startedAt, callID string
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, call_id FROM cursors WHERE name = ?`, name,
	).Scan(&startedAt, &callID)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("read cursor %s: %w", name, err)
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return Cursor{}, false, err
	}
	return Cursor{StartedAt: t, CallID: callID}, true, nil
}

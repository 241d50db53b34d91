package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/phone"
)

// ErrEventOutOfOrder is returned when an event would precede the order's
// latest logged event.
var ErrEventOutOfOrder = errors.New("order event out of order")

// UpsertCall stores a call record. Calls are immutable once ingested except
// for the transcript, which replaces the stored one when non-empty.
func (s *Store) UpsertCall(ctx context.Context, c ir.RawCall) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls
		(id, direction, from_number, to_number, client_phone, started_at, duration_sec, recording_ref, transcript)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transcript = CASE WHEN excluded.transcript != '' THEN excluded.transcript ELSE calls.transcript END
	`,
		c.ID,
		string(c.Direction),
		c.FromNumber,
		c.ToNumber,
		phone.Normalize(c.ClientNumber()),
		formatTime(c.StartedAt),
		c.DurationSec,
		c.RecordingRef,
		c.Transcript,
	)
	if err != nil {
		return fmt.Errorf("upsert call %s: %w", c.ID, err)
	}
	return nil
}

// AttachTranscript sets the transcript of an existing call.
func (s *Store) AttachTranscript(ctx context.Context, callID, transcript string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calls SET transcript = ? WHERE id = ?`, transcript, callID)
	if err != nil {
		return fmt.Errorf("attach transcript %s: %w", callID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach transcript %s: %w", callID, err)
	}
	if n == 0 {
		return fmt.Errorf("attach transcript %s: %w", callID, ErrNotFound)
	}
	return nil
}

// UpsertOrder replaces the order snapshot and adds its phones to the phone
// index. Phones already indexed are kept even if absent from o.Phones.
func (s *Store) UpsertOrder(ctx context.Context, o ir.Order) error {
	payload, err := marshalObject(o.Payload)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert order %s: begin: %w", o.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, number, status, created_at, updated_at, manager_id, total, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			manager_id = excluded.manager_id,
			total = excluded.total,
			payload = excluded.payload
	`,
		o.ID,
		o.Number,
		o.Status,
		formatTime(o.CreatedAt),
		formatTime(o.UpdatedAt),
		o.ManagerID,
		o.Total.String(),
		payload,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}

	for _, key := range phone.NormalizeAll(o.Phones) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_phones (order_id, phone) VALUES (?, ?)
			ON CONFLICT(order_id, phone) DO NOTHING
		`, o.ID, key); err != nil {
			return fmt.Errorf("upsert order %s phone: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert order %s: commit: %w", o.ID, err)
	}
	return nil
}

// RecordPhoneOccurrence logs a phone seen on order-related activity so it can
// be found later by suffix. Invalid phones are ignored.
func (s *Store) RecordPhoneOccurrence(ctx context.Context, orderID, rawPhone, source string, seenAt time.Time) error {
	key := phone.Normalize(rawPhone)
	if !phone.IsValid(key) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phone_occurrences (order_id, phone, suffix, source, seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_id, phone) DO UPDATE SET
			source = excluded.source,
			seen_at = MAX(phone_occurrences.seen_at, excluded.seen_at)
	`, orderID, key, phone.Suffix(key, phone.DefaultSuffixLen), source, formatTime(seenAt))
	if err != nil {
		return fmt.Errorf("record phone occurrence for order %s: %w", orderID, err)
	}
	return nil
}

// AppendEvent appends to an order's change log and returns the assigned ID.
// The log is append-only and non-decreasing in time per order; an event older
// than the latest logged one fails with ErrEventOutOfOrder. Re-delivering an
// event identical to a logged one returns the existing ID.
func (s *Store) AppendEvent(ctx context.Context, e ir.OrderEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append event: begin: %w", err)
	}
	defer tx.Rollback()

	occurred := formatTime(e.OccurredAt)
	var existing int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM order_events
		WHERE order_id = ? AND field = ? AND old_value = ? AND new_value = ?
		  AND manager_id = ? AND occurred_at = ?
		ORDER BY id ASC LIMIT 1
	`, e.OrderID, e.Field, e.OldValue, e.NewValue, e.ManagerID, occurred).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("append event: duplicate check: %w", err)
	}

	var latest sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(occurred_at) FROM order_events WHERE order_id = ?`, e.OrderID,
	).Scan(&latest); err != nil {
		return 0, fmt.Errorf("append event: latest: %w", err)
	}
	if latest.Valid && occurred < latest.String {
		return 0, fmt.Errorf("append event for order %s at %s: %w", e.OrderID, occurred, ErrEventOutOfOrder)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (order_id, field, old_value, new_value, manager_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.OrderID, e.Field, e.OldValue, e.NewValue, e.ManagerID, occurred)
	if err != nil {
		return 0, fmt.Errorf("append event for order %s: %w", e.OrderID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append event: commit: %w", err)
	}
	return id, nil
}

// UpsertMatch stores the match for a call, replacing any earlier one.
// call_id is the natural key: matching a call twice leaves one row.
func (s *Store) UpsertMatch(ctx context.Context, m ir.CallOrderMatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_order_matches (call_id, order_id, score, match_type, explanation, matched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			order_id = excluded.order_id,
			score = excluded.score,
			match_type = excluded.match_type,
			explanation = excluded.explanation,
			matched_at = excluded.matched_at
	`,
		m.CallID,
		m.OrderID,
		m.Score,
		string(m.MatchType),
		m.Explanation,
		formatTime(m.MatchedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert match for call %s: %w", m.CallID, err)
	}
	return nil
}

// UpsertRule stores a rule definition keyed by code.
func (s *Store) UpsertRule(ctx context.Context, r ir.Rule) error {
	logic, err := marshalLogic(r.Logic)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.Code, err)
	}
	hash, err := ir.LogicHash(r.Logic)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.Code, err)
	}
	params, err := marshalObject(r.Params)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.Code, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (code, name, entity_type, logic, logic_hash, severity, active, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			entity_type = excluded.entity_type,
			logic = excluded.logic,
			logic_hash = excluded.logic_hash,
			severity = excluded.severity,
			active = excluded.active,
			params = excluded.params
	`,
		r.Code,
		r.Name,
		string(r.EntityType),
		logic,
		hash,
		string(r.Severity),
		boolToInt(r.Active),
		params,
	)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.Code, err)
	}
	return nil
}

// UpsertViolation inserts or refreshes a violation by (rule_code, subject_key).
// A refresh updates severity, details, manager and timestamp but keeps the
// reviewer's review_status. It reports whether a new row was created.
func (s *Store) UpsertViolation(ctx context.Context, v ir.Violation) (bool, error) {
	details, err := marshalObject(v.Details)
	if err != nil {
		return false, fmt.Errorf("upsert violation %s/%s: %w", v.RuleCode, v.SubjectKey, err)
	}
	if v.ID == "" {
		v.ID = ir.ViolationID(v.RuleCode, v.SubjectKey)
	}
	review := v.ReviewStatus
	if review == "" {
		review = ir.ReviewPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert violation: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM violations WHERE rule_code = ? AND subject_key = ?`,
		v.RuleCode, v.SubjectKey,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("upsert violation %s/%s: %w", v.RuleCode, v.SubjectKey, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO violations
		(id, rule_code, subject_key, entity_type, order_id, call_id, event_id, manager_id,
		 severity, details, logic_hash, review_status, violated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_code, subject_key) DO UPDATE SET
			entity_type = excluded.entity_type,
			order_id = excluded.order_id,
			call_id = excluded.call_id,
			event_id = excluded.event_id,
			manager_id = excluded.manager_id,
			severity = excluded.severity,
			details = excluded.details,
			logic_hash = excluded.logic_hash,
			violated_at = excluded.violated_at
	`,
		v.ID,
		v.RuleCode,
		v.SubjectKey,
		string(v.EntityType),
		v.OrderID,
		v.CallID,
		v.EventID,
		v.ManagerID,
		string(v.Severity),
		details,
		v.LogicHash,
		string(review),
		formatTime(v.ViolatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("upsert violation %s/%s: %w", v.RuleCode, v.SubjectKey, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert violation: commit: %w", err)
	}
	return exists == 0, nil
}

// SetReviewStatus records a reviewer verdict on a violation.
func (s *Store) SetReviewStatus(ctx context.Context, violationID string, status ir.ReviewStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE violations SET review_status = ? WHERE id = ?`, string(status), violationID)
	if err != nil {
		return fmt.Errorf("set review status %s: %w", violationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set review status %s: %w", violationID, err)
	}
	if n == 0 {
		return fmt.Errorf("set review status %s: %w", violationID, ErrNotFound)
	}
	return nil
}

// WriteCursor persists batch progress under name.
func (s *Store) WriteCursor(ctx context.Context, name string, c Cursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, started_at, call_id) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			started_at = excluded.started_at,
			call_id = excluded.call_id
	`, name, formatTime(c.StartedAt), c.CallID)
	if err != nil {
		return fmt.Errorf("write cursor %s: %w", name, err)
	}
	return nil
}

// ResetCursor removes a cursor so the next batch starts from the beginning.
func (s *Store) ResetCursor(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE name = ?`, name); err != nil {
		return fmt.Errorf("reset cursor %s: %w", name, err)
	}
	return nil
}

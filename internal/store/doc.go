// Package store provides SQLite-backed persistence for the quality-control core.
//
// Tables:
//   - calls, orders, order_phones, phone_occurrences: normalized inputs
//   - order_events: append-only change log, non-decreasing in time per order
//   - call_order_matches: at most one row per call (upsert by call_id)
//   - rules: rule definitions keyed by code
//   - violations: unique per (rule_code, subject_key)
//   - cursors: batch progress markers
//
// Every write is an upsert by natural key, so repeated or overlapping
// invocations converge on the same rows without locks.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Structured columns (order payloads, rule logic, violation details) are
// stored as RFC 8785 canonical JSON produced by internal/ir.
package store

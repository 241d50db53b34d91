// Package harness runs end-to-end scenarios against the matching engine, the
// rule engine and the efficiency report, and compares their traces with
// golden snapshots.
//
// Every scenario runs in a fresh in-memory database with a fixed clock,
// sequential run IDs and a scripted AI judge, so the same scenario always
// produces a byte-identical snapshot.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	now: 2024-03-02T00:00:00Z
//	seed:                         # same format as `okkqc import`
//	  orders: [...]
//	  events: [...]
//	  calls: [...]
//	rules: |                      # CUE rule definitions
//	  rule: stuck_new: {...}
//	judge:
//	  verdicts: {"call:c2": true} # subject key -> verdict, default false
//	  fail: ["call:c9"]           # subjects whose judge call errors
//	steps:
//	  - match: {batch_size: 10}
//	  - backfill: {cursor: 2024-03-01T00:00:00Z}
//	  - run: {from: ..., to: ..., rule: stuck_new, dry_run: false}
//	  - dry_run: {entity: event, lookback_days: 1, logic: {trigger: ...}}
//	  - review: {rule: stuck_new, subject: "order:1001", status: confirmed}
//	  - efficiency: {from: ..., to: ..., working_statuses: [new]}
//	assertions:
//	  - type: outcome
//	    kind: run
//	    key: stuck_new/order:1001
//	    status: success
//	  - type: final_state
//	    table: violations
//	    where: {rule_code: stuck_new}
//	    expect: {review_status: confirmed}
//
// # Assertion Types
//
//   - outcome: an item with the key (and status, if given) appears in the trace
//   - outcome_count: the number of items of a step kind and status
//   - violation_count: persisted violations, optionally for one rule
//   - final_state: queries a table and verifies expected column values
//   - manager_minutes: minutes attributed to a manager by the last efficiency step
//   - judge_calls: total calls made to the scripted judge
//
// # Golden Files
//
// RunWithGolden stores snapshots in testdata/golden/{name}.golden as
// canonical JSON. Regenerate with:
//
//	go test ./internal/harness -update
package harness

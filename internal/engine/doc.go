// Package engine implements the rule execution engine.
//
// A run loads the rules to evaluate (all active rules, one rule by code, or
// an unsaved override), materializes an entity context for every subject in
// the window, and evaluates each rule's trigger and conditions against it.
// Fired rules become violations.
//
// # Replay
//
// Idempotency is structural, not a special replay mode. The same code path
// handles the first run over a window and every later run that overlaps it:
//
//   - violations are upserted by (rule code, subject key) under a UNIQUE
//     constraint, with an ID derived from the same pair
//   - ViolatedAt comes from the data (event time, call start, status time),
//     never from the clock
//   - rules are evaluated in code order and subjects in store order
//
// A rolling lookback on every cron tick therefore tolerates missed runs,
// late data and restarts without coordination. A run aborted by a store
// failure leaves its earlier upserts in place; rerunning the window is safe.
//
// # Failures
//
// Subjects referencing missing data are skipped and reported. Judge
// failures make the condition a dependency failure: the rule does not fire,
// the item is reported as an error, and the run continues. Store failures
// abort the run with a RunError coded PERSISTENCE_FAILED. An empty rule set
// is a no-op success.
package engine

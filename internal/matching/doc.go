// Package matching associates telephony calls with sales orders.
//
// A call is matched by its client-side phone: the canonical key and its
// trunk-prefixed variants are looked up in the order phone index, and the
// key's suffix in the phone-occurrence log. Candidates outside the time
// window are discarded; the rest are scored and the best one is persisted
// as an upsert keyed by call ID.
//
// Ranking is deterministic: score desc, time delta asc, order creation
// desc, order ID asc.
//
// Batch mode walks calls in (started_at, id) order from a persisted cursor,
// advancing it after every call whether or not a match was found. A failed
// match write is recorded in the report and the batch moves on.
package matching

// Package ir holds the records shared by the matching engine, the rule engine
// and the store: calls, orders, the order event log, call-order matches, rules
// and violations, plus the constrained value model used for rule parameters
// and violation details.
//
// ir imports nothing internal; every other package may import it.
//
// Constraints:
//   - no float values in Object/Array (parameters hash deterministically)
//   - JSON tags are snake_case
//   - natural keys: CallOrderMatch.CallID, Rule.Code, (Violation.RuleCode, Violation.SubjectKey)
package ir

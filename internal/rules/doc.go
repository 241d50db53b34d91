// Package rules holds the rule block vocabulary and evaluates compiled rules
// against a materialized entity context.
//
// A rule's logic is one trigger block plus ordered condition blocks. Blocks
// are looked up by name in a Registry when a rule is compiled, so an unknown
// block, a block used in the wrong position, or bad parameters fail at load
// time rather than during a run.
//
// Conditions are evaluated in order and stop at the first one that is not
// Satisfied. A DependencyFailed outcome (judge timeout, malformed response)
// never fires the rule; it is reported separately from NotSatisfied so the
// caller can retry later.
package rules

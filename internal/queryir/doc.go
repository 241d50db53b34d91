// Package queryir is a small filter language for reading stored rows,
// used by the violations listing.
//
// A Select names a table, an optional filter predicate and a row limit.
// Predicates are a sealed set:
//
//	Equals{Field, Value}    field = value
//	In{Field, Values}       field IN (values...)
//	Between{Field, From, To} From <= field <= To, either bound optional
//	And{Predicates}         conjunction; empty means always true
//
// Validate checks a query against a table's column whitelist before any
// backend sees it, so field names can be spliced into SQL safely. Values are
// always bound as parameters by the backend (see package querysql).
package queryir

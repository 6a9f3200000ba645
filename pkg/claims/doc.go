// Package claims holds the canonical representation of JWT claim values.
//
// Arbitrary Go values are turned into a closed set of variants (String, Integer,
// Float, Boolean, Null, List and *Map) by a Normalizer, and a *Map is rendered to
// JSON text by Serialize. The two are pure and safe for concurrent use.
//
// Claim order is significant: *Map remembers insertion order, Object gives callers
// an ordered mapping input, and JSON or YAML documents keep their member order.
// Go maps have no order and are emitted with sorted keys.
package claims

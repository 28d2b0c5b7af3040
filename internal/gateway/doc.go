// Package gateway is the boundary between truthd and the external model.
//
// Three operations cross it: structured extraction of a turn, text
// embedding, and a pairwise conflict check between two summaries. Each has
// a fixed JSON contract defined in this package; responses that do not
// satisfy it fail with ErrSchemaMismatch. Transport failures, timeouts and
// non-2xx responses are reported as *Error.
//
// Every operation is retried twice after the first failure, waiting 0.5s
// and then 1s. ErrSchemaMismatch and context cancellation are returned
// immediately.
package gateway

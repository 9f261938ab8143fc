// Package dedupe provides an idempotency cache so that a client retrying a
// request with the same Idempotency-Key gets the original result instead of
// a second side effect.
package dedupe

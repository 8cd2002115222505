// Package faults defines the error taxonomy shared across the evaluation
// pipeline. Every failure is local to one model evaluation and is never
// retried; callers are expected to fail the enclosing run.
package faults

import "errors"

var (
	// ErrConfiguration marks invalid driver or model configuration
	// (negative history, non-positive sequence length, duplicate sites).
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedModel marks a model the current strategy cannot handle,
	// such as a discrete latent without an enumeration strategy. Permanent;
	// requires a model change.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrDimensionMismatch marks conflicting plate declarations.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEquivalence marks divergence between sequential and vectorized
	// evaluation beyond tolerance. This is the primary failure mode the
	// harness exists to catch.
	ErrEquivalence = errors.New("equivalence failure")
)

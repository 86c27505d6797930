// Package testutil provides testing utilities for entrycache.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe RNG and generators for keys,
// payloads and skewed access patterns.
//
// # Payloads and Keys
//
//	rng := testutil.NewRNG(seed)
//	payload := rng.Bytes(4096)
//	key := rng.Key(16)
//
// # Skewed Access
//
//	idx := rng.Zipf(len(keys), 1.2) // hot keys are picked far more often
package testutil

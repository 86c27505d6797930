// Package ranking provides the recency list used for eviction and enumeration.
//
// The list is arena backed: nodes are stored in a slice and addressed by
// generation-checked handles instead of pointers. Insert, Remove and
// UpdateRank are O(1). Next walks from least to most recently used, Prev
// from most to least recently used.
package ranking

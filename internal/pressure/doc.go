// Package pressure watches host memory and asks caches to shrink when it runs low.
//
// A Watcher polls a Probe on a fixed interval. Reactions are rate limited
// per level so a host that stays under pressure does not cause an eviction
// pass on every tick.
package pressure

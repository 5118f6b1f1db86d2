// Package memres implements an instrumented polymorphic memory resource:
// an allocator wrapper that records allocation statistics, validates
// per-block guard bytes at deallocation time, and can deterministically
// inject out-of-memory failures so exception-safety paths in code under
// test can be exercised.
//
// A Resource is built with a Config/Option constructor, keeps its
// counters under a single mutex with lock-free atomic reads, and
// delegates real allocation to a pluggable Upstream.
package memres

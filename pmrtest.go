// Package pmrtest is the public façade over internal/memres: an
// instrumented polymorphic memory resource for exercising allocator-
// sensitive code under test, modeled on the bloomberg/p1160 test
// resource proposal.
//
// A Resource wraps an Upstream, recording allocation/deallocation
// counts and byte totals, guarding every block with a header and
// redzones, and optionally injecting out-of-memory failures after a
// configurable number of allocations. Deallocate-time corruption
// (double-free, bounds overrun, wrong resource) is reported to
// standard output and, by default, aborts the process -- the same
// trade-off the original proposal makes in favor of catching bugs at
// the exact moment they happen.
package pmrtest

import "github.com/orizon-lang/pmrtest/internal/memres"

// A Resource is an instrumented polymorphic memory resource.
type Resource = memres.Resource

// Option configures a Resource at construction time.
type Option = memres.Option

// Upstream is the pluggable resource a Resource delegates real
// allocation to.
type Upstream = memres.Upstream

// A Monitor is a differential snapshot of one Resource's counters.
type Monitor = memres.Monitor

// A DefaultResourceGuard scopes an installation of the process-wide
// default resource.
type DefaultResourceGuard = memres.DefaultResourceGuard

// A ResourceFault is the error Resource.Allocate returns for its two
// synchronous failure modes (bad alignment, injected out-of-memory).
type ResourceFault = memres.ResourceFault

// TestBody is a routine exercised by ExerciseAllocationExceptions.
type TestBody = memres.TestBody

// DefaultMaxRetries bounds ExerciseAllocationExceptions' retry loop.
const DefaultMaxRetries = memres.DefaultMaxRetries

// ErrRetriesExceeded is returned when a test body's worst-case
// allocation count did not appear to be finite within the retry bound.
var ErrRetriesExceeded = memres.ErrRetriesExceeded

// New constructs an instrumented resource.
func New(opts ...Option) *Resource { return memres.New(opts...) }

// WithName sets the resource's diagnostic name.
func WithName(name string) Option { return memres.WithName(name) }

// WithUpstream sets the resource an instrumented resource delegates
// real allocation to.
func WithUpstream(u Upstream) Option { return memres.WithUpstream(u) }

// WithVerbose enables per-call allocation/deallocation tracing.
func WithVerbose(v bool) Option { return memres.WithVerbose(v) }

// WithQuiet suppresses deallocation-error diagnostics and the leak
// report at Close.
func WithQuiet(v bool) Option { return memres.WithQuiet(v) }

// WithNoAbort disables the process-terminating behavior that follows
// a reported deallocation error or leak.
func WithNoAbort(v bool) Option { return memres.WithNoAbort(v) }

// WithAllocationLimit sets the initial allocation-count limit.
func WithAllocationLimit(limit int64) Option { return memres.WithAllocationLimit(limit) }

// NewDefaultUpstream returns the process-wide malloc/free-backed
// upstream resource.
func NewDefaultUpstream() Upstream { return memres.NewDefaultUpstream() }

// NewArenaUpstream returns an upstream backed by a single fixed-size
// buffer.
func NewArenaUpstream(size int) Upstream { return memres.NewArenaUpstream(size) }

// NewCountingUpstream wraps inner with allocate/deallocate call
// counters.
func NewCountingUpstream(inner Upstream) *memres.CountingUpstream {
	return memres.NewCountingUpstream(inner)
}

// NewMonitor snapshots resource's current in-use, max, and total
// block counts.
func NewMonitor(resource *Resource) *Monitor { return memres.NewMonitor(resource) }

// DefaultResource returns the process-wide default resource.
func DefaultResource() *Resource { return memres.DefaultResource() }

// NewDefaultResourceGuard installs resource as the process-wide
// default, returning a guard that restores the previous default on
// Close.
func NewDefaultResourceGuard(resource *Resource) *DefaultResourceGuard {
	return memres.NewDefaultResourceGuard(resource)
}

// AsInjectedOOM reports whether err is an injected out-of-memory
// fault.
func AsInjectedOOM(err error) (*ResourceFault, bool) { return memres.AsInjectedOOM(err) }

// IsBadAlignment reports whether err is a BadAlignment fault.
func IsBadAlignment(err error) bool { return memres.IsBadAlignment(err) }

// ExerciseAllocationExceptions replays body against resource under
// increasing allocation limits until it succeeds without an injected
// failure.
func ExerciseAllocationExceptions(resource *Resource, body TestBody) error {
	return memres.ExerciseAllocationExceptions(resource, body)
}

// ExerciseAllocationExceptionsWithLimit is ExerciseAllocationExceptions
// with an explicit retry bound.
func ExerciseAllocationExceptionsWithLimit(resource *Resource, body TestBody, maxRetries int64) error {
	return memres.ExerciseAllocationExceptionsWithLimit(resource, body, maxRetries)
}

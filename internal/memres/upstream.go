package memres

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Upstream is the external, pluggable memory resource that an
// instrumented Resource delegates real allocation to. It mirrors the
// allocate/deallocate half of the host's polymorphic-memory-resource
// protocol; Resource itself supplies the is_equal half.
type Upstream interface {
	// Allocate returns a slice of exactly bytes length, whose backing
	// array starts at the requested alignment. alignment is always a
	// power of two.
	Allocate(bytes, alignment int) ([]byte, error)

	// Deallocate returns a block previously produced by Allocate back
	// to the upstream. Implementations that cannot reclaim individual
	// blocks (for example an arena) may treat this as a no-op.
	Deallocate(block []byte)
}

func alignOffset(base uintptr, alignment int) int {
	a := uintptr(alignment)
	aligned := (base + a - 1) &^ (a - 1)

	return int(aligned - base)
}

// defaultUpstream is a process-wide malloc/free-backed resource: every
// Allocate is an ordinary Go heap allocation, over-sized just enough to
// satisfy the requested alignment. Deallocate is a no-op; the Go
// garbage collector reclaims the block once the instrumented resource
// drops its last reference.
type defaultUpstream struct{}

func (defaultUpstream) Allocate(bytes, alignment int) ([]byte, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("memres: negative allocation size %d", bytes)
	}

	if alignment <= 0 {
		alignment = 1
	}

	raw := make([]byte, bytes+alignment)
	off := alignOffset(uintptr(unsafe.Pointer(&raw[0])), alignment)

	return raw[off : off+bytes : off+bytes], nil
}

func (defaultUpstream) Deallocate(block []byte) {}

var (
	defaultUpstreamOnce sync.Once
	defaultUpstreamInst Upstream
)

// NewDefaultUpstream returns the process-wide malloc/free-backed
// upstream resource, constructing it on first use.
func NewDefaultUpstream() Upstream {
	defaultUpstreamOnce.Do(func() {
		defaultUpstreamInst = defaultUpstream{}
	})

	return defaultUpstreamInst
}

// arenaUpstream is a bump-pointer allocator over a fixed-size buffer.
// It never reclaims individual allocations; Deallocate is a no-op.
type arenaUpstream struct {
	buffer []byte
	offset int
	mu     sync.Mutex
}

// NewArenaUpstream returns an upstream backed by a single fixed-size
// buffer of size bytes. Once exhausted, Allocate fails with an error
// that Resource.Allocate propagates unchanged as an UpstreamFailure.
func NewArenaUpstream(size int) Upstream {
	return &arenaUpstream{buffer: make([]byte, size)}
}

func (a *arenaUpstream) Allocate(bytes, alignment int) ([]byte, error) {
	if alignment <= 0 {
		alignment = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := uintptr(unsafe.Pointer(&a.buffer[0]))
	addr := base + uintptr(a.offset)
	off := alignOffset(addr, alignment)

	start := a.offset + off
	end := start + bytes

	if end > len(a.buffer) {
		return nil, fmt.Errorf("memres: arena exhausted: want %d bytes, %d remaining",
			bytes, len(a.buffer)-a.offset)
	}

	a.offset = end

	return a.buffer[start:end:end], nil
}

func (a *arenaUpstream) Deallocate(block []byte) {}

// CountingUpstream decorates another Upstream and counts how many
// successful allocate calls and how many deallocate calls it forwards,
// so tests can verify the
// instrumented resource delegates real allocation exactly once per
// public call.
type CountingUpstream struct {
	inner    Upstream
	allocs   atomic.Int64
	deallocs atomic.Int64
}

// NewCountingUpstream wraps inner with call counters.
func NewCountingUpstream(inner Upstream) *CountingUpstream {
	return &CountingUpstream{inner: inner}
}

func (c *CountingUpstream) Allocate(bytes, alignment int) ([]byte, error) {
	block, err := c.inner.Allocate(bytes, alignment)
	if err == nil {
		c.allocs.Add(1)
	}

	return block, err
}

func (c *CountingUpstream) Deallocate(block []byte) {
	c.deallocs.Add(1)
	c.inner.Deallocate(block)
}

// Counts reports the number of successful Allocate calls and the
// number of Deallocate calls forwarded to the wrapped upstream.
func (c *CountingUpstream) Counts() (allocs, deallocs int64) {
	return c.allocs.Load(), c.deallocs.Load()
}

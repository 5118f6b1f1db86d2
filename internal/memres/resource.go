package memres

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultMaxRetries bounds the exception-test driver's retry loop; see
// driver.go. It is also a reasonable ceiling on how many live
// allocations a single test process is expected to juggle.
const DefaultMaxRetries = 1_000_000

var resourceIDSeq atomic.Uint64

// noCopy causes `go vet`'s copylocks check to flag accidental copies of
// a Resource, the same guard idiom sync.Mutex itself uses.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Config configures a Resource at construction time.
type Config struct {
	Name            string
	Upstream        Upstream
	Verbose         bool
	Quiet           bool
	NoAbort         bool
	AllocationLimit int64
}

// Option mutates a Config during New.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{AllocationLimit: -1}
}

// WithName sets the resource's diagnostic name.
func WithName(name string) Option { return func(c *Config) { c.Name = name } }

// WithUpstream sets the resource the instrumented resource delegates
// real allocation to. If unset, New installs NewDefaultUpstream().
func WithUpstream(u Upstream) Option { return func(c *Config) { c.Upstream = u } }

// WithVerbose enables per-call allocation/deallocation tracing to
// standard output.
func WithVerbose(v bool) Option { return func(c *Config) { c.Verbose = v } }

// WithQuiet suppresses both deallocation-error diagnostics and the
// leak report at Close, without affecting whether errors are counted.
func WithQuiet(v bool) Option { return func(c *Config) { c.Quiet = v } }

// WithNoAbort disables the process-terminating behavior that follows a
// reported deallocation error or leak, enabling negative tests.
func WithNoAbort(v bool) Option { return func(c *Config) { c.NoAbort = v } }

// WithAllocationLimit sets the initial allocation-count limit. A
// negative value (the default) disables injected failures.
func WithAllocationLimit(limit int64) Option {
	return func(c *Config) { c.AllocationLimit = limit }
}

// Resource is an instrumented polymorphic memory resource: it delegates
// every allocation to an Upstream, recording statistics and guarding
// each block with header metadata and redzones along the way. Every
// mutation happens under a single mutex; counters are read lock-free
// via sync/atomic.
type Resource struct {
	_ noCopy

	name     string
	upstream Upstream
	id       uint64

	verbose         atomic.Bool
	quiet           atomic.Bool
	noAbort         atomic.Bool
	allocationLimit atomic.Int64

	allocateCalls   atomic.Int64
	deallocateCalls atomic.Int64

	allocations         atomic.Int64
	deallocations       atomic.Int64
	mismatches          atomic.Int64
	boundsErrors        atomic.Int64
	badDeallocateParams atomic.Int64

	blocksInUse atomic.Int64
	maxBlocks   atomic.Int64
	totalBlocks atomic.Int64

	bytesInUse atomic.Int64
	maxBytes   atomic.Int64
	totalBytes atomic.Int64

	lastAllocatedAddr      atomic.Uintptr
	lastAllocatedSize      atomic.Int64
	lastAllocatedAlignment atomic.Int64

	lastDeallocatedAddr      atomic.Uintptr
	lastDeallocatedSize      atomic.Int64
	lastDeallocatedAlignment atomic.Int64

	mu     sync.Mutex
	head   *blockRecord
	tail   *blockRecord
	nodes  map[uint64]*blockRecord
	closed bool
}

// New constructs an instrumented resource. With no options it wraps
// the process-wide default upstream, starts quiet=false,
// no-abort=false, verbose=false, and allocation-limit disabled (-1).
func New(opts ...Option) *Resource {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Upstream == nil {
		cfg.Upstream = NewDefaultUpstream()
	}

	r := &Resource{
		name:     cfg.Name,
		upstream: cfg.Upstream,
		id:       resourceIDSeq.Add(1),
		nodes:    make(map[uint64]*blockRecord),
	}
	r.verbose.Store(cfg.Verbose)
	r.quiet.Store(cfg.Quiet)
	r.noAbort.Store(cfg.NoAbort)
	r.allocationLimit.Store(cfg.AllocationLimit)

	return r
}

func (r *Resource) label() string {
	if r.name == "" {
		return "test_resource"
	}

	return "test_resource " + r.name
}

// Name returns the resource's diagnostic name, possibly empty.
func (r *Resource) Name() string { return r.name }

// Upstream returns the resource this instrumented resource delegates
// real allocation to.
func (r *Resource) Upstream() Upstream { return r.upstream }

// IsEqual reports whether other is this same resource instance, the
// Go analogue of std::pmr::memory_resource::is_equal.
func (r *Resource) IsEqual(other *Resource) bool { return r == other }

// Configuration setters and getters, all lock-free.

func (r *Resource) SetVerbose(v bool) { r.verbose.Store(v) }
func (r *Resource) SetQuiet(v bool)   { r.quiet.Store(v) }
func (r *Resource) SetNoAbort(v bool) { r.noAbort.Store(v) }
func (r *Resource) IsVerbose() bool   { return r.verbose.Load() }
func (r *Resource) IsQuiet() bool     { return r.quiet.Load() }
func (r *Resource) IsNoAbort() bool   { return r.noAbort.Load() }

// SetAllocationLimit sets the number of future allocations that may
// succeed before Allocate starts failing with an injected
// out-of-memory fault. A negative value disables injection.
func (r *Resource) SetAllocationLimit(limit int64) { r.allocationLimit.Store(limit) }

// AllocationLimit returns the current allocation-count limit.
func (r *Resource) AllocationLimit() int64 { return r.allocationLimit.Load() }

// Counter getters. All are lock-free relaxed loads, intended for
// reporting rather than synchronization.

func (r *Resource) Allocations() int64         { return r.allocations.Load() }
func (r *Resource) Deallocations() int64       { return r.deallocations.Load() }
func (r *Resource) Mismatches() int64          { return r.mismatches.Load() }
func (r *Resource) BoundsErrors() int64        { return r.boundsErrors.Load() }
func (r *Resource) BadDeallocateParams() int64 { return r.badDeallocateParams.Load() }
func (r *Resource) BlocksInUse() int64         { return r.blocksInUse.Load() }
func (r *Resource) MaxBlocks() int64           { return r.maxBlocks.Load() }
func (r *Resource) TotalBlocks() int64         { return r.totalBlocks.Load() }
func (r *Resource) BytesInUse() int64          { return r.bytesInUse.Load() }
func (r *Resource) MaxBytes() int64            { return r.maxBytes.Load() }
func (r *Resource) TotalBytes() int64          { return r.totalBytes.Load() }

func (r *Resource) LastAllocatedAddress() unsafe.Pointer {
	return unsafe.Pointer(r.lastAllocatedAddr.Load())
}
func (r *Resource) LastAllocatedSize() int64      { return r.lastAllocatedSize.Load() }
func (r *Resource) LastAllocatedAlignment() int64 { return r.lastAllocatedAlignment.Load() }

func (r *Resource) LastDeallocatedAddress() unsafe.Pointer {
	return unsafe.Pointer(r.lastDeallocatedAddr.Load())
}
func (r *Resource) LastDeallocatedSize() int64      { return r.lastDeallocatedSize.Load() }
func (r *Resource) LastDeallocatedAlignment() int64 { return r.lastDeallocatedAlignment.Load() }

// HasErrors reports whether any mismatch, bounds, or parameter error
// has been recorded.
func (r *Resource) HasErrors() bool {
	return r.Mismatches() != 0 || r.BoundsErrors() != 0 || r.BadDeallocateParams() != 0
}

// HasAllocations reports whether any block or byte is currently in
// use.
func (r *Resource) HasAllocations() bool {
	return r.BlocksInUse() > 0 || r.BytesInUse() > 0
}

// Status returns 0 if the resource is clean, a positive count of
// recorded errors if any exist, or -1 if there are no errors but
// blocks or bytes remain allocated.
func (r *Resource) Status() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	numErrors := r.Mismatches() + r.BoundsErrors() + r.BadDeallocateParams()
	switch {
	case numErrors > 0:
		return numErrors
	case r.HasAllocations():
		return -1
	default:
		return 0
	}
}

func updateMaxLocked(counter *atomic.Int64, val int64) {
	if val > counter.Load() {
		counter.Store(val)
	}
}

// Allocate returns a pointer to bytes of writable memory aligned to
// alignment, backed by the resource's upstream and wrapped in a header
// and redzones. alignment must be a power of two no greater than
// MaxAlign, or Allocate returns a BadAlignment fault. If the
// resource's allocation-count limit has been exhausted, Allocate
// returns an InjectedOOM fault instead of calling the upstream.
// Every step below runs under the resource's mutex.
func (r *Resource) Allocate(bytes, alignment int) (unsafe.Pointer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allocateCalls.Add(1)

	if alignment <= 0 {
		alignment = 1
	}

	if alignment > MaxAlign || !isPowerOfTwo(alignment) {
		return nil, newBadAlignment(r, alignment)
	}

	if limit := r.allocationLimit.Load(); limit >= 0 {
		if r.allocationLimit.Add(-1) < 0 {
			return nil, newInjectedOOM(r, bytes, alignment)
		}
	}

	block, err := r.upstream.Allocate(blockSize(bytes), MaxAlign)
	if err != nil {
		return nil, err
	}

	idx := uint64(r.allocations.Add(1))

	writeRedzones(block, bytes)

	hdr := headerInBlock(block)
	hdr.magic = magicAllocated
	hdr.size = uint64(bytes)
	hdr.alignment = uint64(alignment)
	hdr.index = idx
	hdr.ownerID = r.id

	node := &blockRecord{index: idx, size: bytes, alignment: alignment}
	r.linkTail(node)
	r.nodes[idx] = node

	inUse := r.blocksInUse.Add(1)
	updateMaxLocked(&r.maxBlocks, inUse)
	r.totalBlocks.Add(1)

	bytesInUse := r.bytesInUse.Add(int64(bytes))
	updateMaxLocked(&r.maxBytes, bytesInUse)
	r.totalBytes.Add(int64(bytes))

	payload := payloadFromBlock(block)
	r.lastAllocatedAddr.Store(uintptr(payload))
	r.lastAllocatedSize.Store(int64(bytes))
	r.lastAllocatedAlignment.Store(int64(alignment))

	if r.verbose.Load() {
		fmt.Printf("%s [%d]: Allocated %d %s(aligned %d) at %p.\n",
			r.label(), idx, bytes, pluralByte(bytes), alignment, payload)
	}

	return payload, nil
}

// fail implements the shared "report, then maybe abort" policy used by
// every deallocation-time fault and by the leak report at Close: a
// quiet resource neither prints nor aborts; otherwise print always
// runs, and the process aborts unless no-abort is set.
func (r *Resource) fail(print func()) {
	if r.quiet.Load() {
		return
	}

	print()

	if r.noAbort.Load() {
		return
	}

	abortFunc()
}

var abortFunc = func() { os.Exit(2) }

// Deallocate returns a block previously produced by Allocate. It never
// panics or returns an error: corruption or parameter mismatches are
// recorded in counters, reported to standard output, and either abort
// the process (the default) or are suppressed when the resource is
// configured no-abort.
func (r *Resource) Deallocate(ptr unsafe.Pointer, bytes, alignment int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deallocateCalls.Add(1)
	r.lastDeallocatedAddr.Store(uintptr(ptr))

	if ptr == nil {
		if bytes != 0 {
			r.badDeallocateParams.Add(1)
			r.fail(func() {
				fmt.Printf("*** Freeing a nullptr using non-zero size (%d) with alignment (%d). ***\n",
					bytes, alignment)
			})
		}

		return
	}

	hdr := headerFromPayload(ptr)

	if hdr.magic != magicAllocated {
		r.mismatches.Add(1)
		r.fail(func() {
			r.diagnoseDeallocate(ptr, hdr, bytes, alignment, 0, 0, false, false)
		})

		return
	}

	if hdr.ownerID != r.id {
		r.mismatches.Add(1)
		r.fail(func() {
			r.diagnoseDeallocate(ptr, hdr, bytes, alignment, 0, 0, false, true)
		})

		return
	}

	storedSize := int(hdr.size)
	storedAlignment := int(hdr.alignment)
	block := blockFromPayload(ptr, storedSize)

	underrunBy := checkLeadingRedzone(block)
	overrunBy := checkTrailingRedzone(block, storedSize)
	corrupted := underrunBy != 0 || overrunBy != 0

	if corrupted {
		r.boundsErrors.Add(1)
	}

	paramMismatch := storedSize != bytes || storedAlignment != alignment
	if paramMismatch {
		r.badDeallocateParams.Add(1)
	}

	if corrupted || paramMismatch {
		r.fail(func() {
			r.diagnoseDeallocate(ptr, hdr, bytes, alignment, underrunBy, overrunBy, paramMismatch, false)
		})

		return
	}

	r.unlink(hdr.index)

	r.blocksInUse.Add(-1)
	r.bytesInUse.Add(-int64(storedSize))
	r.lastDeallocatedSize.Store(int64(storedSize))
	r.lastDeallocatedAlignment.Store(int64(storedAlignment))

	hdr.magic = magicDeallocated
	scribble(block, storedSize)

	r.deallocations.Add(1)

	if r.verbose.Load() {
		fmt.Printf("%s [%d]: Deallocated %d %s(aligned %d) at %p.\n",
			r.label(), hdr.index, storedSize, pluralByte(storedSize), storedAlignment, ptr)
	}

	r.upstream.Deallocate(block)
}

// Print writes the fixed 11-line state table, plus the indices of any
// still-outstanding allocations, to standard output.
func (r *Resource) Print() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printLocked()
}

func (r *Resource) printLocked() {
	if r.name != "" {
		fmt.Printf("\n==================================================\n"+
			"                TEST RESOURCE %s STATE\n"+
			"--------------------------------------------------\n", r.name)
	} else {
		fmt.Printf("\n==================================================\n" +
			"                TEST RESOURCE STATE\n" +
			"--------------------------------------------------\n")
	}

	fmt.Printf("        Category\tBlocks\tBytes\n"+
		"        --------\t------\t-----\n"+
		"          IN USE\t%d\t%d\n"+
		"             MAX\t%d\t%d\n"+
		"           TOTAL\t%d\t%d\n"+
		"      MISMATCHES\t%d\n"+
		"   BOUNDS ERRORS\t%d\n"+
		"   PARAM. ERRORS\t%d\n"+
		"--------------------------------------------------\n",
		r.BlocksInUse(), r.BytesInUse(),
		r.MaxBlocks(), r.MaxBytes(),
		r.TotalBlocks(), r.TotalBytes(),
		r.Mismatches(), r.BoundsErrors(), r.BadDeallocateParams())

	if r.head != nil {
		fmt.Printf(" Indices of Outstanding Memory Allocations:\n ")

		count := 0
		for n := r.head; n != nil; n = n.next {
			fmt.Printf("%d\t", n.index)
			count++

			if count%8 == 0 {
				fmt.Printf("\n ")
			}
		}

		fmt.Printf("\n")
	}
}

// Close prints the resource's state if verbose, and, unless quiet, a
// MEMORY_LEAK report for any block or byte still in use -- aborting
// the process unless no-abort is set. Close is the Go rendition of the
// source's destructor: Go has no deterministic destructors, so callers
// must invoke Close explicitly (typically via defer) once a resource
// goes out of scope. Close is idempotent.
func (r *Resource) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true

	if r.verbose.Load() {
		r.printLocked()
	}

	blocksInUse := r.blocksInUse.Load()
	bytesInUse := r.bytesInUse.Load()

	r.head, r.tail = nil, nil
	r.nodes = nil

	if r.quiet.Load() {
		return
	}

	if blocksInUse == 0 && bytesInUse == 0 {
		return
	}

	if r.name != "" {
		fmt.Printf("MEMORY_LEAK from %s:\n  Number of blocks in use = %d\n   Number of bytes in use = %d\n",
			r.name, blocksInUse, bytesInUse)
	} else {
		fmt.Printf("MEMORY_LEAK:\n  Number of blocks in use = %d\n   Number of bytes in use = %d\n",
			blocksInUse, bytesInUse)
	}

	if !r.noAbort.Load() {
		abortFunc()
	}
}

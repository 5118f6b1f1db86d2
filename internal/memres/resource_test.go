package memres

import (
	"sync/atomic"
	"testing"
	"unsafe"
)

// stubAbort replaces abortFunc for the duration of a test, counting how
// many times it would have terminated the process, and restores the
// real one on cleanup.
func stubAbort(t *testing.T) *int32 {
	t.Helper()

	var calls int32

	prev := abortFunc
	abortFunc = func() { atomic.AddInt32(&calls, 1) }
	t.Cleanup(func() { abortFunc = prev })

	return &calls
}

func TestAllocateDeallocateAccounting(t *testing.T) {
	r := New(WithName("accounting"))
	defer r.Close()

	p1, err := r.Allocate(32, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	p2, err := r.Allocate(64, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if got := r.BlocksInUse(); got != 2 {
		t.Fatalf("BlocksInUse = %d, want 2", got)
	}

	if got := r.BytesInUse(); got != 96 {
		t.Fatalf("BytesInUse = %d, want 96", got)
	}

	if got := r.MaxBlocks(); got != 2 {
		t.Fatalf("MaxBlocks = %d, want 2", got)
	}

	r.Deallocate(p1, 32, 8)

	if got := r.BlocksInUse(); got != 1 {
		t.Fatalf("BlocksInUse after one free = %d, want 1", got)
	}

	if got := r.MaxBlocks(); got != 2 {
		t.Fatalf("MaxBlocks should stay high-water mark, got %d", got)
	}

	r.Deallocate(p2, 64, 16)

	if r.HasAllocations() {
		t.Fatalf("expected no allocations outstanding after freeing both blocks")
	}

	if got := r.TotalBlocks(); got != 2 {
		t.Fatalf("TotalBlocks = %d, want 2", got)
	}

	if got := r.Deallocations(); got != 2 {
		t.Fatalf("Deallocations = %d, want 2", got)
	}

	if r.HasErrors() {
		t.Fatalf("expected no errors recorded")
	}

	if got := r.Status(); got != 0 {
		t.Fatalf("Status = %d, want 0 (clean)", got)
	}
}

func TestAllocateZeroBytesIsNotSpecialCased(t *testing.T) {
	r := New()
	defer r.Close()

	p, err := r.Allocate(0, 1)
	if err != nil {
		t.Fatalf("Allocate(0, 1): %v", err)
	}

	if p == nil {
		t.Fatalf("Allocate(0, 1) returned a nil pointer")
	}

	if got := r.BytesInUse(); got != 0 {
		t.Fatalf("BytesInUse = %d, want 0", got)
	}

	if got := r.BlocksInUse(); got != 1 {
		t.Fatalf("BlocksInUse = %d, want 1", got)
	}

	r.Deallocate(p, 0, 1)
}

func TestAllocateBadAlignment(t *testing.T) {
	r := New()
	defer r.Close()

	cases := []int{3, 5, MaxAlign * 2}
	for _, alignment := range cases {
		_, err := r.Allocate(8, alignment)
		if err == nil {
			t.Fatalf("Allocate(8, %d): expected BadAlignment error, got nil", alignment)
		}

		if !IsBadAlignment(err) {
			t.Fatalf("Allocate(8, %d): expected IsBadAlignment, got %v", alignment, err)
		}
	}
}

func TestAllocateInjectedOOM(t *testing.T) {
	r := New(WithAllocationLimit(1))
	defer r.Close()

	p, err := r.Allocate(8, 1)
	if err != nil {
		t.Fatalf("first Allocate under limit: %v", err)
	}
	defer r.Deallocate(p, 8, 1)

	_, err = r.Allocate(8, 1)
	if err == nil {
		t.Fatalf("second Allocate: expected injected OOM, got nil error")
	}

	fault, ok := AsInjectedOOM(err)
	if !ok {
		t.Fatalf("expected AsInjectedOOM to recognize %v", err)
	}

	if fault.Resource != r {
		t.Fatalf("fault.Resource = %p, want %p", fault.Resource, r)
	}
}

func TestDeallocateDoubleFree(t *testing.T) {
	calls := stubAbort(t)

	r := New(WithNoAbort(false))
	defer r.Close()

	p, err := r.Allocate(16, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	r.Deallocate(p, 16, 8)

	if got := r.Mismatches(); got != 0 {
		t.Fatalf("Mismatches after a clean free = %d, want 0", got)
	}

	r.Deallocate(p, 16, 8)

	if got := r.Mismatches(); got != 1 {
		t.Fatalf("Mismatches after double free = %d, want 1", got)
	}

	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected abortFunc to run exactly once, ran %d times", *calls)
	}
}

func TestDeallocateBoundsOverrun(t *testing.T) {
	stubAbort(t)

	r := New(WithQuiet(true))
	defer r.Close()

	p, err := r.Allocate(16, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	payload := (*[16]byte)(p)
	payload[15] = 0xff
	// Corrupt one byte just past the payload, inside the trailing
	// redzone.
	overrun := (*byte)(unsafe.Add(p, 16))
	*overrun = 0x00

	r.Deallocate(p, 16, 8)

	if got := r.BoundsErrors(); got != 1 {
		t.Fatalf("BoundsErrors = %d, want 1", got)
	}

	if r.BlocksInUse() != 1 {
		t.Fatalf("a corrupted block must not be unlinked from the in-use count")
	}
}

func TestDeallocateWrongOwner(t *testing.T) {
	stubAbort(t)

	r1 := New(WithQuiet(true))
	defer r1.Close()

	r2 := New(WithQuiet(true))
	defer r2.Close()

	p, err := r1.Allocate(8, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	r2.Deallocate(p, 8, 8)

	if got := r2.Mismatches(); got != 1 {
		t.Fatalf("r2.Mismatches = %d, want 1", got)
	}

	if got := r1.BlocksInUse(); got != 1 {
		t.Fatalf("r1.BlocksInUse = %d, want 1 (block must remain owned by r1)", got)
	}

	r1.Deallocate(p, 8, 8)

	if got := r1.Mismatches(); got != 0 {
		t.Fatalf("r1.Mismatches = %d, want 0 after the correct owner frees it", got)
	}
}

func TestDeallocateNullptrWithNonZeroSize(t *testing.T) {
	stubAbort(t)

	r := New(WithQuiet(true))
	defer r.Close()

	r.Deallocate(nil, 8, 8)

	if got := r.BadDeallocateParams(); got != 1 {
		t.Fatalf("BadDeallocateParams = %d, want 1", got)
	}
}

func TestCloseReportsLeak(t *testing.T) {
	calls := stubAbort(t)

	r := New()

	if _, err := r.Allocate(8, 8); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	r.Close()

	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected Close to abort once for the leaked block, got %d", *calls)
	}

	// Close is idempotent: a second call must not abort again.
	r.Close()

	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("Close must be idempotent, abortFunc ran again")
	}
}

func TestCloseQuietSuppressesLeakReport(t *testing.T) {
	calls := stubAbort(t)

	r := New(WithQuiet(true))

	if _, err := r.Allocate(8, 8); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	r.Close()

	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("a quiet resource must never abort, ran %d times", *calls)
	}
}

func TestResourceIsEqual(t *testing.T) {
	r1 := New()
	defer r1.Close()

	r2 := New()
	defer r2.Close()

	if !r1.IsEqual(r1) {
		t.Fatalf("a resource must be equal to itself")
	}

	if r1.IsEqual(r2) {
		t.Fatalf("distinct resources must not be equal")
	}
}

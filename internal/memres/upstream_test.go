package memres

import (
	"testing"
	"unsafe"
)

func TestDefaultUpstreamAlignment(t *testing.T) {
	u := NewDefaultUpstream()

	for _, alignment := range []int{1, 2, 4, 8, 16} {
		block, err := u.Allocate(24, alignment)
		if err != nil {
			t.Fatalf("Allocate(24, %d): %v", alignment, err)
		}

		if len(block) != 24 {
			t.Fatalf("Allocate(24, %d) returned %d bytes", alignment, len(block))
		}

		addr := uintptr(unsafe.Pointer(&block[0]))
		if addr%uintptr(alignment) != 0 {
			t.Fatalf("Allocate(24, %d) returned address %#x, not aligned", alignment, addr)
		}
	}
}

func TestDefaultUpstreamIsASingleton(t *testing.T) {
	a := NewDefaultUpstream()
	b := NewDefaultUpstream()

	if a != b {
		t.Fatalf("NewDefaultUpstream should return the same process-wide instance")
	}
}

func TestArenaUpstreamExhaustion(t *testing.T) {
	u := NewArenaUpstream(64)

	if _, err := u.Allocate(32, 8); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}

	if _, err := u.Allocate(32, 8); err != nil {
		t.Fatalf("second Allocate: %v", err)
	}

	if _, err := u.Allocate(1, 1); err == nil {
		t.Fatalf("expected the arena to be exhausted")
	}
}

func TestArenaUpstreamNeverOverlapsAllocations(t *testing.T) {
	u := NewArenaUpstream(256)

	a, err := u.Allocate(16, 8)
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}

	b, err := u.Allocate(16, 8)
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}

	aEnd := uintptr(unsafe.Pointer(&a[len(a)-1]))
	bStart := uintptr(unsafe.Pointer(&b[0]))

	if bStart <= aEnd {
		t.Fatalf("second allocation at %#x overlaps first ending at %#x", bStart, aEnd)
	}
}

func TestCountingUpstreamCounts(t *testing.T) {
	counting := NewCountingUpstream(NewArenaUpstream(256))

	r := New(WithUpstream(counting))
	defer r.Close()

	p1, err := r.Allocate(8, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	p2, err := r.Allocate(8, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	r.Deallocate(p1, 8, 8)
	r.Deallocate(p2, 8, 8)

	allocs, deallocs := counting.Counts()
	if allocs != 2 {
		t.Fatalf("allocs = %d, want 2", allocs)
	}

	if deallocs != 2 {
		t.Fatalf("deallocs = %d, want 2", deallocs)
	}
}

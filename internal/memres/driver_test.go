package memres

import (
	"errors"
	"testing"
)

func TestExerciseAllocationExceptionsRetriesUntilSuccess(t *testing.T) {
	r := New()
	defer r.Close()

	const wantAllocs = 3

	var attempts int

	err := ExerciseAllocationExceptions(r, func(resource *Resource) error {
		attempts++

		for i := 0; i < wantAllocs; i++ {
			p, err := resource.Allocate(8, 8)
			if err != nil {
				return err
			}

			defer resource.Deallocate(p, 8, 8)
		}

		return nil
	})

	if err != nil {
		t.Fatalf("ExerciseAllocationExceptions: %v", err)
	}

	if attempts != wantAllocs+1 {
		t.Fatalf("attempts = %d, want %d (one per injected failure plus the final success)", attempts, wantAllocs+1)
	}

	if r.AllocationLimit() != -1 {
		t.Fatalf("AllocationLimit = %d, want -1 (disabled) after the driver finishes", r.AllocationLimit())
	}
}

func TestExerciseAllocationExceptionsPropagatesOtherErrors(t *testing.T) {
	r := New()
	defer r.Close()

	stop := errors.New("body gave up for an unrelated reason")

	err := ExerciseAllocationExceptions(r, func(resource *Resource) error {
		return stop
	})

	if err != stop {
		t.Fatalf("expected the unrelated error to propagate unchanged, got %v", err)
	}
}

func TestExerciseAllocationExceptionsBoundsRetries(t *testing.T) {
	stubAbort(t)

	// Failed attempts above leave their partial allocations outstanding,
	// so this resource will report a leak at Close; abortFunc is
	// stubbed above to keep that from ending the test process.
	r := New()
	defer r.Close()

	// This body always requests two more allocations than its
	// currently-assigned limit permits, so it never completes no
	// matter how high the driver raises the limit.
	body := func(resource *Resource) error {
		limit := resource.AllocationLimit()

		for i := int64(0); i <= limit+1; i++ {
			if _, err := resource.Allocate(8, 8); err != nil {
				return err
			}
		}

		return nil
	}

	err := ExerciseAllocationExceptionsWithLimit(r, body, 2)
	if err == nil {
		t.Fatalf("expected ExerciseAllocationExceptionsWithLimit to give up")
	}

	if !errors.Is(err, ErrRetriesExceeded) {
		t.Fatalf("expected the error to wrap ErrRetriesExceeded, got %v", err)
	}

	if r.AllocationLimit() != -1 {
		t.Fatalf("AllocationLimit = %d, want -1 after giving up", r.AllocationLimit())
	}
}

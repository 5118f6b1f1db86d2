package memres

import (
	"errors"
	"fmt"
)

// TestBody is a user-supplied routine exercised by
// ExerciseAllocationExceptions. It receives the resource it will
// allocate through and returns any error raised while running -- in
// particular, the *ResourceFault Resource.Allocate returns when the
// allocation-count limit is hit.
type TestBody func(resource *Resource) error

// ErrRetriesExceeded is returned when a test body's worst-case
// allocation count did not appear to be finite within maxRetries
// iterations.
var ErrRetriesExceeded = errors.New("memres: exhausted retries without the test body completing")

// ExerciseAllocationExceptions repeatedly invokes body against
// resource, setting resource's allocation limit to 0, 1, 2, ... on each
// attempt until body completes without an injected failure. It
// distinguishes an injected failure originating at resource (retry,
// bumping the limit) from any other error (re-raised unchanged),
// bounding the loop at DefaultMaxRetries retries after the first
// attempt.
func ExerciseAllocationExceptions(resource *Resource, body TestBody) error {
	return ExerciseAllocationExceptionsWithLimit(resource, body, DefaultMaxRetries)
}

// ExerciseAllocationExceptionsWithLimit is ExerciseAllocationExceptions
// with an explicit retry bound, for test bodies whose worst-case
// allocation count is expected to exceed DefaultMaxRetries.
func ExerciseAllocationExceptionsWithLimit(resource *Resource, body TestBody, maxRetries int64) error {
	var attempts int64

	for {
		resource.SetAllocationLimit(attempts)

		err := body(resource)
		if err == nil {
			resource.SetAllocationLimit(-1)

			return nil
		}

		fault, ok := AsInjectedOOM(err)
		if !ok || fault.Resource != resource {
			resource.SetAllocationLimit(-1)

			return err
		}

		attempts++

		if resource.IsVerbose() {
			fmt.Printf("%s: retry %d after injected OOM for %d byte(s) (aligned %d)\n",
				resource.label(), attempts, fault.Size, fault.Alignment)
		}

		if attempts > maxRetries {
			resource.SetAllocationLimit(-1)

			return fmt.Errorf("%w: after %d attempts", ErrRetriesExceeded, attempts)
		}
	}
}

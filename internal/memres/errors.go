package memres

import (
	"fmt"

	errorspkg "github.com/orizon-lang/pmrtest/internal/errors"
)

// FaultCategory classifies the synchronous faults an instrumented
// Resource can raise from Allocate.
type FaultCategory string

const (
	// CategoryBadAlignment marks a request whose alignment exceeds
	// MaxAlign or is not a power of two.
	CategoryBadAlignment FaultCategory = "BAD_ALIGNMENT"

	// CategoryInjectedOOM marks a synthetic failure generated because
	// the resource's allocation-count limit was exhausted.
	CategoryInjectedOOM FaultCategory = "INJECTED_OOM"
)

// ResourceFault is the error type Resource.Allocate returns for its two
// synchronous failure modes. Deallocate-time faults (Mismatch,
// BoundsError, BadDeallocateParams, Leak) are never returned as
// errors; they are recorded in counters and printed instead.
type ResourceFault struct {
	std *errorspkg.StandardError

	Category  FaultCategory
	Resource  *Resource
	Size      int
	Alignment int
}

func (f *ResourceFault) Error() string { return f.std.Error() }

// Unwrap exposes the underlying internal/errors.StandardError, so
// callers can inspect Code/Context with errors.As if they need to.
func (f *ResourceFault) Unwrap() error { return f.std }

func newBadAlignment(r *Resource, alignment int) *ResourceFault {
	std := errorspkg.NewStandardError(errorspkg.CategoryValidation, "BAD_ALIGNMENT",
		fmt.Sprintf("alignment %d is not a power of two no greater than maximum scalar alignment %d",
			alignment, MaxAlign),
		map[string]interface{}{"alignment": alignment, "max_align": MaxAlign})

	return &ResourceFault{std: std, Category: CategoryBadAlignment, Resource: r, Alignment: alignment}
}

func newInjectedOOM(r *Resource, size, alignment int) *ResourceFault {
	std := errorspkg.NewStandardError(errorspkg.CategorySystem, "INJECTED_OOM",
		fmt.Sprintf("injected out-of-memory for %d byte(s) (aligned %d) from %s",
			size, alignment, r.label()),
		map[string]interface{}{"size": size, "alignment": alignment})

	return &ResourceFault{std: std, Category: CategoryInjectedOOM, Resource: r, Size: size, Alignment: alignment}
}

// AsInjectedOOM reports whether err is an injected out-of-memory fault,
// returning the fault for callers (notably the exception-test driver)
// that need to inspect its originating Resource.
func AsInjectedOOM(err error) (*ResourceFault, bool) {
	fault, ok := err.(*ResourceFault)
	if !ok || fault.Category != CategoryInjectedOOM {
		return nil, false
	}

	return fault, true
}

// IsBadAlignment reports whether err is a BadAlignment fault.
func IsBadAlignment(err error) bool {
	fault, ok := err.(*ResourceFault)
	return ok && fault.Category == CategoryBadAlignment
}

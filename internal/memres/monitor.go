package memres

// Monitor is a cheaply copyable snapshot of one Resource's block
// counters, bound by reference to that resource for its lifetime. It
// never mutates the resource and never allocates.
type Monitor struct {
	resource *Resource

	inUse int64
	max   int64
	total int64
}

// NewMonitor snapshots resource's current in-use, max, and total block
// counts. resource must be non-nil.
func NewMonitor(resource *Resource) *Monitor {
	if resource == nil {
		panic("memres: NewMonitor requires a non-nil resource")
	}

	m := &Monitor{resource: resource}
	m.Reset()

	return m
}

// Reset re-reads the bound resource's counters, replacing the
// snapshot.
func (m *Monitor) Reset() {
	m.inUse = m.resource.BlocksInUse()
	m.max = m.resource.MaxBlocks()
	m.total = m.resource.TotalBlocks()
}

// Resource returns the resource this monitor is bound to.
func (m *Monitor) Resource() *Resource { return m.resource }

// DeltaBlocksInUse returns the current blocks-in-use count minus the
// value at the last snapshot.
func (m *Monitor) DeltaBlocksInUse() int64 { return m.resource.BlocksInUse() - m.inUse }

// DeltaMaxBlocks returns the current max-blocks count minus the value
// at the last snapshot.
func (m *Monitor) DeltaMaxBlocks() int64 { return m.resource.MaxBlocks() - m.max }

// DeltaTotalBlocks returns the current total-blocks count minus the
// value at the last snapshot.
func (m *Monitor) DeltaTotalBlocks() int64 { return m.resource.TotalBlocks() - m.total }

// IsInUseUp reports whether blocks-in-use increased since the
// snapshot.
func (m *Monitor) IsInUseUp() bool { return m.DeltaBlocksInUse() > 0 }

// IsInUseDown reports whether blocks-in-use decreased since the
// snapshot.
func (m *Monitor) IsInUseDown() bool { return m.DeltaBlocksInUse() < 0 }

// IsInUseSame reports whether blocks-in-use is unchanged since the
// snapshot.
func (m *Monitor) IsInUseSame() bool { return m.DeltaBlocksInUse() == 0 }

// IsMaxUp reports whether max-blocks increased since the snapshot.
func (m *Monitor) IsMaxUp() bool { return m.DeltaMaxBlocks() > 0 }

// IsMaxSame reports whether max-blocks is unchanged since the
// snapshot.
func (m *Monitor) IsMaxSame() bool { return m.DeltaMaxBlocks() == 0 }

// IsTotalUp reports whether total-blocks increased since the snapshot.
// Because total-blocks is monotone non-decreasing, this is equivalent
// to "any allocation happened since the snapshot".
func (m *Monitor) IsTotalUp() bool { return m.DeltaTotalBlocks() > 0 }

// IsTotalSame reports whether total-blocks is unchanged since the
// snapshot.
func (m *Monitor) IsTotalSame() bool { return m.DeltaTotalBlocks() == 0 }

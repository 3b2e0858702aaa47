package vmm

import (
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/mm"
)

const (
	// KernelVirtBase is the virtual address at which physical address 0 of
	// the kernel image appears in the permanent kernel mapping.
	KernelVirtBase = uintptr(0xffff800000000000)

	// IdentityBase is the base for ranges that map physical addresses to
	// identical virtual addresses.
	IdentityBase = uintptr(0)

	// MaxRanges is the capacity of a RangeSet.
	MaxRanges = 32
)

// Protection presets. Permanent kernel sections get the full set of
// protections. Transient init sections only need to stay usable until the
// kernel takes over.
const (
	ProtKernelText   = FlagPresent | FlagGlobal
	ProtKernelRodata = FlagPresent | FlagGlobal | FlagNoExecute
	ProtKernelData   = FlagPresent | FlagRW | FlagGlobal | FlagNoExecute
	ProtInitText     = FlagPresent
	ProtInitData     = FlagPresent | FlagRW
)

var errRangeSetFull = &kernel.Error{Module: "vmm", Message: "address range set is full"}

// AddressRange describes the physical extent [From, To) of a piece of the
// running image together with the virtual base and protection it must be
// mapped with. The byte at physical address p is mapped at Base + p.
type AddressRange struct {
	Name  string
	Base  uintptr
	Flags PageTableEntryFlag
	From  uintptr
	To    uintptr
}

// Empty returns true if the range covers no bytes.
func (r *AddressRange) Empty() bool {
	return r.From >= r.To
}

// VirtStart returns the virtual address of the first byte in the range.
func (r *AddressRange) VirtStart() uintptr {
	return r.Base + r.From
}

// VirtEnd returns the virtual address just past the last byte in the range.
func (r *AddressRange) VirtEnd() uintptr {
	return r.Base + r.To
}

// validate checks that every page of the range can be mapped.
func (r *AddressRange) validate() *kernel.Error {
	switch {
	case r.From > r.To:
		return errInvalidRange
	case r.From == r.To:
		return nil
	case !mm.IsPageAligned(r.Base):
		return errMisalignedBase
	case uint64(r.To-1) >= maxPhysAddr:
		return errUnrepresentableAddress
	}

	first := r.Base + mm.PageAlignDown(r.From)
	last := r.Base + mm.PageAlignDown(r.To-1)
	if first < r.Base || last < first {
		return errInvalidRange
	}

	if !isCanonical(first) || !isCanonical(last) || first>>63 != last>>63 {
		return errNonCanonicalAddress
	}

	return nil
}

// isCanonical returns true if bits 63 down to virtAddrBits-1 of addr are
// all equal.
func isCanonical(addr uintptr) bool {
	upper := addr >> (virtAddrBits - 1)
	return upper == 0 || upper == (^uintptr(0))>>(virtAddrBits-1)
}

// RangeSet is a fixed-capacity list of address ranges. It never allocates
// so it can be filled before the Go allocator is available.
type RangeSet struct {
	ranges [MaxRanges]AddressRange
	count  int
}

// Append adds r to the set. It fails with errRangeSetFull once the set holds
// MaxRanges entries.
func (s *RangeSet) Append(r AddressRange) *kernel.Error {
	if s.count == MaxRanges {
		return errRangeSetFull
	}

	s.ranges[s.count] = r
	s.count++
	return nil
}

// Ranges returns the ranges in the order they were appended. The returned
// slice aliases the set.
func (s *RangeSet) Ranges() []AddressRange {
	return s.ranges[:s.count]
}

// Len returns the number of ranges in the set.
func (s *RangeSet) Len() int {
	return s.count
}

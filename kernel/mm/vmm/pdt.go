package vmm

import (
	"unsafe"

	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/mm"
)

var (
	// tableFn returns a pointer through which the table stored in frame
	// can be accessed. While the boot page tables are active low physical
	// memory is identity mapped. Tests point it at Go-allocated tables.
	tableFn = func(frame mm.Frame) *pageTable {
		return (*pageTable)(unsafe.Pointer(frame.Address()))
	}

	// allocFrameFn is used by tests to override calls to mm.AllocFrame.
	allocFrameFn = mm.AllocFrame

	invalidRoot = PageTableRoot{frame: mm.InvalidFrame}

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errInvalidRange           = &kernel.Error{Module: "vmm", Message: "address range end precedes its start or overflows"}
	errMisalignedBase         = &kernel.Error{Module: "vmm", Message: "address range base is not page aligned"}
	errUnrepresentableAddress = &kernel.Error{Module: "vmm", Message: "physical address exceeds the page table address width"}
	errNonCanonicalAddress    = &kernel.Error{Module: "vmm", Message: "address range maps to a non-canonical virtual address"}
	errOverlappingRange       = &kernel.Error{Module: "vmm", Message: "address range overlaps an existing mapping"}
)

// PageTableRoot refers to the top-level table of a page table hierarchy.
type PageTableRoot struct {
	frame mm.Frame
}

// Frame returns the physical frame holding the top-level table.
func (root PageTableRoot) Frame() mm.Frame {
	return root.frame
}

// Address returns the physical address loaded into the page-table-root
// register when the hierarchy is activated.
func (root PageTableRoot) Address() uintptr {
	return root.frame.Address()
}

// Valid returns true if the root refers to a built hierarchy.
func (root PageTableRoot) Valid() bool {
	return root.frame.Valid()
}

// Build creates a new page table hierarchy that maps every page touched by
// the supplied ranges. Ranges are processed in order and each page is mapped
// with the flags of its range. Ranges whose byte extents intersect fail with
// errOverlappingRange before any table is allocated. Ranges that only share a
// page must map it to the same frame; the page then gets the least
// restrictive combination of their flags.
//
// Pages that are not covered by a range remain unmapped. Tables are allocated
// with mm.AllocFrame and frames allocated before an error are not returned.
func Build(ranges []AddressRange) (PageTableRoot, *kernel.Error) {
	for i := range ranges {
		if err := ranges[i].validate(); err != nil {
			return invalidRoot, err
		}
	}

	if overlapping(ranges) {
		return invalidRoot, errOverlappingRange
	}

	rootFrame, err := allocTable()
	if err != nil {
		return invalidRoot, err
	}

	root := PageTableRoot{frame: rootFrame}
	for i := range ranges {
		if err = root.mapRange(&ranges[i]); err != nil {
			return invalidRoot, err
		}
	}

	return root, nil
}

func (root PageTableRoot) mapRange(r *AddressRange) *kernel.Error {
	if r.Empty() {
		return nil
	}

	var (
		flags     = r.Flags | FlagPresent
		lastFrame = mm.FrameFromAddress(r.To - 1)
		frame     = mm.FrameFromAddress(r.From)
		page      = mm.PageFromAddress(r.Base + frame.Address())
	)

	for ; frame <= lastFrame; frame, page = frame+1, page+1 {
		if err := root.mapPage(page, frame, flags); err != nil {
			return err
		}
	}

	return nil
}

// mapPage installs a leaf entry for page, allocating any missing
// intermediate tables on the way down.
func (root PageTableRoot) mapPage(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		virtAddr = page.Address()
		table    = tableFn(root.frame)
	)

	for level := 0; level < pageLevels-1; level++ {
		pte := &table[tableIndex(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			next, err := allocTable()
			if err != nil {
				return err
			}

			*pte = 0
			pte.SetFrame(next)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		// Access checks AND the permissions of every level, so
		// intermediate entries must not be more restrictive than
		// the leaves below them.
		if flags&FlagUserAccessible != 0 {
			pte.SetFlags(FlagUserAccessible)
		}

		table = tableFn(pte.Frame())
	}

	leaf := &table[tableIndex(virtAddr, pageLevels-1)]
	if leaf.HasFlags(FlagPresent) {
		if leaf.Frame() != frame {
			return errOverlappingRange
		}
		flags = mergeFlags(leaf.Flags(), flags)
	}

	*leaf = 0
	leaf.SetFrame(frame)
	leaf.SetFlags(flags)
	return nil
}

// overlapping reports whether the virtual byte extents of any two non-empty
// ranges intersect.
func overlapping(ranges []AddressRange) bool {
	for i := range ranges {
		if ranges[i].Empty() {
			continue
		}
		for j := i + 1; j < len(ranges); j++ {
			if ranges[j].Empty() {
				continue
			}
			if ranges[i].VirtStart() < ranges[j].VirtEnd() && ranges[j].VirtStart() < ranges[i].VirtEnd() {
				return true
			}
		}
	}
	return false
}

// mergeFlags combines the flags of two ranges sharing a page. Permission bits
// are kept if either range grants them while NX and global are kept only if
// both ranges set them.
func mergeFlags(a, b PageTableEntryFlag) PageTableEntryFlag {
	const restrictive = FlagNoExecute | FlagGlobal
	return (a|b)&^restrictive | a&b&restrictive
}

// Lookup walks the hierarchy and returns the physical address that virtAddr
// translates to together with the flags of the leaf entry. It returns
// ErrInvalidMapping if virtAddr is not mapped.
func (root PageTableRoot) Lookup(virtAddr uintptr) (uintptr, PageTableEntryFlag, *kernel.Error) {
	if !root.Valid() {
		return 0, 0, ErrInvalidMapping
	}

	table := tableFn(root.frame)
	for level := 0; ; level++ {
		pte := table[tableIndex(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			return 0, 0, ErrInvalidMapping
		}

		if level == pageLevels-1 {
			return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), pte.Flags(), nil
		}

		table = tableFn(pte.Frame())
	}
}

// Covers returns true if virtAddr is mapped by this hierarchy.
func (root PageTableRoot) Covers(virtAddr uintptr) bool {
	_, _, err := root.Lookup(virtAddr)
	return err == nil
}

// tableIndex returns the index of the entry for virtAddr in a table at the
// given level.
func tableIndex(virtAddr uintptr, level int) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
}

// allocTable reserves a frame and clears it so it can hold a table.
func allocTable() (mm.Frame, *kernel.Error) {
	frame, err := allocFrameFn()
	if err != nil {
		return mm.InvalidFrame, err
	}

	kernel.Memset(uintptr(unsafe.Pointer(tableFn(frame))), 0, mm.PageSize)
	return frame, nil
}

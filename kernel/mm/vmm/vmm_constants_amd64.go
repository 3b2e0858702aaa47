package vmm

import "github.com/lukeenterprise/ktf/kernel/mm"

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a table at any level.
	entriesPerTable = 1 << 9

	// ptePhysPageMask extracts the physical frame address from a page
	// table entry. Bits 12-51 hold the address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// maxPhysAddr is the first physical address that a page table entry
	// cannot encode.
	maxPhysAddr = uint64(1) << mm.MaxPhysAddrBits

	// virtAddrBits is the number of implemented virtual address bits.
	// Bits 63 down to virtAddrBits-1 of a canonical address are all equal.
	virtAddrBits = 48
)

// pageLevelShifts defines the shift required to access each page table
// component of a virtual address, from the root table down to the leaf.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal keeps the TLB entry for this page across page table
	// switches.
	FlagGlobal

	// FlagNoExecute marks the page as non-executable. It is only honored
	// once EFER.NXE is set.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// pteFlagMask selects the flag bits of an entry.
const pteFlagMask = PageTableEntryFlag(^ptePhysPageMask)

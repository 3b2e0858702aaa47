// Package multiboot reads the boot information payload that a multiboot2
// compliant bootloader passes to the kernel. Nothing in this package
// allocates memory and every accessor reads the payload in place. Callers
// must copy whatever they need before the payload stops being mapped.
package multiboot

import (
	"unsafe"
)

var (
	infoData uintptr
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader precedes each tag. Tags start at 8-byte aligned offsets and the
// size field does not include the padding.
type tagHeader struct {
	tagType tagType
	size    uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// InfoAddr returns the address of the multiboot payload.
func InfoAddr() uintptr {
	return infoData
}

// InfoSize returns the total size of the multiboot payload in bytes. The boot
// memory allocator uses it to keep page tables from being placed on top of
// the payload while it is still being read.
func InfoSize() uintptr {
	if infoData == 0 {
		return 0
	}

	return uintptr((*info)(unsafe.Pointer(infoData)).totalSize)
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry. Use Kind to get a normalized value.
	Type MemoryEntryType
}

// Kind returns the entry type, mapping unknown values to MemReserved.
func (e *MemoryMapEntry) Kind() MemoryEntryType {
	if e.Type == 0 || e.Type >= memUnknown {
		return MemReserved
	}

	return e.Type
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. The
// visitor returns false to stop the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// VisitMemRegions invokes visitor for each memory region that the boot
// loader reported, in the order they appear in the payload.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	for curPtr += 8; curPtr < endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		if !visitor((*MemoryMapEntry)(unsafe.Pointer(curPtr))) {
			return
		}
	}
}

type elfSections struct {
	numSections        uint16
	sectionSize        uint32
	strtabSectionIndex uint32
	sectionData        [0]byte
}

type elfSection64 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint64
	address     uint64
	offset      uint64
	size        uint64
	link        uint32
	info        uint32
	addrAlign   uint64
	entSize     uint64
}

// ElfSectionFlag defines an OR-able flag associated with an ElfSection.
type ElfSectionFlag uint32

const (
	// ElfSectionWritable marks the section as writable.
	ElfSectionWritable ElfSectionFlag = 1 << iota

	// ElfSectionAllocated means that the section occupies memory once the
	// image is loaded (e.g .bss sections).
	ElfSectionAllocated

	// ElfSectionExecutable marks the section as executable.
	ElfSectionExecutable
)

// ElfSectionVisitor is invoked by VisitElfSections for each non-empty ELF
// section of the loaded kernel image. The name aliases the section string
// table inside the payload and must be copied if it is needed later.
type ElfSectionVisitor func(name string, flags ElfSectionFlag, address uintptr, size uint64)

// VisitElfSections invokes visitor for each ELF section that belongs to the
// loaded kernel image.
func VisitElfSections(visitor ElfSectionVisitor) {
	curPtr, size := findTagByType(tagElfSymbols)
	if size == 0 {
		return
	}

	var (
		ptrElfSections = (*elfSections)(unsafe.Pointer(curPtr))
		secPtr         = uintptr(unsafe.Pointer(&ptrElfSections.sectionData))
		sizeofSection  = uintptr(ptrElfSections.sectionSize)
		strTable       = (*elfSection64)(unsafe.Pointer(secPtr + uintptr(ptrElfSections.strtabSectionIndex)*sizeofSection))
	)

	for secIndex := uint16(0); secIndex < ptrElfSections.numSections; secIndex, secPtr = secIndex+1, secPtr+sizeofSection {
		secData := (*elfSection64)(unsafe.Pointer(secPtr))
		if secData.size == 0 {
			continue
		}

		// String table entries are C-style NULL-terminated strings
		nameStart := uintptr(strTable.address) + uintptr(secData.nameIndex)
		nameLen := uintptr(0)
		for ; *(*byte)(unsafe.Pointer(nameStart + nameLen)) != 0; nameLen++ {
		}

		visitor(
			unsafe.String((*byte)(unsafe.Pointer(nameStart)), int(nameLen)),
			ElfSectionFlag(secData.flags),
			uintptr(secData.address),
			secData.size,
		)
	}
}

// CopyBootCmdLine copies the NULL-terminated boot command line into dst and
// returns the number of copied bytes, excluding the terminator. Command
// lines longer than dst are truncated.
func CopyBootCmdLine(dst []byte) int {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size == 0 {
		return 0
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(curPtr)), size)
	n := 0
	for ; n < len(src) && n < len(dst) && src[n] != 0; n++ {
		dst[n] = src[n]
	}

	return n
}

// CmdLineVisitor is invoked by VisitBootCmdLine for each command line
// option. For bare options (e.g. "nosmp") value is empty. The visitor
// returns false to stop the scan.
type CmdLineVisitor func(key, value []byte) bool

// VisitBootCmdLine splits a command line previously obtained via
// CopyBootCmdLine into space-separated key=value options and invokes visitor
// for each one. The key and value slices alias cmdLine.
func VisitBootCmdLine(cmdLine []byte, visitor CmdLineVisitor) {
	for start := 0; start < len(cmdLine); {
		if cmdLine[start] == ' ' || cmdLine[start] == '\t' {
			start++
			continue
		}

		end, sep := start, -1
		for ; end < len(cmdLine) && cmdLine[end] != ' ' && cmdLine[end] != '\t'; end++ {
			if cmdLine[end] == '=' && sep == -1 {
				sep = end
			}
		}

		var keepGoing bool
		if sep == -1 {
			keepGoing = visitor(cmdLine[start:end], cmdLine[end:end])
		} else {
			keepGoing = visitor(cmdLine[start:sep], cmdLine[sep+1:end])
		}

		if !keepGoing {
			return
		}
		start = end
	}
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagSection will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	curPtr := infoData + 8
	for hdr := (*tagHeader)(unsafe.Pointer(curPtr)); hdr.tagType != tagMbSectionEnd; hdr = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if hdr.tagType == tagType {
			return curPtr + 8, hdr.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr((hdr.size + 7) &^ 7)
	}

	return 0, 0
}

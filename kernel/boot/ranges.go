package boot

import (
	"unsafe"

	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
	"github.com/lukeenterprise/ktf/kernel/mm/vmm"
	"github.com/lukeenterprise/ktf/multiboot"
)

var (
	// visitElfSectionsFn is used by tests to override calls to
	// multiboot.VisitElfSections.
	visitElfSectionsFn = multiboot.VisitElfSections

	// kernelRanges holds the permanent kernel sections and initRanges the
	// identity mapped sections that are only needed during bring-up.
	// Range names point into the multiboot payload.
	kernelRanges vmm.RangeSet
	initRanges   vmm.RangeSet

	// imageStart and imageEnd hold the physical extent of every loaded
	// section.
	imageStart, imageEnd uintptr

	errNoKernelSections = &kernel.Error{Module: "boot", Message: "image contains no sections at the kernel base"}
)

// collectRanges splits the allocated ELF sections of the kernel image into
// kernel and init ranges. Sections linked at or above the kernel base keep
// their position relative to it; sections linked below it are identity
// mapped.
func collectRanges() *kernel.Error {
	var err *kernel.Error

	kernelRanges, initRanges = vmm.RangeSet{}, vmm.RangeSet{}
	imageStart, imageEnd = ^uintptr(0), 0

	visitor := func(name string, secFlags multiboot.ElfSectionFlag, secAddress uintptr, secSize uint64) {
		if err != nil {
			return
		}

		r, kind := SectionRange(name, secFlags, secAddress, secSize)
		switch kind {
		case KernelRange:
			err = kernelRanges.Append(r)
		case InitRange:
			err = initRanges.Append(r)
		default:
			return
		}

		if err != nil {
			return
		}

		if r.From < imageStart {
			imageStart = r.From
		}
		if r.To > imageEnd {
			imageEnd = r.To
		}
	}

	visitElfSectionsFn(
		*(*multiboot.ElfSectionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)

	if err != nil {
		return err
	}

	if kernelRanges.Len() == 0 {
		return errNoKernelSections
	}

	return nil
}

// RangeKind tells which address range set an ELF section belongs to.
type RangeKind uint8

// The supported range kinds.
const (
	// SkippedSection marks sections that occupy no memory at runtime.
	SkippedSection RangeKind = iota

	// KernelRange marks sections linked at or above vmm.KernelVirtBase.
	KernelRange

	// InitRange marks bring-up sections that are identity mapped.
	InitRange
)

// SectionRange returns the address range that maps an ELF section of the
// kernel image. Sections without the allocated flag are skipped.
//
// Kernel ranges keep the section's offset from the kernel base and take
// their protection from the section flags: executable sections are
// read-only text, writable sections are data and everything else is
// read-only data. Init ranges are mapped at their physical address.
func SectionRange(name string, secFlags multiboot.ElfSectionFlag, secAddress uintptr, secSize uint64) (vmm.AddressRange, RangeKind) {
	if secFlags&multiboot.ElfSectionAllocated == 0 {
		return vmm.AddressRange{}, SkippedSection
	}

	r := vmm.AddressRange{
		Name: name,
		From: secAddress,
		To:   secAddress + uintptr(secSize),
	}

	if secAddress < vmm.KernelVirtBase {
		r.Base = vmm.IdentityBase
		r.Flags = vmm.ProtInitData
		if secFlags&multiboot.ElfSectionExecutable != 0 {
			r.Flags = vmm.ProtInitText
		}
		return r, InitRange
	}

	r.Base = vmm.KernelVirtBase
	r.From -= vmm.KernelVirtBase
	r.To -= vmm.KernelVirtBase

	switch {
	case secFlags&multiboot.ElfSectionExecutable != 0:
		r.Flags = vmm.ProtKernelText
	case secFlags&multiboot.ElfSectionWritable != 0:
		r.Flags = vmm.ProtKernelData
	default:
		r.Flags = vmm.ProtKernelRodata
	}

	return r, KernelRange
}

// printRanges lists the contents of a range set.
func printRanges(kind string, set *vmm.RangeSet) {
	for _, r := range set.Ranges() {
		kfmt.Printf("[boot] %s range %s: [0x%16x - 0x%16x) at 0x%16x, flags: 0x%16x\n",
			kind, r.Name, r.From, r.To, r.VirtStart(), uintptr(r.Flags),
		)
	}
}

// Package pmm provides the physical frame allocator used while the kernel
// address space is being built.
package pmm

import (
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/mm"
	"github.com/lukeenterprise/ktf/multiboot"
)

// maxReservations bounds the number of physical ranges that can be excluded
// from allocation.
const maxReservations = 8

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
	errTooManyReservations  = &kernel.Error{Module: "boot_mem_alloc", Message: "too many reserved ranges"}
)

// reservation is the frame range [start, end) of a reserved physical range.
type reservation struct {
	start, end mm.Frame
}

// BootMemAllocator hands out the available frames reported by the
// bootloader in ascending address order. Frame 0 and any reserved ranges are
// never returned. Allocated frames cannot be freed; the kernel allocator that
// takes over later inherits them as used.
type BootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// nextFrame is the lowest frame that may still be returned.
	nextFrame mm.Frame

	reserved      [maxReservations]reservation
	reservedCount int
}

// Reserve excludes the physical range [start, end) from allocation. The range
// is widened to whole frames.
func (alloc *BootMemAllocator) Reserve(start, end uintptr) *kernel.Error {
	if end <= start {
		return nil
	}

	if alloc.reservedCount == maxReservations {
		return errTooManyReservations
	}

	alloc.reserved[alloc.reservedCount] = reservation{
		start: mm.FrameFromAddress(start),
		end:   mm.FrameFromAddress(mm.PageAlignUp(end)),
	}
	alloc.reservedCount++
	return nil
}

// AllocFrame returns the lowest free frame above the last allocation or
// errBootAllocOutOfMemory when the memory map has been exhausted.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	best := mm.InvalidFrame

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Kind() != multiboot.MemAvailable {
			return true
		}

		// Regions may not be page-aligned; only whole frames qualify.
		start := mm.Frame((region.PhysAddress + uint64(mm.PageSize-1)) >> mm.PageShift)
		end := mm.Frame((region.PhysAddress + region.Length) >> mm.PageShift)

		if start < alloc.nextFrame {
			start = alloc.nextFrame
		}
		if start == 0 {
			start = 1
		}

		start = alloc.skipReserved(start)
		if start < end && start < best {
			best = start
		}
		return true
	})

	if !best.Valid() {
		return mm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.nextFrame = best + 1
	alloc.allocCount++
	return best, nil
}

// skipReserved returns the first frame at or after frame that is not
// reserved.
func (alloc *BootMemAllocator) skipReserved(frame mm.Frame) mm.Frame {
	for moved := true; moved; {
		moved = false
		for i := 0; i < alloc.reservedCount; i++ {
			if r := alloc.reserved[i]; frame >= r.start && frame < r.end {
				frame, moved = r.end, true
			}
		}
	}

	return frame
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

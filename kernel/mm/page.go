// Package mm defines the physical frame and virtual page types used while
// the kernel address space is being constructed.
package mm

import (
	"math"

	"github.com/lukeenterprise/ktf/kernel"
)

// Frame is the index of a physical memory page.
type Frame uintptr

// InvalidFrame is returned by frame allocators that cannot satisfy a request.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in the frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the frame that contains physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(PageAlignDown(physAddr) >> PageShift)
}

// Page is the index of a virtual memory page.
type Page uintptr

// Address returns the virtual address of the first byte in the page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the page that contains virtAddr.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(PageAlignDown(virtAddr) >> PageShift)
}

// PageAlignDown rounds addr down to the nearest page boundary.
func PageAlignDown(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}

// PageAlignUp rounds addr up to the nearest page boundary. The result wraps
// to zero for addresses inside the last page of the address space.
func PageAlignUp(addr uintptr) uintptr {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// IsPageAligned returns true if addr lies on a page boundary.
func IsPageAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}

// FrameAllocatorFn hands out physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

var (
	frameAllocator FrameAllocatorFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the allocator used by AllocFrame. The bring-up
// sequence registers the boot memory allocator before any page table is built.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame reserves a physical frame using the registered allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}

	return frameAllocator()
}

// Package kstack manages the kernel stack used once the bring-up code leaves
// the stack provided by the boot stage. The stack is carved into three
// regions. From the top down these are the emergency region, used by faults
// that cannot trust any other stack, the exception region, used by the
// remaining exception handlers, and the regular region that everything else
// runs on.
package kstack

import (
	"unsafe"

	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/cpu"
	"github.com/lukeenterprise/ktf/kernel/mm"
)

const (
	// Pages is the size of the kernel stack in pages.
	Pages = 5

	// ExceptionPages is the number of pages reserved for exception
	// handlers.
	ExceptionPages = 1

	// EmergencyPages is the number of pages reserved for handlers of
	// faults that may occur while the exception stack is unusable.
	EmergencyPages = 1
)

// Region identifies one of the stack regions.
type Region uint8

// The stack regions in ascending address order.
const (
	Regular Region = iota
	Exception
	Emergency
)

// String implements fmt.Stringer for Region.
func (r Region) String() string {
	switch r {
	case Regular:
		return "regular"
	case Exception:
		return "exception"
	case Emergency:
		return "emergency"
	default:
		return "unknown"
	}
}

var (
	// arena holds the kernel stack. It is one page larger than the stack
	// so a page-aligned window always fits. Being part of .bss it is
	// covered by the kernel mapping.
	arena [(Pages + 1) * mm.PageSize]byte

	// switchStackFn is used by tests to override calls to cpu.SwitchStack
	// which would move the stack of the test runner.
	switchStackFn = cpu.SwitchStack

	errMisalignedBase = &kernel.Error{Module: "kstack", Message: "stack base is not page aligned"}
	errNoRegularPages = &kernel.Error{Module: "kstack", Message: "reserved regions leave no pages for the regular stack"}
	errLayoutOverflow = &kernel.Error{Module: "kstack", Message: "stack extends past the end of the address space"}
	errInvalidLayout  = &kernel.Error{Module: "kstack", Message: "stack layout is not initialized"}
)

// Layout describes how a page-aligned stack allocation is divided into
// regions.
type Layout struct {
	base           uintptr
	pages          uintptr
	exceptionPages uintptr
	emergencyPages uintptr
}

// NewLayout describes a stack allocation of the given number of pages that
// starts at base. The exception and emergency regions are carved out of the
// top of the allocation and the regular region must keep at least one page.
func NewLayout(base, pages, exceptionPages, emergencyPages uintptr) (Layout, *kernel.Error) {
	if base == 0 || !mm.IsPageAligned(base) {
		return Layout{}, errMisalignedBase
	}

	if exceptionPages+emergencyPages >= pages || exceptionPages+emergencyPages < exceptionPages {
		return Layout{}, errNoRegularPages
	}

	if top := base + pages<<mm.PageShift; top <= base || pages > ^uintptr(0)>>mm.PageShift {
		return Layout{}, errLayoutOverflow
	}

	return Layout{
		base:           base,
		pages:          pages,
		exceptionPages: exceptionPages,
		emergencyPages: emergencyPages,
	}, nil
}

// Kernel returns the layout of the static kernel stack.
func Kernel() Layout {
	return Layout{
		base:           mm.PageAlignUp(uintptr(unsafe.Pointer(&arena[0]))),
		pages:          Pages,
		exceptionPages: ExceptionPages,
		emergencyPages: EmergencyPages,
	}
}

// Valid returns true if the layout describes an allocation.
func (l Layout) Valid() bool {
	return l.base != 0
}

// Base returns the lowest address of the allocation.
func (l Layout) Base() uintptr {
	return l.base
}

// Top returns the address just past the highest byte of region r. Stacks
// grow down so this is the initial stack pointer for the region.
func (l Layout) Top(r Region) uintptr {
	top := l.base + l.pages<<mm.PageShift
	switch r {
	case Regular:
		return top - (l.exceptionPages+l.emergencyPages)<<mm.PageShift
	case Exception:
		return top - l.emergencyPages<<mm.PageShift
	default:
		return top
	}
}

// Bottom returns the lowest address of region r.
func (l Layout) Bottom(r Region) uintptr {
	return l.Top(r) - l.Pages(r)<<mm.PageShift
}

// Pages returns the size of region r in pages.
func (l Layout) Pages(r Region) uintptr {
	switch r {
	case Regular:
		return l.pages - l.exceptionPages - l.emergencyPages
	case Exception:
		return l.exceptionPages
	default:
		return l.emergencyPages
	}
}

// Contains returns true if addr lies inside region r.
func (l Layout) Contains(r Region, addr uintptr) bool {
	return addr >= l.Bottom(r) && addr < l.Top(r)
}

// Switch moves the stack pointer to the top of the regular region and calls
// entry. The goroutine stack bounds are updated to the regular region so the
// stack checks in function prologues keep working. The frames of the caller
// become unreachable; Switch only returns if l is invalid.
func Switch(l Layout, entry func()) *kernel.Error {
	if !l.Valid() {
		return errInvalidLayout
	}

	switchStackFn(l.Bottom(Regular), l.Top(Regular), entry)
	return nil
}

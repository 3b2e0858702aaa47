// Package vmm builds the page table hierarchies of the kernel and activates
// them. Hierarchies are built from a list of address ranges while the boot
// page tables are still active and are then installed with a single write to
// the page-table-root register.
package vmm

import (
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/cpu"
)

var (
	// switchPDTFn is used by tests to override calls to cpu.SwitchPDT
	// which will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// activePDTFn is used by tests to override calls to cpu.ActivePDT.
	activePDTFn = cpu.ActivePDT

	errInvalidRoot = &kernel.Error{Module: "vmm", Message: "page table root is not valid"}
)

// Commit makes root the active address space. The processor flushes all
// non-global TLB entries as part of the switch. From the next instruction on
// every memory access is translated through root, so the caller must ensure
// that the code and stack it runs on are mapped by it.
func Commit(root PageTableRoot) *kernel.Error {
	if !root.Valid() {
		return errInvalidRoot
	}

	switchPDTFn(root.Address())
	return nil
}

// Active returns true if root is the hierarchy currently in use.
func Active(root PageTableRoot) bool {
	return root.Valid() && activePDTFn() == root.Address()
}

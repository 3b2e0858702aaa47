// Package cpu exposes the processor instructions used during bring-up. Every
// function without a body is implemented in cpu_amd64.s and faults when
// called outside ring 0, so callers keep them behind mockable variables.
package cpu

var (
	cpuidFn = ID
)

const (
	// extendedFeatureLeaf selects the extended processor signature and
	// feature bits.
	extendedFeatureLeaf = 0x80000001

	// edxNoExecuteBit is set by extendedFeatureLeaf when the processor
	// supports the NX page protection bit.
	edxNoExecuteBit = 1 << 20
)

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution. Interrupts are disabled first so Halt
// never returns.
func Halt()

// SwitchPDT loads the physical address of a top-level page table into the
// page-table-root register. The write flushes all non-global TLB entries and
// takes effect for the memory accesses of the next instruction.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// EnableNoExecute sets EFER.NXE so page table entries may carry the
// no-execute bit. Without it the bit is reserved and every access through
// such an entry faults.
func EnableNoExecute()

// EnableWriteProtect sets CR0.WP so that read-only pages are also enforced
// for supervisor-mode writes.
func EnableWriteProtect()

// StackPointer returns the stack pointer of its caller.
func StackPointer() uintptr

// ProgramCounter returns the address of the instruction that follows the
// call to ProgramCounter.
func ProgramCounter() uintptr

// SwitchStack moves the stack pointer to hi, records [lo, hi) as the stack
// bounds of the running goroutine and calls fn on the new stack. The frames
// of the caller remain on the old stack and are never returned to. If fn
// returns, SwitchStack halts the CPU.
func SwitchStack(lo, hi uintptr, fn func())

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// HasNoExecute returns true if the processor supports the NX bit.
func HasNoExecute() bool {
	if maxExt, _, _, _ := cpuidFn(0x80000000); maxExt < extendedFeatureLeaf {
		return false
	}

	_, _, _, edx := cpuidFn(extendedFeatureLeaf)
	return edx&edxNoExecuteBit != 0
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16)

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(port uint16, val uint32)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16

// PortReadDword reads a uint32 value from the requested port.
func PortReadDword(port uint16) uint32

// Package gate installs the descriptor tables that route processor exceptions
// to the kernel. Every exception is fatal at this stage: the handlers print a
// diagnostic and halt. Exceptions run on dedicated stacks selected through
// the interrupt stack table, so a corrupted regular stack cannot prevent the
// diagnostic from being printed.
package gate

import (
	"encoding/binary"
	"unsafe"

	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/cpu"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
)

// Segment selectors. Code and data keep the values used by the boot stage.
const (
	codeSelector = 0x08
	dataSelector = 0x10
	tssSelector  = 0x18
)

// Interrupt stack table slots.
const (
	istException = 1
	istEmergency = 2
)

const (
	gdtEntries = 5
	tssSize    = 104

	// GDT descriptors for 64-bit ring 0 code and data segments.
	codeDescriptor = uint64(0x00af9a000000ffff)
	dataDescriptor = uint64(0x00cf92000000ffff)

	// Type field of an available 64-bit TSS and the present bit.
	tssAvailable   = uint64(0x9) << 40
	descriptorPres = uint64(1) << 47

	// Present, DPL 0, 64-bit interrupt gate.
	interruptGate = uint64(0x8e) << 40
)

// Stacks holds the stack tops used by exception handlers. Both must be
// 16-byte aligned.
type Stacks struct {
	// Exception is used by every exception without a dedicated stack.
	Exception uintptr

	// Emergency is used by double faults, NMIs and machine checks.
	Emergency uintptr
}

var (
	gdt [gdtEntries]uint64
	tss [tssSize]byte
	idt [exceptionCount * 2]uint64

	// Operands for LGDT and LIDT: a 16-bit limit followed by the base.
	gdtr [10]byte
	idtr [10]byte

	initialized bool

	// exceptionWriter tags the exception report lines. It is a package
	// variable so the report does not allocate.
	exceptionWriter = kfmt.PrefixWriter{Prefix: []byte("[gate] ")}

	// The following functions are used by tests to mock instructions
	// that can only be executed in ring 0.
	loadGDTFn    = loadGDT
	loadTSSFn    = loadTSS
	loadIDTFn    = loadIDT
	trapEntryFn  = trapEntryPC
	readCR2Fn    = cpu.ReadCR2
	panicFn      = kfmt.Panic
	outputSinkFn = kfmt.GetOutputSink

	errInvalidStacks      = &kernel.Error{Module: "gate", Message: "exception stacks must be distinct, non-zero and 16-byte aligned"}
	errAlreadyInitialized = &kernel.Error{Module: "gate", Message: "descriptor tables already loaded"}
	errUnhandledException = &kernel.Error{Module: "gate", Message: "unhandled CPU exception"}
)

// Init builds the GDT, TSS and IDT and loads them into the processor. Once
// Init returns, exceptions are delivered to the fatal dispatcher on the
// supplied stacks.
func Init(stacks Stacks) *kernel.Error {
	if initialized {
		return errAlreadyInitialized
	}

	if stacks.Exception == 0 || stacks.Emergency == 0 ||
		stacks.Exception&15 != 0 || stacks.Emergency&15 != 0 ||
		stacks.Exception == stacks.Emergency {
		return errInvalidStacks
	}

	setupTSS(stacks)
	setupGDT()
	setupIDT()

	loadGDTFn(&gdtr)
	loadTSSFn(tssSelector)
	loadIDTFn(&idtr)

	initialized = true
	return nil
}

func setupTSS(stacks Stacks) {
	tss = [tssSize]byte{}

	// RSP0 is only used on privilege changes; point it at the exception
	// stack so a stray ring 3 entry still lands on a valid stack.
	binary.LittleEndian.PutUint64(tss[4:], uint64(stacks.Exception))
	binary.LittleEndian.PutUint64(tss[istOffset(istException):], uint64(stacks.Exception))
	binary.LittleEndian.PutUint64(tss[istOffset(istEmergency):], uint64(stacks.Emergency))

	// An I/O map base past the segment limit denies all port access from
	// ring 3.
	binary.LittleEndian.PutUint16(tss[102:], tssSize)
}

// istOffset returns the offset of interrupt stack table slot n in the TSS.
func istOffset(n int) int {
	return 36 + (n-1)*8
}

func setupGDT() {
	tssBase := uint64(uintptr(unsafe.Pointer(&tss[0])))
	tssLimit := uint64(tssSize - 1)

	gdt[0] = 0
	gdt[codeSelector>>3] = codeDescriptor
	gdt[dataSelector>>3] = dataDescriptor
	gdt[tssSelector>>3] = tssLimit&0xffff |
		(tssBase&0xffffff)<<16 |
		tssAvailable | descriptorPres |
		(tssLimit>>16&0xf)<<48 |
		(tssBase>>24&0xff)<<56
	gdt[tssSelector>>3+1] = tssBase >> 32

	encodeDescriptorRegister(&gdtr, uintptr(unsafe.Pointer(&gdt[0])), len(gdt)*8)
}

func setupIDT() {
	for v := Vector(0); v < exceptionCount; v++ {
		ist := uint64(istException)
		if v.usesEmergencyStack() {
			ist = istEmergency
		}

		entry := uint64(trapEntryFn(uint8(v)))
		idt[2*v] = entry&0xffff |
			uint64(codeSelector)<<16 |
			ist<<32 |
			interruptGate |
			(entry>>16&0xffff)<<48
		idt[2*v+1] = entry >> 32
	}

	encodeDescriptorRegister(&idtr, uintptr(unsafe.Pointer(&idt[0])), len(idt)*8)
}

func encodeDescriptorRegister(reg *[10]byte, base uintptr, size int) {
	binary.LittleEndian.PutUint16(reg[0:], uint16(size-1))
	binary.LittleEndian.PutUint64(reg[2:], uint64(base))
}

// dispatchException is called by the assembly entry stubs with the vector,
// the error code (0 for exceptions that do not push one) and the
// interrupted RIP and RSP. It runs on an IST stack and never returns.
func dispatchException(vector, errorCode, rip, rsp uint64) {
	exceptionWriter.Sink = outputSinkFn()

	kfmt.Fprintf(&exceptionWriter, "exception %d: %s\n", vector, Vector(vector).String())
	kfmt.Fprintf(&exceptionWriter, "error code = 0x%x\n", errorCode)
	kfmt.Fprintf(&exceptionWriter, "RIP = 0x%16x RSP = 0x%16x\n", rip, rsp)
	if Vector(vector) == PageFaultException {
		kfmt.Fprintf(&exceptionWriter, "CR2 = 0x%16x\n", readCR2Fn())
	}

	panicFn(errUnhandledException)
}

// loadGDT loads the GDT described by gdtr, reloads the data segment
// registers and leaves CS untouched.
func loadGDT(gdtr *[10]byte)

// loadTSS loads the task register with the given selector.
func loadTSS(selector uint16)

// loadIDT loads the IDT described by idtr.
func loadIDT(idtr *[10]byte)

// trapEntryPC returns the address of the assembly entry stub for an
// exception vector below 32.
func trapEntryPC(vector uint8) uintptr

// Exception entry stubs implemented in assembly. They are never called from
// Go; the declarations give the toolchain their argument metadata.
func trapEntry0()
func trapEntry1()
func trapEntry2()
func trapEntry3()
func trapEntry4()
func trapEntry5()
func trapEntry6()
func trapEntry7()
func trapEntry8()
func trapEntry9()
func trapEntry10()
func trapEntry11()
func trapEntry12()
func trapEntry13()
func trapEntry14()
func trapEntry15()
func trapEntry16()
func trapEntry17()
func trapEntry18()
func trapEntry19()
func trapEntry20()
func trapEntry21()
func trapEntry22()
func trapEntry23()
func trapEntry24()
func trapEntry25()
func trapEntry26()
func trapEntry27()
func trapEntry28()
func trapEntry29()
func trapEntry30()
func trapEntry31()

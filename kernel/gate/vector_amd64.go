package gate

// Vector identifies an entry in the interrupt descriptor table. Vectors 0-31
// are reserved for processor exceptions.
type Vector uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = Vector(0)

	// Debug is raised by debug registers and single-stepping.
	Debug = Vector(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = Vector(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = Vector(3)

	// Overflow occurs when the INTO instruction finds the overflow flag set.
	Overflow = Vector(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = Vector(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = Vector(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = Vector(7)

	// DoubleFault occurs when an exception is raised while the CPU is
	// trying to deliver another one.
	DoubleFault = Vector(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = Vector(10)

	// SegmentNotPresent occurs when the CPU attempts to load a segment or
	// gate whose present bit is clear.
	SegmentNotPresent = Vector(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = Vector(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = Vector(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = Vector(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = Vector(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = Vector(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = Vector(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = Vector(19)

	// VirtualizationException is raised by EPT violations in a guest.
	VirtualizationException = Vector(20)

	// ControlProtection is raised by control-flow enforcement checks.
	ControlProtection = Vector(21)

	// SecurityException is raised by SVM security events.
	SecurityException = Vector(30)

	// exceptionCount is the number of vectors reserved for exceptions.
	exceptionCount = 32
)

var exceptionNames = [exceptionCount]string{
	DivideByZero:               "divide error",
	Debug:                      "debug",
	NMI:                        "non-maskable interrupt",
	Breakpoint:                 "breakpoint",
	Overflow:                   "overflow",
	BoundRangeExceeded:         "bound range exceeded",
	InvalidOpcode:              "invalid opcode",
	DeviceNotAvailable:         "device not available",
	DoubleFault:                "double fault",
	9:                          "coprocessor segment overrun",
	InvalidTSS:                 "invalid TSS",
	SegmentNotPresent:          "segment not present",
	StackSegmentFault:          "stack-segment fault",
	GPFException:               "general protection fault",
	PageFaultException:         "page fault",
	FloatingPointException:     "x87 floating-point exception",
	AlignmentCheck:             "alignment check",
	MachineCheck:               "machine check",
	SIMDFloatingPointException: "SIMD floating-point exception",
	VirtualizationException:    "virtualization exception",
	ControlProtection:          "control protection exception",
	SecurityException:          "security exception",
}

// String returns the name of an exception vector.
func (v Vector) String() string {
	if v < exceptionCount && exceptionNames[v] != "" {
		return exceptionNames[v]
	}
	return "reserved"
}

// usesEmergencyStack returns true for exceptions that can be raised while
// the exception stack is in an unknown state.
func (v Vector) usesEmergencyStack() bool {
	return v == DoubleFault || v == NMI || v == MachineCheck
}

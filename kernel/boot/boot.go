// Package boot sequences kernel bring-up. Starting from the environment
// left behind by the rt0 code it parses the multiboot payload, brings up a
// diagnostics console, builds and activates the kernel address space, moves
// to the kernel stack, installs the trap handlers and finally transfers
// control to the long-lived kernel entrypoint.
//
// Until the trap handlers are installed there is nothing that could recover
// from a failure so every error is fatal.
package boot

import (
	"github.com/lukeenterprise/ktf/device/serial"
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/cpu"
	"github.com/lukeenterprise/ktf/kernel/gate"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
	"github.com/lukeenterprise/ktf/kernel/kstack"
	"github.com/lukeenterprise/ktf/kernel/mm/pmm"
	"github.com/lukeenterprise/ktf/kernel/mm/vmm"
	"github.com/lukeenterprise/ktf/multiboot"
)

// Handoff carries the resources that bring-up passes on to the kernel. The
// kernel owns them once its entrypoint is invoked.
type Handoff struct {
	// KernelRoot is the active page table hierarchy.
	KernelRoot vmm.PageTableRoot

	// InitRoot maps the bring-up sections at their physical addresses. It
	// is never activated by the sequencer and may be reclaimed.
	InitRoot vmm.PageTableRoot

	// Stack describes the stack the entrypoint runs on.
	Stack kstack.Layout

	// CmdLine is the boot command line.
	CmdLine []byte
}

var (
	started     bool
	kernelEntry func(*Handoff)
	handoff     Handoff

	// console is the serial port that receives kfmt output.
	console = serial.Port{Base: serial.COM1, Baud: serial.DefaultBaud}

	// memStart and memEnd bound the available physical memory reported by
	// the bootloader.
	memStart, memEnd uint64

	kernelRoot, initRoot vmm.PageTableRoot
	stackLayout          kstack.Layout

	// The following functions are used by tests to mock hardware access
	// and the collaborating subsystems.
	disableInterruptsFn = cpu.DisableInterrupts
	setInfoPtrFn        = multiboot.SetInfoPtr
	visitMemRegionsFn   = multiboot.VisitMemRegions
	pmmInitFn           = pmm.Init
	printMemoryMapFn    = pmm.PrintMemoryMap
	consoleInitFn       = initConsole
	buildFn             = vmm.Build
	coversFn            = vmm.PageTableRoot.Covers
	commitFn            = vmm.Commit
	activeFn            = vmm.Active
	allocatedFramesFn   = pmm.AllocatedFrames
	hasNoExecuteFn      = cpu.HasNoExecute
	enableNoExecuteFn   = cpu.EnableNoExecute
	enableWPFn          = cpu.EnableWriteProtect
	programCounterFn    = cpu.ProgramCounter
	stackPointerFn      = cpu.StackPointer
	stackLayoutFn       = kstack.Kernel
	switchKernelStackFn = kstack.Switch
	trapInitFn          = initTraps
	transferFn          = cpu.SwitchStack
	panicFn             = kfmt.Panic

	errAlreadyStarted       = &kernel.Error{Module: "boot", Message: "bring-up sequence already started"}
	errKernelReturned       = &kernel.Error{Module: "boot", Message: "kernel entrypoint returned"}
	errNoExecuteUnsupported = &kernel.Error{Module: "boot", Message: "processor does not support no-execute pages"}
	errUnmappedExecution    = &kernel.Error{Module: "boot", Message: "running code is not mapped by the kernel address space"}
	errUnmappedStack        = &kernel.Error{Module: "boot", Message: "stack is not mapped by the kernel address space"}
	errNoAvailableMemory    = &kernel.Error{Module: "boot", Message: "bootloader reported no available memory"}
	errNoEntrypoint         = &kernel.Error{Module: "boot", Message: "no kernel entrypoint supplied"}
	errRootNotActive        = &kernel.Error{Module: "boot", Message: "kernel address space did not become active"}
)

// Start runs the bring-up sequence. infoPtr is the physical address of the
// multiboot payload and entry the kernel entrypoint that receives the
// Handoff on the kernel stack.
//
// Start never returns. Calling it a second time halts the system.
func Start(infoPtr uintptr, entry func(*Handoff)) {
	if started {
		panicFn(errAlreadyStarted)
		return
	}
	started = true

	// No trap handlers exist until TrapsInitialized.
	disableInterruptsFn()

	if entry == nil {
		panicFn(errNoEntrypoint)
		return
	}
	kernelEntry = entry

	if err := parseEnvironment(infoPtr); err != nil {
		panicFn(err)
		return
	}
	if !advance(StateEnvironmentParsed) {
		return
	}

	initDiagnostics()
	if !advance(StateDiagnosticsReady) {
		return
	}

	if err := commitAddressSpace(); err != nil {
		panicFn(err)
		return
	}
	if !advance(StateAddressSpaceCommitted) {
		return
	}

	// On success the sequence continues in afterStackSwitch and the frames
	// of Start are abandoned.
	if err := switchKernelStackFn(stackLayout, afterStackSwitch); err != nil {
		panicFn(err)
	}
}

// parseEnvironment extracts everything bring-up needs from the multiboot
// payload and sets up the boot frame allocator.
func parseEnvironment(infoPtr uintptr) *kernel.Error {
	setInfoPtrFn(infoPtr)
	parseOptions()

	if err := collectRanges(); err != nil {
		return err
	}

	memStart, memEnd = ^uint64(0), 0
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		if region.Kind() != multiboot.MemAvailable || region.Length == 0 {
			return true
		}
		if region.PhysAddress < memStart {
			memStart = region.PhysAddress
		}
		if end := region.PhysAddress + region.Length; end > memEnd {
			memEnd = end
		}
		return true
	})

	if memEnd == 0 {
		return errNoAvailableMemory
	}

	return pmmInitFn(imageStart, imageEnd)
}

// initDiagnostics attaches the serial console and prints what bring-up has
// learned about the machine. A missing console is not fatal; output stays
// in the kfmt ring buffer.
func initDiagnostics() {
	if !options.noConsole {
		if err := consoleInitFn(); err != nil {
			kfmt.Printf("[boot] console unavailable: %s\n", err.Message)
		}
	}

	kfmt.Printf("[boot] starting kernel bring-up\n")
	kfmt.Printf("[boot] command line: %s\n", cmdLine[:cmdLineLen])
	kfmt.Printf("[boot] available memory: 0x%x - 0x%x\n", memStart, memEnd)
	printMemoryMapFn()

	if options.verbose {
		printRanges("kernel", &kernelRanges)
		printRanges("init", &initRanges)
	}
}

func initConsole() *kernel.Error {
	if err := console.DriverInit(nil); err != nil {
		return err
	}
	return kfmt.RegisterConsole(&console)
}

// commitAddressSpace builds the kernel and init page tables and activates
// the kernel one. The code and stack in use while the switch happens must be
// reachable through the kernel mapping; otherwise the next instruction fetch
// after the switch would fault with no handler installed.
func commitAddressSpace() *kernel.Error {
	var err *kernel.Error

	if kernelRoot, err = buildFn(kernelRanges.Ranges()); err != nil {
		return err
	}

	if initRoot, err = buildFn(initRanges.Ranges()); err != nil {
		return err
	}
	kfmt.Printf("[boot] page tables: %d frames\n", allocatedFramesFn())

	stackLayout = stackLayoutFn()

	if !coversFn(kernelRoot, programCounterFn()) {
		return errUnmappedExecution
	}

	if !coversFn(kernelRoot, stackPointerFn()) ||
		!coversFn(kernelRoot, stackLayout.Bottom(kstack.Regular)) ||
		!coversFn(kernelRoot, stackLayout.Top(kstack.Emergency)-1) {
		return errUnmappedStack
	}

	if !hasNoExecuteFn() {
		return errNoExecuteUnsupported
	}
	enableNoExecuteFn()

	// Read-only pages are only enforced for ring 0 with CR0.WP set.
	enableWPFn()

	if err = commitFn(kernelRoot); err != nil {
		return err
	}
	if !activeFn(kernelRoot) {
		return errRootNotActive
	}

	// Range names point into the multiboot payload which the kernel
	// address space does not map.
	kernelRanges, initRanges = vmm.RangeSet{}, vmm.RangeSet{}

	if options.verbose {
		kfmt.Printf("[boot] kernel root: 0x%x, init root: 0x%x\n", kernelRoot.Address(), initRoot.Address())
	}

	return nil
}

// afterStackSwitch continues the sequence on the regular region of the
// kernel stack.
func afterStackSwitch() {
	if !advance(StateStackSwitched) {
		return
	}

	if err := trapInitFn(); err != nil {
		panicFn(err)
		return
	}
	if !advance(StateTrapsInitialized) {
		return
	}

	handoff = Handoff{
		KernelRoot: kernelRoot,
		InitRoot:   initRoot,
		Stack:      stackLayout,
		CmdLine:    cmdLine[:cmdLineLen],
	}
	if !advance(StateTransferred) {
		return
	}

	// Restart from the top of the regular region so nothing of the
	// sequencer remains on the stack the kernel runs on.
	transferFn(stackLayout.Bottom(kstack.Regular), stackLayout.Top(kstack.Regular), enterKernel)
}

func initTraps() *kernel.Error {
	return gate.Init(gate.Stacks{
		Exception: stackLayout.Top(kstack.Exception),
		Emergency: stackLayout.Top(kstack.Emergency),
	})
}

func enterKernel() {
	kernelEntry(&handoff)

	// The kernel entrypoint should never return
	panicFn(errKernelReturned)
}

package boot

import (
	"unsafe"

	"github.com/lukeenterprise/ktf/multiboot"
)

const cmdLineBufSize = 4096

var (
	// cmdLine holds a copy of the boot command line. The multiboot payload
	// lives in memory that is no longer mapped once the kernel address
	// space is active.
	cmdLine    [cmdLineBufSize]byte
	cmdLineLen int

	options bootOptions

	// copyCmdLineFn is used by tests to override calls to
	// multiboot.CopyBootCmdLine.
	copyCmdLineFn = multiboot.CopyBootCmdLine
)

// bootOptions are the runtime switches recognized on the boot command line.
type bootOptions struct {
	// verbose enables tracing of address ranges and state transitions.
	verbose bool

	// noConsole skips serial console setup. Output then accumulates in
	// the kfmt ring buffer.
	noConsole bool
}

// parseOptions copies the boot command line into the kernel-owned buffer and
// extracts the recognized options from it.
func parseOptions() {
	cmdLineLen = copyCmdLineFn(cmdLine[:])
	options = bootOptions{}

	visitor := func(key, value []byte) bool {
		if string(key) == "boot.verbose" {
			options.verbose = len(value) == 0 || isTrue(value)
		} else if string(key) == "boot.console" {
			options.noConsole = string(value) == "off"
		}
		return true
	}

	multiboot.VisitBootCmdLine(
		cmdLine[:cmdLineLen],
		*(*multiboot.CmdLineVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)
}

func isTrue(value []byte) bool {
	return string(value) == "1" || string(value) == "on" ||
		string(value) == "true" || string(value) == "yes"
}

// noEscape hides a pointer from escape analysis so visitor closures stay on
// the stack.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

package kfmt

import (
	"io"

	"github.com/lukeenterprise/ktf/kernel"
)

var (
	// earlyPrintBuffer captures output until a console is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the registered console. While nil, Printf output goes
	// to earlyPrintBuffer.
	outputSink io.Writer

	errConsoleRegistered = &kernel.Error{Module: "kfmt", Message: "a console is already registered"}
	errNilConsole        = &kernel.Error{Module: "kfmt", Message: "nil console"}
)

// RegisterConsole installs w as the target of Printf and replays the output
// captured so far into it. Only one console may be registered for the
// lifetime of the kernel; it cannot be replaced or removed.
func RegisterConsole(w io.Writer) *kernel.Error {
	switch {
	case w == nil:
		return errNilConsole
	case outputSink != nil:
		return errConsoleRegistered
	}

	outputSink = w
	earlyPrintBuffer.WriteTo(w)
	return nil
}

// GetOutputSink returns the registered console or nil if no console has been
// registered.
func GetOutputSink() io.Writer {
	return outputSink
}

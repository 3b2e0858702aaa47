// Package serial drives 16550-compatible UARTs through port I/O. It is the
// kernel console during bring-up: unlike a memory-mapped framebuffer it keeps
// working across address space switches because it needs no mapping at all.
package serial

import (
	"io"

	"github.com/lukeenterprise/ktf/device"
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/cpu"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
	"github.com/lukeenterprise/ktf/kernel/sync"
)

const (
	// COM1 is the I/O base of the first legacy serial port.
	COM1 = uint16(0x3f8)

	// DefaultBaud is the line speed used by the kernel console.
	DefaultBaud = uint32(115200)

	// uartClock is the base clock divided down to the baud rate.
	uartClock = uint32(115200)
)

// Register offsets from the port base. regDivLow and regDivHigh alias
// regData and regIntEnable while the DLAB bit is set.
const (
	regData      = 0
	regIntEnable = 1
	regDivLow    = 0
	regDivHigh   = 1
	regFIFOCtrl  = 2
	regLineCtrl  = 3
	regModemCtrl = 4
	regLineStat  = 5
)

const (
	lineCtrlDLAB = 0x80
	lineCtrl8N1  = 0x03

	// Enable and clear both FIFOs with a 14 byte receive threshold.
	fifoCtrlEnable = 0xc7

	// DTR, RTS and OUT2 asserted.
	modemCtrlNormal = 0x0b

	// Loopback mode with RTS, OUT1 and OUT2 asserted.
	modemCtrlLoopback = 0x1e

	lineStatTxEmpty = 0x20

	loopbackProbe = 0xae
)

var (
	// portWriteByteFn and portReadByteFn are used by tests to emulate a
	// UART.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errInvalidBaud = &kernel.Error{Module: "serial", Message: "unsupported baud rate"}
	errNoDevice    = &kernel.Error{Module: "serial", Message: "UART failed the loopback test"}
)

// Port is a 16550 UART. Its zero value is not usable; set Base and Baud and
// call DriverInit before writing to it.
type Port struct {
	Base uint16
	Baud uint32

	lock sync.Spinlock
}

// DriverName implements device.Driver.
func (p *Port) DriverName() string {
	return "serial_16550"
}

// DriverVersion implements device.Driver.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit programs the line speed and framing (8N1), enables the FIFOs
// and verifies that a UART answers at Base using its loopback mode.
// Interrupts stay disabled; transmission is polled.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	if p.Baud == 0 || p.Baud > uartClock || uartClock%p.Baud != 0 {
		return errInvalidBaud
	}
	divisor := uartClock / p.Baud

	p.out(regIntEnable, 0)
	p.out(regLineCtrl, lineCtrlDLAB)
	p.out(regDivLow, uint8(divisor))
	p.out(regDivHigh, uint8(divisor>>8))
	p.out(regLineCtrl, lineCtrl8N1)
	p.out(regFIFOCtrl, fifoCtrlEnable)

	p.out(regModemCtrl, modemCtrlLoopback)
	p.out(regData, loopbackProbe)
	if p.in(regData) != loopbackProbe {
		return errNoDevice
	}
	p.out(regModemCtrl, modemCtrlNormal)

	kfmt.Fprintf(w, "[serial] UART at 0x%x, %d baud\n", p.Base, p.Baud)
	return nil
}

// Write transmits p, translating each '\n' into "\r\n". Concurrent writers
// are serialized so their output is not interleaved.
func (p *Port) Write(b []byte) (int, error) {
	p.lock.Acquire()
	for _, ch := range b {
		if ch == '\n' {
			p.transmit('\r')
		}
		p.transmit(ch)
	}
	p.lock.Release()

	return len(b), nil
}

// transmit busy-waits until the transmit holding register is empty and then
// sends ch.
func (p *Port) transmit(ch byte) {
	for p.in(regLineStat)&lineStatTxEmpty == 0 {
	}
	p.out(regData, ch)
}

func (p *Port) out(reg uint16, val uint8) {
	portWriteByteFn(p.Base+reg, val)
}

func (p *Port) in(reg uint16) uint8 {
	return portReadByteFn(p.Base + reg)
}

var _ device.Driver = (*Port)(nil)

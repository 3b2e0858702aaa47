// Package kfmt implements the diagnostic output path of the kernel. Its
// formatter runs before the Go allocator is initialized and therefore never
// allocates. Output produced before a console is registered is kept in a
// ring buffer and replayed once a console becomes available.
package kfmt

import (
	"io"
	"unsafe"
)

// maxNumLen bounds the width of a formatted integer, including padding and
// sign. It comfortably fits a 64-bit value in base 8.
const maxNumLen = 64

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errBadVerb      = []byte("%!(BADVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	digits = "0123456789abcdef"

	// numBuf is filled right to left while formatting integers.
	numBuf [maxNumLen]byte

	// singleByte is used to pass single characters to write.
	singleByte = []byte(" ")
)

// Printf writes formatted output to the registered console or, when no
// console is registered yet, to the early ring buffer. It supports a subset
// of the fmt verbs:
//
//	%s  string or []byte
//	%d  integer, base 10
//	%x  integer, base 16 with lower-case letters
//	%o  integer, base 8
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base 10
// integers are left-padded with spaces while base 8 and base 16 integers are
// left-padded with zeroes.
//
// Only built-in string, bool and integer types are recognized. Printf does
// not look for Stringer or error implementations because method lookups on
// arbitrary interfaces need itables that may not be initialized this early.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w. A nil w selects the
// early ring buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		litStart int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[litStart:i])

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		litStart = i + 1

		if i == len(format) {
			write(w, errNoVerb)
			break
		}

		switch verb := format[i]; verb {
		case '%':
			writeByte(w, '%')
		case 'd', 'x', 'o', 's', 't':
			if argIndex >= len(args) {
				write(w, errMissingArg)
				continue
			}

			arg := args[argIndex]
			argIndex++

			switch verb {
			case 'd':
				fmtInt(w, arg, 10, width)
			case 'x':
				fmtInt(w, arg, 16, width)
			case 'o':
				fmtInt(w, arg, 8, width)
			case 's':
				fmtString(w, arg, width)
			case 't':
				fmtBool(w, arg)
			}
		default:
			write(w, errBadVerb)
		}
	}

	if litStart < len(format) {
		writeString(w, format[litStart:])
	}

	for ; argIndex < len(args); argIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, errWrongArgType)
	case b:
		write(w, trueValue)
	default:
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		writeString(w, s)
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		write(w, s)
	default:
		write(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt formats any built-in integer type in the given base. Negative values
// are printed as a sign followed by their magnitude.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval uint64
		neg  bool
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, neg = magnitude(int64(t))
	case int16:
		uval, neg = magnitude(int64(t))
	case int32:
		uval, neg = magnitude(int64(t))
	case int64:
		uval, neg = magnitude(t)
	case int:
		uval, neg = magnitude(int64(t))
	default:
		write(w, errWrongArgType)
		return
	}

	if width > maxNumLen {
		width = maxNumLen
	}

	pos := maxNumLen
	for {
		pos--
		numBuf[pos] = digits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	if base == 10 {
		if neg {
			pos--
			numBuf[pos] = '-'
		}
		for ; maxNumLen-pos < width; pos-- {
			numBuf[pos-1] = ' '
		}
	} else {
		signLen := 0
		if neg {
			signLen = 1
		}
		for ; maxNumLen-pos+signLen < width; pos-- {
			numBuf[pos-1] = '0'
		}
		if neg {
			pos--
			numBuf[pos] = '-'
		}
	}

	write(w, numBuf[pos:])
}

func magnitude(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	write(w, singleByte)
}

// writeString writes s without converting it to a byte slice, as the
// conversion would allocate.
func writeString(w io.Writer, s string) {
	if len(s) == 0 {
		return
	}
	write(w, unsafe.Slice(unsafe.StringData(s), len(s)))
}

// write hides p from escape analysis. The compiler cannot prove that the
// dynamic Write call keeps p local, so without noEscape every call site
// would move its arguments to the heap.
func write(w io.Writer, p []byte) {
	writeNoEscape(w, noEscape(unsafe.Pointer(&p)))
}

func writeNoEscape(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w == nil {
		earlyPrintBuffer.Write(p)
		return
	}
	w.Write(p)
}

// noEscape hides a pointer from escape analysis. It mirrors the helper in
// runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize bounds the width of padded values.
const maxBufSize = 32

// maxDigits is the number of digits needed to print any 64-bit value in
// base 2.
const maxDigits = 64

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	digits = "0123456789abcdef"

	// numFmtBuf holds a formatted number; digits are filled in from the end.
	numFmtBuf [maxDigits + 1]byte

	// chunkBuf stages string arguments. Converting a string to a byte slice
	// would allocate, copying into a static array does not.
	chunkBuf [maxBufSize]byte

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it. If the early buffer had
// to discard output, a warning with the number of lost bytes follows the
// copied data.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w == nil {
		return
	}

	dropped := earlyPrintBuffer.dropped
	_, _ = earlyPrintBuffer.WriteTo(w)
	if dropped != 0 {
		earlyPrintBuffer.dropped = 0
		Logf(LevelWarn, "kfmt", "%d bytes of early output were lost\n", dropped)
	}
}

// GetOutputSink returns the currently active output sink or nil if output is
// still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the kernel heap has been initialized and from within the heap
// allocator itself. This implementation does not allocate any memory.
//
// The following subset of the fmt.Printf verbs is supported:
//
//	%s  string or []byte
//	%d  integer, base 10, left-padded with spaces
//	%x  integer, base 16 (lower-case), left-padded with zeroes
//	%o  integer, base 8, left-padded with zeroes
//	%b  integer, base 2, left-padded with zeroes
//	%t  bool
//
// An optional decimal width may precede the verb. Strings shorter than the
// width are left-padded with spaces.
//
// Only built-in integer types are accepted: the compiler generates
// allocating conversion calls for anything that would need reflect, so named
// types (mm.PhysAddr and friends) must be converted by the caller.
//
// The output of Printf is written to the sink registered via SetOutputSink.
// If no sink is available, then the output is buffered into a ring-buffer
// whose contents are flushed to the sink once it gets registered.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex   int
		literalEnd int
		width      int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[literalEnd:i], 0)

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		switch {
		case i == len(format):
			doWrite(w, errNoVerb)
		case format[i] == '%':
			writeString(w, "%", 0)
		case !isVerb(format[i]):
			doWrite(w, errNoVerb)
		case argIndex >= len(args):
			doWrite(w, errMissingArg)
		default:
			fmtArg(w, format[i], args[argIndex], width)
			argIndex++
		}
		literalEnd = i + 1
	}

	if literalEnd < len(format) {
		writeString(w, format[literalEnd:], 0)
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func isVerb(ch byte) bool {
	switch ch {
	case 's', 'd', 'x', 'o', 'b', 't':
		return true
	}
	return false
}

func fmtArg(w io.Writer, verb byte, arg interface{}, width int) {
	switch verb {
	case 's':
		switch v := arg.(type) {
		case string:
			writeString(w, v, width)
		case []byte:
			fmtRepeat(w, ' ', width-len(v))
			doWrite(w, v)
		default:
			doWrite(w, errWrongArgType)
		}
	case 't':
		fmtBool(w, arg)
	case 'd':
		fmtInt(w, arg, 10, width)
	case 'x':
		fmtInt(w, arg, 16, width)
	case 'o':
		fmtInt(w, arg, 8, width)
	case 'b':
		fmtInt(w, arg, 2, width)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// writeString writes s left-padded with spaces to width.
func writeString(w io.Writer, s string, width int) {
	fmtRepeat(w, ' ', width-len(s))
	for len(s) != 0 {
		n := copy(chunkBuf[:], s)
		doWrite(w, chunkBuf[:n])
		s = s[n:]
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	if count <= 0 {
		return
	}

	fill := chunkBuf[:min(count, len(chunkBuf))]
	for i := range fill {
		fill[i] = ch
	}
	for ; count > len(fill); count -= len(fill) {
		doWrite(w, fill)
	}
	doWrite(w, fill[:count])
}

// intMagnitude splits a built-in integer into its magnitude and sign.
func intMagnitude(v interface{}) (mag uint64, neg, ok bool) {
	var sval int64

	switch t := v.(type) {
	case uint8:
		return uint64(t), false, true
	case uint16:
		return uint64(t), false, true
	case uint32:
		return uint64(t), false, true
	case uint64:
		return t, false, true
	case uint:
		return uint64(t), false, true
	case uintptr:
		return uint64(t), false, true
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		return 0, false, false
	}

	if sval < 0 {
		// Negating in the unsigned domain also handles math.MinInt64.
		return -uint64(sval), true, true
	}
	return uint64(sval), false, true
}

// fmtInt prints v in the requested base padded to width. Base 10 values are
// padded with spaces and the sign of negative values takes up a padding
// slot if one is available; other bases are zero-padded and the sign is
// prepended to the padded digits. The width is capped to maxBufSize-1.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	mag, neg, ok := intMagnitude(v)
	if !ok {
		doWrite(w, errWrongArgType)
		return
	}
	width = min(width, maxBufSize-1)

	pos := len(numFmtBuf)
	for {
		pos--
		numFmtBuf[pos] = digits[mag%base]
		if mag /= base; mag == 0 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}
	signInPadding := neg && padCh == ' ' && len(numFmtBuf)-pos < width

	for len(numFmtBuf)-pos < width {
		pos--
		numFmtBuf[pos] = padCh
	}

	switch {
	case signInPadding:
		numFmtBuf[pos+bytesIndexNonSpace(numFmtBuf[pos:])-1] = '-'
	case neg:
		pos--
		numFmtBuf[pos] = '-'
	}

	doWrite(w, numFmtBuf[pos:])
}

// bytesIndexNonSpace returns the index of the first non-space byte in p.
func bytesIndexNonSpace(p []byte) int {
	for i, b := range p {
		if b != ' ' {
			return i
		}
	}
	return len(p)
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack, the compiler cannot properly
// detect that p does not escape (due to the call to the yet unknown outputSink
// io.Writer) and plays it safe by flagging it as escaping. This causes all
// calls to Printf to call runtime.convT2E which triggers a memory allocation
// causing the kernel to crash if a call to Printf is made before the Go
// allocator is initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

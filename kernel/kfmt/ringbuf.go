package kfmt

import "io"

// earlyBufferSize is the capacity of the buffer that captures output produced
// before an output sink is registered. It can hold the contents of a standard
// 80*25 text-mode console and must be a power of 2.
const earlyBufferSize = 2048

// ringBuffer keeps the most recent earlyBufferSize bytes written to it.
// Writes that do not fit overwrite the oldest data which is accounted for
// in dropped.
type ringBuffer struct {
	data        [earlyBufferSize]byte
	start, size int

	// dropped counts the bytes that were overwritten before being read.
	dropped uint64
}

// Write appends p to the buffer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n > len(rb.data) {
		rb.dropped += uint64(n - len(rb.data))
		p = p[n-len(rb.data):]
	}

	if overflow := rb.size + len(p) - len(rb.data); overflow > 0 {
		rb.dropped += uint64(overflow)
		rb.start = (rb.start + overflow) & (earlyBufferSize - 1)
		rb.size -= overflow
	}

	end := (rb.start + rb.size) & (earlyBufferSize - 1)
	copied := copy(rb.data[end:], p)
	copy(rb.data[:], p[copied:])
	rb.size += len(p)

	return n, nil
}

// Read moves up to len(p) buffered bytes into p. It returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	end := min(rb.start+rb.size, len(rb.data))
	n := copy(p, rb.data[rb.start:end])
	rb.consume(n)
	return n, nil
}

// WriteTo drains the buffer into w without going through an intermediate
// buffer.
func (rb *ringBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for rb.size != 0 {
		end := min(rb.start+rb.size, len(rb.data))
		n, err := w.Write(rb.data[rb.start:end])
		rb.consume(n)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (rb *ringBuffer) consume(n int) {
	rb.start = (rb.start + n) & (earlyBufferSize - 1)
	rb.size -= n
	if rb.size == 0 {
		rb.start = 0
	}
}

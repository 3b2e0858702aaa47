package kfmt

import "io"

// ringBufferSize is enough for a full 80x25 screen of early output. It must
// be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the most recent ringBufferSize bytes written to it. Once
// full, each write discards the oldest bytes.
type ringBuffer struct {
	buffer [ringBufferSize]byte
	head   int
	count  int
}

// Write appends p to the buffer and always reports len(p) bytes written.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.head+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.head = (rb.head + 1) & (ringBufferSize - 1)
		} else {
			rb.count++
		}
	}

	return len(p), nil
}

// Read drains up to len(p) bytes into p. It returns io.EOF once the buffer is
// empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := copy(p, rb.contiguous())
	rb.consume(n)
	return n, nil
}

// WriteTo drains the buffer into w. Implementing io.WriterTo lets io.Copy
// skip its intermediate heap buffer.
func (rb *ringBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for rb.count > 0 {
		n, err := w.Write(rb.contiguous())
		rb.consume(n)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// contiguous returns the longest run of buffered bytes that does not wrap.
func (rb *ringBuffer) contiguous() []byte {
	end := rb.head + rb.count
	if end > ringBufferSize {
		end = ringBufferSize
	}
	return rb.buffer[rb.head:end]
}

func (rb *ringBuffer) consume(n int) {
	rb.head = (rb.head + n) & (ringBufferSize - 1)
	rb.count -= n
}

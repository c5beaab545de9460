package conn

// Buffer is a growable byte buffer that collects bytes received on a
// connection until they form complete frames.
//
// Thread-safety: Buffer is not thread-safe, the owning connection state
// serializes access.
type Buffer struct {
	buf []byte
}

// Append adds data to the end of the buffer
func (b *Buffer) Append(data []byte) {
	b.buf = append(b.buf, data...)
}

// Bytes returns the buffered bytes.
// The slice aliases the buffer and is only valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Consume discards the first n bytes and moves the remaining bytes to the
// front of the buffer. n is clamped to the buffered length.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.buf) {
		b.buf = b.buf[:0]
		return
	}
	remaining := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
}

// Reset drops all buffered bytes and releases the backing array
func (b *Buffer) Reset() {
	b.buf = nil
}

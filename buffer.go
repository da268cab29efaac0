package serial

import "sync"

// receiveBuffer holds arrived bytes not yet claimed by a read. Its length
// never exceeds capacity; bytes that do not fit are dropped.
type receiveBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
}

func newReceiveBuffer(capacity int) *receiveBuffer {
	return &receiveBuffer{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// write appends as much of data as fits and returns the number of bytes
// dropped.
func (b *receiveBuffer) write(data []byte) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(data), b.capacity-len(b.buf))
	b.buf = append(b.buf, data[:n]...)
	return len(data) - n
}

// take removes and returns up to size bytes from the front. size <= 0 takes
// everything. It returns nil when the buffer is empty.
func (b *receiveBuffer) take(size int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil
	}
	n := len(b.buf)
	if size > 0 && size < n {
		n = size
	}
	out := make([]byte, n)
	copy(out, b.buf)
	b.buf = b.buf[:copy(b.buf, b.buf[n:])]
	return out
}

func (b *receiveBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

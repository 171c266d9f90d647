package sandbox

import (
	"bytes"
	"sync"
)

// cappedBuffer keeps at most limit bytes. The first write past the limit
// marks it exceeded and calls onExceed once; later writes are discarded but
// reported as consumed so the producer is never blocked.
type cappedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int
	exceeded bool
	onExceed func()
}

func newCappedBuffer(limit int, onExceed func()) *cappedBuffer {
	return &cappedBuffer{limit: limit, onExceed: onExceed}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exceeded {
		return len(p), nil
	}
	room := b.limit - b.buf.Len()
	if len(p) > room {
		b.buf.Write(p[:room])
		b.exceeded = true
		if b.onExceed != nil {
			b.onExceed()
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

package sandbox

import (
	"io"
	"strings"
	"testing"
)

func TestCappedBufferWithinLimit(t *testing.T) {
	b := newCappedBuffer(16, func() { t.Fatal("onExceed called within limit") })
	io.WriteString(b, "hello ")
	io.WriteString(b, "world")

	if got := b.String(); got != "hello world" {
		t.Errorf("String() = %q, want %q", got, "hello world")
	}
	if b.Exceeded() {
		t.Error("Exceeded() = true, want false")
	}
}

func TestCappedBufferOverflow(t *testing.T) {
	calls := 0
	b := newCappedBuffer(8, func() { calls++ })

	n, err := io.WriteString(b, "0123456789")
	if err != nil || n != 10 {
		t.Fatalf("Write = %d, %v; want 10, nil", n, err)
	}
	io.WriteString(b, strings.Repeat("x", 100))

	if got := b.String(); got != "01234567" {
		t.Errorf("String() = %q, want %q", got, "01234567")
	}
	if !b.Exceeded() {
		t.Error("Exceeded() = false, want true")
	}
	if calls != 1 {
		t.Errorf("onExceed called %d times, want 1", calls)
	}
}

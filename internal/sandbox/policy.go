package sandbox

import (
	"slices"
	"time"
)

// Policy defines resource limits for sandbox execution.
type Policy struct {
	Timeout        time.Duration // wall-clock limit per run
	MemoryMB       int64
	CPUs           float64
	MaxOutputBytes int // per stream
	PidsLimit      int64
	KillGrace      time.Duration // how long to wait for a killed context to go away
	Network        bool
	Images         []string // allowed Docker images
}

// DefaultPolicy returns safe defaults for code execution.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        5 * time.Second,
		MemoryMB:       128,
		CPUs:           0.5,
		MaxOutputBytes: 64 * 1024,
		PidsLimit:      32,
		KillGrace:      2 * time.Second,
		Network:        false,
		Images:         []string{"node:22-slim"},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return slices.Contains(p.Images, image)
}

// heapMB leaves headroom below the memory ceiling for node itself.
func (p Policy) heapMB() int64 {
	heap := p.MemoryMB * 3 / 4
	if heap < 16 {
		heap = 16
	}
	return heap
}

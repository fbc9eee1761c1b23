// Package selfiebox holds the most recently received selfie while it waits
// for the verification flow to pick it up. The box is a single-slot mailbox:
// each Put overwrites the previous value (last write wins) and bumps a
// monotonic version so readers can tell two identical consecutive selfies
// apart.
package selfiebox

import (
	"sync"

	"github.com/example/face-gate/internal/imagedata"
)

// Box is the process-wide pending-selfie slot. Safe for concurrent use.
type Box struct {
	mu      sync.Mutex
	payload imagedata.Payload
	version uint64
	full    bool
}

// New returns an empty box.
func New() *Box {
	return &Box{}
}

// Put stores a selfie, replacing any value already present, and returns the
// new slot version.
func (b *Box) Put(p imagedata.Payload) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payload = p
	b.version++
	b.full = true
	return b.version
}

// Peek returns the current value without clearing it. The version lets a
// polling client deduplicate without comparing payload bytes.
func (b *Box) Peek() (imagedata.Payload, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return imagedata.Payload{}, b.version, false
	}
	return b.payload, b.version, true
}

// Take atomically removes and returns the current value. The second result
// is false when the box is empty, including immediately after a prior Take.
func (b *Box) Take() (imagedata.Payload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return imagedata.Payload{}, false
	}
	p := b.payload
	b.payload = imagedata.Payload{}
	b.full = false
	return p, true
}

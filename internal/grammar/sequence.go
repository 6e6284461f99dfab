package grammar

import "sync"

// JackSequence restricts inputJack#N fallbacks so that jacks on a module
// instance are claimed in order. Any index up to one past the highest accepted
// index is allowed, including re-use of lower indices.
//
// State grows with the number of distinct module instances seen; that space
// is fixed by the hardware topology, so there is no eviction.
type JackSequence struct {
	mu      sync.Mutex
	highest map[string]int // module#instance → highest accepted jack
}

// NewJackSequence creates an empty sequence tracker.
func NewJackSequence() *JackSequence {
	return &JackSequence{highest: make(map[string]int)}
}

// Accept reports whether jack may be used on moduleInstance and records it.
func (j *JackSequence) Accept(moduleInstance string, jack int) bool {
	if jack < 1 {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	current := j.highest[moduleInstance]
	if jack > current+1 {
		return false
	}
	if jack > current {
		j.highest[moduleInstance] = jack
	}
	return true
}

// Highest returns the highest accepted jack for moduleInstance (0 if none).
func (j *JackSequence) Highest(moduleInstance string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.highest[moduleInstance]
}

// Len returns the number of tracked module instances.
func (j *JackSequence) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.highest)
}

package sensor

import "sync"

// LatestFrameSlot holds the most recently published frame. The lock covers
// only the pointer swap.
type LatestFrameSlot struct {
	mu    sync.Mutex
	frame *SensorFrame
}

// Set replaces the cached frame.
func (s *LatestFrameSlot) Set(f *SensorFrame) {
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
}

// Get returns the cached frame, or nil before the first Set. The returned
// frame stays valid after later Sets.
func (s *LatestFrameSlot) Get() *SensorFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

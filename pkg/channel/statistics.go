package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	// Bus frame statistics
	numFramesTx  uint64
	numFramesRx  uint64
	numBadFrames uint64

	// Routing statistics
	numUnrouted uint64
	numDropped  uint64

	// Endpoint statistics
	numActiveEndpoints uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// FrameTx increments transmitted frames
func (s *Statistics) FrameTx() {
	atomic.AddUint64(&s.numFramesTx, 1)
}

// FrameRx increments received frames
func (s *Statistics) FrameRx() {
	atomic.AddUint64(&s.numFramesRx, 1)
}

// BadFrame increments frames that could not be read or decoded
func (s *Statistics) BadFrame() {
	atomic.AddUint64(&s.numBadFrames, 1)
}

// Unrouted increments frames with no endpoint listening on their ID
func (s *Statistics) Unrouted() {
	atomic.AddUint64(&s.numUnrouted, 1)
}

// Dropped increments frames lost to a full endpoint inbox
func (s *Statistics) Dropped() {
	atomic.AddUint64(&s.numDropped, 1)
}

// SetActiveEndpoints sets the number of active endpoints
func (s *Statistics) SetActiveEndpoints(count uint64) {
	atomic.StoreUint64(&s.numActiveEndpoints, count)
}

// GetFramesTx returns transmitted frames
func (s *Statistics) GetFramesTx() uint64 {
	return atomic.LoadUint64(&s.numFramesTx)
}

// GetFramesRx returns received frames
func (s *Statistics) GetFramesRx() uint64 {
	return atomic.LoadUint64(&s.numFramesRx)
}

// GetBadFrames returns bad frames
func (s *Statistics) GetBadFrames() uint64 {
	return atomic.LoadUint64(&s.numBadFrames)
}

// GetUnrouted returns unrouted frames
func (s *Statistics) GetUnrouted() uint64 {
	return atomic.LoadUint64(&s.numUnrouted)
}

// GetDropped returns dropped frames
func (s *Statistics) GetDropped() uint64 {
	return atomic.LoadUint64(&s.numDropped)
}

// GetActiveEndpoints returns number of active endpoints
func (s *Statistics) GetActiveEndpoints() uint64 {
	return atomic.LoadUint64(&s.numActiveEndpoints)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numFramesTx, 0)
	atomic.StoreUint64(&s.numFramesRx, 0)
	atomic.StoreUint64(&s.numBadFrames, 0)
	atomic.StoreUint64(&s.numUnrouted, 0)
	atomic.StoreUint64(&s.numDropped, 0)
}

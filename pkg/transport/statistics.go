package transport

import (
	"sync/atomic"
	"time"
)

// TransportStatistics tracks transport layer metrics
type TransportStatistics struct {
	// Frame counts
	TxFrames uint64
	RxFrames uint64

	// Message counts
	TxMessages uint64
	RxMessages uint64

	// Error counts
	SequenceErrors      uint64
	TimeoutErrors       uint64
	FlowControlTimeouts uint64
	LengthOverflows     uint64
	MalformedFrames     uint64

	// Timing (stored as Unix nano for atomic operations)
	lastTxTimeNano int64
	lastRxTimeNano int64
}

// NewTransportStatistics creates a new statistics tracker
func NewTransportStatistics() *TransportStatistics {
	return &TransportStatistics{}
}

// IncrementTxFrames increments transmitted frame count
func (s *TransportStatistics) IncrementTxFrames() {
	atomic.AddUint64(&s.TxFrames, 1)
}

// IncrementRxFrames increments received frame count
func (s *TransportStatistics) IncrementRxFrames() {
	atomic.AddUint64(&s.RxFrames, 1)
}

// IncrementTxMessages increments transmitted message count
func (s *TransportStatistics) IncrementTxMessages() {
	atomic.AddUint64(&s.TxMessages, 1)
	atomic.StoreInt64(&s.lastTxTimeNano, time.Now().UnixNano())
}

// IncrementRxMessages increments received message count
func (s *TransportStatistics) IncrementRxMessages() {
	atomic.AddUint64(&s.RxMessages, 1)
	atomic.StoreInt64(&s.lastRxTimeNano, time.Now().UnixNano())
}

// IncrementSequenceErrors increments sequence error count
func (s *TransportStatistics) IncrementSequenceErrors() {
	atomic.AddUint64(&s.SequenceErrors, 1)
}

// IncrementTimeoutErrors increments timeout error count
func (s *TransportStatistics) IncrementTimeoutErrors() {
	atomic.AddUint64(&s.TimeoutErrors, 1)
}

// IncrementFlowControlTimeouts increments flow control timeout count
func (s *TransportStatistics) IncrementFlowControlTimeouts() {
	atomic.AddUint64(&s.FlowControlTimeouts, 1)
}

// IncrementLengthOverflows increments rejected oversized transfer count
func (s *TransportStatistics) IncrementLengthOverflows() {
	atomic.AddUint64(&s.LengthOverflows, 1)
}

// IncrementMalformedFrames increments undecodable frame count
func (s *TransportStatistics) IncrementMalformedFrames() {
	atomic.AddUint64(&s.MalformedFrames, 1)
}

// GetTxFrames returns transmitted frame count
func (s *TransportStatistics) GetTxFrames() uint64 {
	return atomic.LoadUint64(&s.TxFrames)
}

// GetRxFrames returns received frame count
func (s *TransportStatistics) GetRxFrames() uint64 {
	return atomic.LoadUint64(&s.RxFrames)
}

// GetTxMessages returns transmitted message count
func (s *TransportStatistics) GetTxMessages() uint64 {
	return atomic.LoadUint64(&s.TxMessages)
}

// GetRxMessages returns received message count
func (s *TransportStatistics) GetRxMessages() uint64 {
	return atomic.LoadUint64(&s.RxMessages)
}

// GetSequenceErrors returns sequence error count
func (s *TransportStatistics) GetSequenceErrors() uint64 {
	return atomic.LoadUint64(&s.SequenceErrors)
}

// GetTimeoutErrors returns timeout error count
func (s *TransportStatistics) GetTimeoutErrors() uint64 {
	return atomic.LoadUint64(&s.TimeoutErrors)
}

// GetFlowControlTimeouts returns flow control timeout count
func (s *TransportStatistics) GetFlowControlTimeouts() uint64 {
	return atomic.LoadUint64(&s.FlowControlTimeouts)
}

// GetLengthOverflows returns rejected oversized transfer count
func (s *TransportStatistics) GetLengthOverflows() uint64 {
	return atomic.LoadUint64(&s.LengthOverflows)
}

// GetMalformedFrames returns undecodable frame count
func (s *TransportStatistics) GetMalformedFrames() uint64 {
	return atomic.LoadUint64(&s.MalformedFrames)
}

// GetLastTxTime returns the last transmission time
func (s *TransportStatistics) GetLastTxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastTxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// GetLastRxTime returns the last reception time
func (s *TransportStatistics) GetLastRxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastRxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset resets all statistics to zero
func (s *TransportStatistics) Reset() {
	atomic.StoreUint64(&s.TxFrames, 0)
	atomic.StoreUint64(&s.RxFrames, 0)
	atomic.StoreUint64(&s.TxMessages, 0)
	atomic.StoreUint64(&s.RxMessages, 0)
	atomic.StoreUint64(&s.SequenceErrors, 0)
	atomic.StoreUint64(&s.TimeoutErrors, 0)
	atomic.StoreUint64(&s.FlowControlTimeouts, 0)
	atomic.StoreUint64(&s.LengthOverflows, 0)
	atomic.StoreUint64(&s.MalformedFrames, 0)
	atomic.StoreInt64(&s.lastTxTimeNano, 0)
	atomic.StoreInt64(&s.lastRxTimeNano, 0)
}

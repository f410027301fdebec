package transport

import "fmt"

// FirstSequence is the sequence number carried by the first CONSECUTIVE frame
const FirstSequence uint8 = 1

// nextSequence advances a CONSECUTIVE sequence number, wrapping 15 to 0
func nextSequence(seq uint8) uint8 {
	return (seq + 1) & SequenceMask
}

// Fragment breaks a payload into transport frames. Payloads of up to seven
// bytes yield one SINGLE frame; larger payloads yield a FIRST frame followed
// by CONSECUTIVE frames numbered from 1.
func Fragment(payload []byte) ([]Frame, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("fragment %d bytes: %w", len(payload), ErrLengthOverflow)
	}

	if len(payload) <= SingleFrameMaxData {
		sf, err := NewSingleFrame(payload)
		if err != nil {
			return nil, err
		}
		return []Frame{sf}, nil
	}

	numConsecutive := (len(payload) - FirstFrameData + ConsecutiveData - 1) / ConsecutiveData
	frames := make([]Frame, 0, 1+numConsecutive)

	ff, err := NewFirstFrame(len(payload), payload[:FirstFrameData])
	if err != nil {
		return nil, err
	}
	frames = append(frames, ff)

	seq := FirstSequence
	for offset := FirstFrameData; offset < len(payload); {
		// Determine chunk size
		chunkSize := ConsecutiveData
		if remaining := len(payload) - offset; remaining < chunkSize {
			chunkSize = remaining
		}

		cf, err := NewConsecutiveFrame(seq, payload[offset:offset+chunkSize])
		if err != nil {
			return nil, err
		}
		frames = append(frames, cf)

		offset += chunkSize
		seq = nextSequence(seq)
	}

	return frames, nil
}

package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector serializes an embedding as little-endian float32 bytes.
// A nil vector encodes as nil (stored as SQL NULL for degraded chunks).
func encodeVector(vec []float32, dimensions int) ([]byte, error) {
	if vec == nil {
		return nil, nil
	}
	if dimensions > 0 && len(vec) != dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d", ErrIntegrity, len(vec), dimensions)
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// decodeVector deserializes an embedding blob. The blob length must be
// exactly 4 bytes per dimension or the stored data is considered corrupt.
func decodeVector(blob []byte, dimensions int) ([]float32, error) {
	if blob == nil {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob length %d is not a multiple of 4", ErrIntegrity, len(blob))
	}
	if dimensions > 0 && len(blob) != dimensions*4 {
		return nil, fmt.Errorf("%w: embedding blob holds %d values, expected %d", ErrIntegrity, len(blob)/4, dimensions)
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

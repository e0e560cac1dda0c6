package local

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Vectors are stored as a little-endian blob: an int32 length followed by the
// raw float32 values.

func encodeVector(vec []float32) ([]byte, error) {
	if vec == nil {
		return nil, fmt.Errorf("nil vector")
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vec))); err != nil {
		return nil, fmt.Errorf("encode vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("encode vector values: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(data))
	}
	buf := bytes.NewReader(data)
	var length int32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("decode vector length: %w", err)
	}
	if length < 0 || int(length)*4 != buf.Len() {
		return nil, fmt.Errorf("vector blob length mismatch")
	}
	vec := make([]float32, length)
	if err := binary.Read(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("decode vector values: %w", err)
	}
	return vec, nil
}

// Package vector holds the float32 vector math and the BLOB codec shared by
// the store and the retrieval pipeline.
package vector

import (
	"encoding/binary"
	"math"
)

// Cosine computes the cosine similarity between two float32 vectors.
// Returns a value between -1 and 1 where 1 means identical direction.
// Mismatched or zero-length vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dotProduct += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}

// Distance is the cosine distance, in [0, 2].
func Distance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Similarity maps a distance onto a bounded (0, 1] score.
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// Clone copies v. A nil input returns nil.
func Clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Encode converts a float32 slice to a byte slice (little-endian).
func Encode(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode converts a byte slice (little-endian) back to a float32 slice.
func Decode(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// FromFloat64 narrows a float64 vector as returned by JSON vendors.
func FromFloat64(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashingProvider derives a deterministic unit vector from the text hash.
// Identical normalized text always maps to the same vector (similarity 1.0),
// distinct text to effectively orthogonal vectors. It carries no semantic
// signal and exists for tests and keyless development setups.
type HashingProvider struct {
	dimension int
}

func NewHashingProvider(dimension int) *HashingProvider {
	return &HashingProvider{dimension: dimension}
}

func (p *HashingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if err := validateInput(text); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dimension)
	seed := sha256.Sum256([]byte(NormalizeText(text)))

	// Expand the digest into the full vector via counter-mode hashing
	var norm float64
	counter := uint64(0)
	for i := 0; i < p.dimension; i += 4 {
		block := make([]byte, len(seed)+8)
		copy(block, seed[:])
		binary.BigEndian.PutUint64(block[len(seed):], counter)
		digest := sha256.Sum256(block)
		counter++

		for j := 0; j < 4 && i+j < p.dimension; j++ {
			bits := binary.BigEndian.Uint32(digest[j*4 : j*4+4])
			// Map to [-1,1)
			v := float64(int32(bits)) / float64(math.MaxInt32)
			vec[i+j] = float32(v)
			norm += v * v
		}
	}

	// Normalize to unit length so cosine similarity behaves
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (p *HashingProvider) Dimension() int { return p.dimension }
func (p *HashingProvider) Name() string   { return "hashing" }

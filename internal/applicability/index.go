package applicability

import (
	"errors"
	"fmt"
	"math/big"

	"planpolicy/internal/model"
)

var (
	ErrIntegrity = errors.New("applicability integrity violation")
	ErrLookup    = errors.New("state not in applicability index")
)

// Fingerprint reads the state as a big-endian bit string. The result is
// arbitrary precision, so states of equal length never collide.
func Fingerprint(state model.State) *big.Int {
	h := new(big.Int)
	for _, bit := range state {
		h.Lsh(h, 1)
		if bit != 0 {
			h.SetBit(h, 0, 1)
		}
	}
	return h
}

func key(state model.State) string {
	return Fingerprint(state).Text(16)
}

// Index maps state fingerprints to their applicable-action masks. It is built
// once while decoding and only read afterwards.
type Index struct {
	numOps int
	masks  map[string]model.Mask
}

func NewIndex(numOps int) *Index {
	return &Index{
		numOps: numOps,
		masks:  make(map[string]model.Mask),
	}
}

// Observe records the mask for a state, or verifies it against the mask
// recorded for an earlier occurrence of the same fingerprint.
func (x *Index) Observe(state model.State, mask model.Mask) error {
	if len(mask) != x.numOps {
		return fmt.Errorf("mask length %d, want %d", len(mask), x.numOps)
	}
	k := key(state)
	if existing, ok := x.masks[k]; ok {
		if !existing.Equal(mask) {
			return fmt.Errorf("%w: fingerprint %s has mask %v and %v", ErrIntegrity, k, existing, mask)
		}
		return nil
	}
	x.masks[k] = append(model.Mask(nil), mask...)
	return nil
}

func (x *Index) MaskOf(state model.State) (model.Mask, error) {
	k := key(state)
	mask, ok := x.masks[k]
	if !ok {
		return nil, fmt.Errorf("%w: fingerprint %s", ErrLookup, k)
	}
	return append(model.Mask(nil), mask...), nil
}

func (x *Index) Len() int {
	return len(x.masks)
}

func (x *Index) NumOps() int {
	return x.numOps
}

// Package kernels holds the two benchmark kernel variants and renders their
// OKL source. Grid and block bounds are baked into the rendered text, so one
// compiled handle serves every launch of a run.
package kernels

import (
	"fmt"
)

// Variant identifies one of the two elementwise kernels.
type Variant int

const (
	Divide Variant = iota // A[i] = B[i] / C
	Multiply              // A[i] = B[i] * C
)

// EntryPoint is the compiled symbol name. Both variants share it; they are
// distinguished on the host side by their Variant tag.
const EntryPoint = "vectorAdd"

// Select maps a CLI kernel id onto a Variant. Any id outside {0, 1} is
// rejected with an explicit error rather than leaving no kernel selected.
func Select(id int) (Variant, error) {
	switch id {
	case 0:
		return Divide, nil
	case 1:
		return Multiply, nil
	}
	return 0, fmt.Errorf("unknown kernel id %d: valid ids are 0 (div) and 1 (mul)", id)
}

// Label returns the short name printed in the selection confirmation.
func (v Variant) Label() string {
	if v == Divide {
		return "div"
	}
	return "mul"
}

func (v Variant) operator() string {
	if v == Divide {
		return "/"
	}
	return "*"
}

// Apply is the host reference operation used by the validator.
func (v Variant) Apply(b, c float64) float64 {
	if v == Divide {
		return b / c
	}
	return b * c
}

// GridSize returns the number of blocks covering numElements, by ceiling
// division. blockSize must be positive.
func GridSize(numElements, blockSize int) int {
	return (numElements + blockSize - 1) / blockSize
}

const sourceTemplate = `
@kernel void %s(double *A, const double *B, const double C, const int n) {
	for (int b = 0; b < %d; ++b; @outer) {
		for (int t = 0; t < %d; ++t; @inner) {
			const int i = b * %d + t;
			if (i < n) {
				A[i] = B[i] %s C;
			}
		}
	}
}
`

// Source renders the kernel text for a fixed problem geometry. OKL requires
// the @outer/@inner bounds to be literals, so the block count and block size
// are baked in; n stays a kernel argument guarding the tail block.
func (v Variant) Source(numElements, blockSize int) string {
	blocks := GridSize(numElements, blockSize)
	return fmt.Sprintf(sourceTemplate, EntryPoint, blocks, blockSize, blockSize, v.operator())
}

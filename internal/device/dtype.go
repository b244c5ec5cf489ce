package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOutOfMemory   = errors.New("device out of memory")
	ErrInvalidShape  = errors.New("invalid tensor shape")
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	ErrDTypeMismatch = errors.New("tensor dtype mismatch")
	ErrReleased      = errors.New("tensor already released")
	ErrKernelFault   = errors.New("device kernel fault")
)

type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
)

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f32", "fp32":
		return Float32, nil
	case "float16", "f16", "fp16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size is the storage size of one element in bytes.
func (d DType) Size() int {
	if d == Float32 {
		return 4
	}
	return 2
}

// Transpose names the storage layout of the two operands. The first letter
// describes a, the second b: "n" is stored as used, "t" is stored transposed.
type Transpose int

const (
	NN Transpose = iota
	NT
	TN
)

func ParseTranspose(s string) (Transpose, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nn":
		return NN, nil
	case "nt":
		return NT, nil
	case "tn":
		return TN, nil
	}
	return 0, fmt.Errorf("unknown transpose mode %q", s)
}

func (t Transpose) String() string {
	switch t {
	case NN:
		return "nn"
	case NT:
		return "nt"
	case TN:
		return "tn"
	default:
		return fmt.Sprintf("transpose(%d)", int(t))
	}
}

// TransA reports whether a is stored as (K, M).
func (t Transpose) TransA() bool { return t == TN }

// TransB reports whether b is stored as (N, K).
func (t Transpose) TransB() bool { return t == NT }

// Operands returns the stored shapes of a and b for a batched (M x K) * (K x N) product.
func (t Transpose) Operands(batch, m, n, k int) (Shape, Shape) {
	a := Shape{batch, m, k}
	if t.TransA() {
		a = Shape{batch, k, m}
	}
	b := Shape{batch, k, n}
	if t.TransB() {
		b = Shape{batch, n, k}
	}
	return a, b
}

// Shape is (batch, rows, cols).
type Shape [3]int

func (s Shape) Batch() int { return s[0] }
func (s Shape) Rows() int  { return s[1] }
func (s Shape) Cols() int  { return s[2] }

func (s Shape) Elements() int {
	return s[0] * s[1] * s[2]
}

func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s[0], s[1], s[2])
}

// ResultShape checks that a and b can be multiplied under mode and returns
// the (B, M, N) shape of the product.
func ResultShape(a, b Shape, mode Transpose) (Shape, error) {
	m, k := a.Rows(), a.Cols()
	if mode.TransA() {
		m, k = k, m
	}
	kb, n := b.Rows(), b.Cols()
	if mode.TransB() {
		kb, n = n, kb
	}
	if a.Batch() != b.Batch() || k != kb {
		return Shape{}, fmt.Errorf("%w: %s x %s (%s)", ErrShapeMismatch, a, b, mode)
	}
	return Shape{a.Batch(), m, n}, nil
}

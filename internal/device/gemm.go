package device

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemmKernel multiplies one batch slice at a time. Half precision operands
// are widened into per-worker float32 scratch, multiplied with blas32 and
// rounded back on store.
type gemmKernel struct {
	a, b, out *cpuTensor
	tA, tB    blas.Transpose

	scratchA, scratchB, scratchC []float32
}

func newGemmKernel(a, b, out *cpuTensor, mode Transpose) *gemmKernel {
	k := &gemmKernel{a: a, b: b, out: out, tA: blas.NoTrans, tB: blas.NoTrans}
	if mode.TransA() {
		k.tA = blas.Trans
	}
	if mode.TransB() {
		k.tB = blas.Trans
	}
	if out.dtype != Float32 {
		k.scratchA = make([]float32, a.shape.Rows()*a.shape.Cols())
		k.scratchB = make([]float32, b.shape.Rows()*b.shape.Cols())
		k.scratchC = make([]float32, out.shape.Rows()*out.shape.Cols())
	}
	return k
}

func (k *gemmKernel) run(n int) {
	sizeA := k.a.shape.Rows() * k.a.shape.Cols()
	sizeB := k.b.shape.Rows() * k.b.shape.Cols()
	sizeC := k.out.shape.Rows() * k.out.shape.Cols()

	var dataA, dataB, dataC []float32
	if k.out.dtype == Float32 {
		dataA = k.a.f32[n*sizeA : (n+1)*sizeA]
		dataB = k.b.f32[n*sizeB : (n+1)*sizeB]
		dataC = k.out.f32[n*sizeC : (n+1)*sizeC]
	} else {
		decodeHalf(k.a.dtype, k.a.u16[n*sizeA:(n+1)*sizeA], k.scratchA)
		decodeHalf(k.b.dtype, k.b.u16[n*sizeB:(n+1)*sizeB], k.scratchB)
		dataA, dataB, dataC = k.scratchA, k.scratchB, k.scratchC
	}

	blas32.Gemm(k.tA, k.tB, 1,
		general(k.a.shape, dataA),
		general(k.b.shape, dataB),
		0,
		general(k.out.shape, dataC),
	)

	if k.out.dtype != Float32 {
		encodeHalf(k.out.dtype, dataC, k.out.u16[n*sizeC:(n+1)*sizeC])
	}
}

func general(s Shape, data []float32) blas32.General {
	return blas32.General{Rows: s.Rows(), Cols: s.Cols(), Stride: s.Cols(), Data: data}
}

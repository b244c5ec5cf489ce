package device

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

func Float32ToFloat16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

func Float16ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

func Float32ToBFloat16(f float32) uint16 {
	return uint16(bfloat16.FromFloat32(f))
}

func BFloat16ToFloat32(b uint16) float32 {
	return bfloat16.BFloat16(b).Float32()
}

func encodeHalf(dtype DType, src []float32, dst []uint16) {
	if dtype == BFloat16 {
		for i, v := range src {
			dst[i] = Float32ToBFloat16(v)
		}
		return
	}
	for i, v := range src {
		dst[i] = Float32ToFloat16(v)
	}
}

func decodeHalf(dtype DType, src []uint16, dst []float32) {
	if dtype == BFloat16 {
		for i, v := range src {
			dst[i] = BFloat16ToFloat32(v)
		}
		return
	}
	for i, v := range src {
		dst[i] = Float16ToFloat32(v)
	}
}

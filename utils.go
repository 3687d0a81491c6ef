package coso

import (
	"encoding/binary"
	"math"
)

type numeric interface {
	uint8 | int | int32 | float64
}

func clampMin[T numeric](v, min T) T {
	if v < min {
		return min
	}
	return v
}

func clampMax[T numeric](v, max T) T {
	if v > max {
		return max
	}
	return v
}

func clamp[T numeric](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// clampSample hard clips the mix to the 16-bit range.
func clampSample(v int32) int32 {
	return clamp(v, math.MinInt16, math.MaxInt16)
}

func putPCM16(b []byte, v int32) {
	binary.LittleEndian.PutUint16(b, uint16(int16(v)))
}

// pcm8 converts a 16-bit range value to an unsigned 8-bit sample point.
func pcm8(v int32) byte {
	return byte((v >> 8) + 128)
}

func ticksToSeconds(ticks, tickRate int) float64 {
	return float64(ticks) / float64(tickRate)
}

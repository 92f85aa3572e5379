// ABOUTME: Interleaved PCM sample access
// ABOUTME: Reads and writes little-endian samples of every supported bit depth
package audio

import "encoding/binary"

// ReadSample decodes the sample at byte offset off in its native integer range.
// 8-bit PCM is unsigned on the wire and is returned centred on zero.
func ReadSample(data []byte, off, bitDepth int) int32 {
	switch bitDepth {
	case 8:
		return int32(data[off]) - 128
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(data[off:])))
	case 24:
		return SampleFrom24Bit([3]byte{data[off], data[off+1], data[off+2]})
	default:
		return int32(binary.LittleEndian.Uint32(data[off:]))
	}
}

// WriteSample encodes v at byte offset off, clamping to the depth's range
func WriteSample(data []byte, off, bitDepth int, v int64) {
	switch bitDepth {
	case 8:
		data[off] = byte(clamp(v, -128, 127) + 128)
	case 16:
		binary.LittleEndian.PutUint16(data[off:], uint16(int16(clamp(v, -32768, 32767))))
	case 24:
		b := SampleTo24Bit(int32(clamp(v, Min24Bit, Max24Bit)))
		copy(data[off:off+3], b[:])
	default:
		binary.LittleEndian.PutUint32(data[off:], uint32(int32(clamp(v, -1<<31, 1<<31-1))))
	}
}

// Int16ToBytes packs 16-bit samples as little-endian PCM
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks little-endian 16-bit PCM
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// ConvertDepth requantizes interleaved PCM between bit depths by shifting.
// Data is returned unchanged when the depths match.
func ConvertDepth(data []byte, from, to int) []byte {
	if from == to {
		return data
	}
	inBps, outBps := from/8, to/8
	n := len(data) / inBps
	out := make([]byte, n*outBps)
	for i := 0; i < n; i++ {
		v := int64(ReadSample(data, i*inBps, from))
		if to > from {
			v <<= uint(to - from)
		} else {
			v >>= uint(from - to)
		}
		WriteSample(out, i*outBps, to, v)
	}
	return out
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

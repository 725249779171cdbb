package audio

import "encoding/binary"

// BytesToInt16 decodes little-endian signed 16-bit samples. A trailing odd
// byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian signed 16-bit.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// decodeInts unpacks little-endian samples of the given bit depth. Eight-bit
// samples are unsigned, as in WAV.
func decodeInts(b []byte, bitDepth int) []int {
	width := bitDepth / 8
	out := make([]int, len(b)/width)
	for i := range out {
		p := b[i*width:]
		switch bitDepth {
		case 8:
			out[i] = int(p[0]) - 128
		case 16:
			out[i] = int(int16(binary.LittleEndian.Uint16(p)))
		case 24:
			v := int32(p[0]) | int32(p[1])<<8 | int32(p[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			out[i] = int(v)
		case 32:
			out[i] = int(int32(binary.LittleEndian.Uint32(p)))
		}
	}
	return out
}

// to16 rescales a sample of the given bit depth to the int16 range.
func to16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 16:
		return int16(v)
	case bitDepth < 16:
		return int16(v << (16 - bitDepth))
	default:
		return int16(v >> (bitDepth - 16))
	}
}

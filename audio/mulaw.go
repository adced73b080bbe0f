package audio

// G.711 mu-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635

	// MulawSilence is the mu-law encoding of a zero sample.
	MulawSilence byte = 0xFF
)

var mulawDecodeTable [256]int16

func init() {
	for i := range mulawDecodeTable {
		mulawDecodeTable[i] = decodeMulawSample(byte(i))
	}
}

// MulawEncodeSample compresses one linear PCM sample to mu-law.
func MulawEncodeSample(sample int16) byte {
	s := int(sample)
	var sign int
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa) //nolint:gosec // bounded to 8 bits
}

// MulawDecodeSample expands one mu-law byte to linear PCM.
func MulawDecodeSample(b byte) int16 {
	return mulawDecodeTable[b]
}

func decodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	s := ((int(mantissa) << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s) // #nosec G115 -- |s| <= 32124
}

// EncodeMulaw compresses a block of linear PCM samples.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = MulawEncodeSample(s)
	}
	return out
}

// DecodeMulaw expands a block of mu-law bytes to linear PCM.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawDecodeTable[b]
	}
	return out
}

// MulawQuantizationBound returns the largest absolute error a sample of the
// given magnitude can carry after an encode/decode round trip.
func MulawQuantizationBound(sample int16) int {
	s := int(sample)
	if s < 0 {
		s = -s
	}
	// Half a quantization step; steps double with each exponent segment.
	// Clipped samples stay inside the top segment's bound.
	return (s+mulawBias)/32 + 1
}

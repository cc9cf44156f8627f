package pole

import (
	"errors"
	"fmt"
)

// SampleWidth is the length of an encoded sample.
const SampleWidth = 8

// ErrBadSample is returned by DecodeSample for malformed input.
var ErrBadSample = errors.New("malformed sample string")

// EncodeSample renders a reading as eight ASCII digits, most significant bit
// first: character i is '1' iff bit 7-i of b is set.
func EncodeSample(b uint8) string {
	var out [SampleWidth]byte
	for i := range out {
		if b&(1<<(7-i)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out[:])
}

// DecodeSample is the inverse of EncodeSample.
func DecodeSample(s string) (uint8, error) {
	if len(s) != SampleWidth {
		return 0, fmt.Errorf("%w: length %d", ErrBadSample, len(s))
	}
	var b uint8
	for i := 0; i < SampleWidth; i++ {
		switch s[i] {
		case '1':
			b |= 1 << (7 - i)
		case '0':
		default:
			return 0, fmt.Errorf("%w: %q at %d", ErrBadSample, s[i], i)
		}
	}
	return b, nil
}

/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import "encoding/binary"

// NumVolumeLevels is the number of discrete volume steps.
const NumVolumeLevels = 32

// unityFactor passes samples through untouched.
const unityFactor = 65536

// volumeFactors maps a volume index to a Q16 gain factor. The curve is
// logarithmic so each step sounds like a similar loudness change.
var volumeFactors = [NumVolumeLevels]int{
	0, 82, 102, 128, 160, 200, 250, 312,
	390, 487, 608, 760, 950, 1187, 1484, 1854,
	2317, 2895, 3618, 4521, 5649, 7059, 8821, 11023,
	13774, 17212, 21508, 26877, 33586, 41969, 52445, 65536,
}

// applyGain scales interleaved int16 samples in place by a Q16 factor.
// Unity skips the pass entirely and zero clears the buffer without
// multiplying.
func applyGain(buf []byte, factor int) {
	switch factor {
	case unityFactor:
		return
	case 0:
		for i := range buf {
			buf[i] = 0
		}
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(buf[i:])))
		scaled := (s * factor) >> 16
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(scaled)))
	}
}

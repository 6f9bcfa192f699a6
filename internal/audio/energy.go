package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of a little-endian 16-bit PCM
// chunk. Values below ~300 are background noise on most microphones.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}

// PreRoll keeps the most recent PCM chunks so the first syllables of an
// utterance captured before the energy gate opens are not lost.
type PreRoll struct {
	chunks [][]byte
	size   int
}

func NewPreRoll(chunks int) *PreRoll {
	if chunks < 1 {
		chunks = 1
	}
	return &PreRoll{size: chunks}
}

func (r *PreRoll) Push(chunk []byte) {
	copied := append([]byte(nil), chunk...)
	r.chunks = append(r.chunks, copied)
	if len(r.chunks) > r.size {
		r.chunks = r.chunks[len(r.chunks)-r.size:]
	}
}

// Drain returns the buffered audio in order and resets the buffer.
func (r *PreRoll) Drain() []byte {
	var out []byte
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	r.chunks = nil
	return out
}

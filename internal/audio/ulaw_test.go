package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULawRoundTripTolerance(t *testing.T) {
	pcm := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}
	decoded := DecodeULaw(EncodeULaw(pcm))
	require.Len(t, decoded, len(pcm))

	for i, want := range pcm {
		got := decoded[i]
		diff := int(want) - int(got)
		if diff < 0 {
			diff = -diff
		}
		// µ-law is logarithmic: absolute error grows with amplitude but
		// stays under ~3% of the sample value plus the quantization floor.
		limit := int(want)
		if limit < 0 {
			limit = -limit
		}
		limit = limit/16 + 40
		assert.LessOrEqual(t, diff, limit, "sample %d: %d -> %d", i, want, got)
	}
}

func TestULawSilence(t *testing.T) {
	decoded := DecodeULaw(EncodeULaw([]int16{0, 0, 0}))
	for _, s := range decoded {
		assert.InDelta(t, 0, s, 8)
	}
}

func TestALawDecodeProducesSignal(t *testing.T) {
	// 0x55-inverted zero byte decodes near silence, extremes decode loud.
	quiet := DecodeALaw([]byte{0x55, 0xD5})
	for _, s := range quiet {
		assert.InDelta(t, 0, s, 32)
	}
	loud := DecodeALaw([]byte{0x2A, 0xAA})
	for _, s := range loud {
		if s > -2000 && s < 2000 {
			t.Fatalf("expected loud sample, got %d", s)
		}
	}
}

func TestRingBufferWriteRead(t *testing.T) {
	r := newInt16Ring(8)
	r.Write([]int16{1, 2, 3, 4})

	dst := make([]int16, 3)
	n, ok := r.ReadPartial(dst)
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int16{1, 2, 3}, dst)

	n, ok = r.ReadPartial(dst)
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, int16(4), dst[0])
}

func TestRingBufferOverwriteKeepsNewest(t *testing.T) {
	r := newInt16Ring(4)
	r.Write([]int16{1, 2, 3, 4})
	r.Write([]int16{5, 6})

	dst := make([]int16, 4)
	n, ok := r.ReadPartial(dst)
	require.True(t, ok)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int16{3, 4, 5, 6}, dst)
}

func TestRingBufferClose(t *testing.T) {
	r := newInt16Ring(4)
	r.Write([]int16{1})
	r.Close()

	dst := make([]int16, 4)
	n, ok := r.ReadPartial(dst)
	assert.Equal(t, 0, n)
	assert.False(t, ok)
}

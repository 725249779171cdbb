package probe

import (
	"testing"

	"github.com/opd-ai/rtpsend/media"
	"github.com/stretchr/testify/assert"
)

func TestInspectFirstCallDecides(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		want   media.Kind
	}{
		{"ac3 sync word", []byte{0x0B, 0x77, 0x12, 0x34}, media.KindAc3},
		{"exact sync word", []byte{0x0B, 0x77}, media.KindAc3},
		{"pcm zeros", make([]byte, 64), media.KindPcm},
		{"swapped sync", []byte{0x77, 0x0B, 0x00}, media.KindPcm},
		{"short sample", []byte{0x0B}, media.KindPcm},
		{"empty sample", nil, media.KindPcm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			kind, ok := p.Inspect(tt.sample)
			assert.True(t, ok)
			assert.Equal(t, tt.want, kind)
			assert.True(t, p.Decided())
			assert.Equal(t, tt.want, p.Decision())
		})
	}
}

func TestInspectLatchIgnoresLaterSamples(t *testing.T) {
	p := New()

	kind, ok := p.Inspect([]byte{0x00, 0x00})
	assert.True(t, ok)
	assert.Equal(t, media.KindPcm, kind)

	kind, ok = p.Inspect([]byte{0x0B, 0x77, 0x00})
	assert.False(t, ok)
	assert.Equal(t, media.KindUnknown, kind)
	assert.Equal(t, media.KindPcm, p.Decision())
}

func TestRearmAllowsNewDecision(t *testing.T) {
	p := New()
	p.Inspect([]byte{0x01, 0x02})

	p.Rearm()
	assert.False(t, p.Decided())
	assert.Equal(t, media.KindPcm, p.Decision())

	kind, ok := p.Inspect([]byte{0x0B, 0x77})
	assert.True(t, ok)
	assert.Equal(t, media.KindAc3, kind)

	_, ok = p.Inspect([]byte{0x00, 0x00})
	assert.False(t, ok)
}

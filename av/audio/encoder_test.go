package audio

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opd-ai/rtpsend/media"
)

func TestAC3EncoderUnavailable(t *testing.T) {
	enc, err := NewAC3Encoder(AC3EncoderConfig{
		FFmpegPath: "/nonexistent/ffmpeg-for-tests",
		SampleRate: 48000,
		Channels:   2,
	})
	assert.Nil(t, enc)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}

func TestAC3EncoderRejectsFormat(t *testing.T) {
	_, err := NewAC3Encoder(AC3EncoderConfig{SampleRate: 48000, Channels: 7})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestAC3EncoderProcessBeforeStart(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	enc, err := NewAC3Encoder(AC3EncoderConfig{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	defer enc.Close()

	_, err = enc.Process(media.Buffer{Payload: make([]byte, 16)})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestAC3EncoderProducesSyncframes(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	defer goleak.VerifyNone(t)

	enc, err := NewAC3Encoder(AC3EncoderConfig{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	require.NoError(t, enc.Start())
	select {
	case err := <-enc.Preroll():
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("preroll did not complete")
	}

	sink, src := enc.Caps()
	assert.Equal(t, media.RawCaps(48000, 2), sink)
	assert.Equal(t, media.EncodingAC3, src.Encoding)

	second := make([]byte, 48000*4)
	collected := 0
	for i := 0; i < 2; i++ {
		out, err := enc.Process(media.Buffer{Payload: second})
		require.NoError(t, err)
		for _, b := range out {
			collected += len(b.Payload)
		}
	}

	require.NoError(t, enc.Stop())
	collected += enc.Pending()
	assert.Greater(t, collected, 0)

	require.NoError(t, enc.Close())
}

func TestAC3EncoderStopKillsHungProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not installed")
	}
	defer goleak.VerifyNone(t)

	// Stands in for an ffmpeg that never exits after end of input.
	path := filepath.Join(t.TempDir(), "hung-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	enc, err := NewAC3Encoder(AC3EncoderConfig{
		FFmpegPath:  path,
		SampleRate:  48000,
		Channels:    2,
		StopTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, enc.Start())

	start := time.Now()
	err = enc.Stop()
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.NoError(t, enc.Stop(), "second stop is a no-op")
	assert.NoError(t, enc.Close())
}

func TestMP3Encoder(t *testing.T) {
	_, err := NewMP3Encoder(MP3EncoderConfig{SampleRate: 8000, Channels: 2})
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = NewMP3Encoder(MP3EncoderConfig{SampleRate: 48000, Channels: 3})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	enc, err := NewMP3Encoder(MP3EncoderConfig{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	sink, src := enc.Caps()
	assert.Equal(t, media.EncodingRaw, sink.Encoding)
	assert.Equal(t, media.EncodingMPEG, src.Encoding)

	var encoded []byte
	chunk := make([]byte, 4800*4) // 100ms stereo
	for i := 0; i < 10; i++ {
		out, err := enc.Process(media.Buffer{Payload: chunk})
		require.NoError(t, err)
		for _, b := range out {
			encoded = append(encoded, b.Payload...)
		}
	}
	require.NotEmpty(t, encoded)

	_, need, ok := ParseMPAHeader(encoded)
	assert.Zero(t, need)
	assert.True(t, ok, "lame output must start on a frame header")

	require.NoError(t, enc.Close())
	_, err = enc.Process(media.Buffer{Payload: chunk})
	assert.ErrorIs(t, err, ErrStageClosed)
}

func TestOpusEncoderFraming(t *testing.T) {
	_, err := NewOpusEncoder(OpusEncoderConfig{SampleRate: 44100, Channels: 2})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	enc, err := NewOpusEncoder(OpusEncoderConfig{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	defer enc.Close()
	assert.Equal(t, 960, enc.FrameSize())

	// 30ms in, one 20ms packet out, 10ms held.
	out, err := enc.Process(media.Buffer{Payload: make([]byte, 1440*4), Timestamp: time.Second})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, time.Second, out[0].Timestamp)
	assert.Equal(t, OpusFrameDuration, out[0].Duration)
	assert.NotEmpty(t, out[0].Payload)

	out, err = enc.Process(media.Buffer{Payload: make([]byte, 480*4)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, time.Second+OpusFrameDuration, out[0].Timestamp)
	assert.Equal(t, uint64(2), enc.Packets())
}

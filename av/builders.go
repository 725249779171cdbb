package av

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rtpsend/av/audio"
	"github.com/opd-ai/rtpsend/av/rtp"
	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/media"
)

func defaultBuilders() map[StageKind]Builder {
	return map[StageKind]Builder{
		StageAudioConvert:  buildConvert,
		StageAudioResample: buildResample,
		StageAC3Encode:     buildAC3Encode,
		StageMP3Encode:     buildMP3Encode,
		StageOpusEncode:    buildOpusEncode,
		StageAC3Parse:      buildAC3Parse,
		StageMPAParse:      buildMPAParse,
		StageL16Pay:        buildL16Pay,
		StageAC3Pay:        buildAC3Pay,
		StageMPAPay:        buildMPAPay,
		StageOpusPay:       buildOpusPay,
		StageUDPSink:       buildUDPSink,
	}
}

// TargetChannels returns the channel count a recipe converts to.
func TargetChannels(kind media.Kind, channels uint16) uint16 {
	if kind == media.KindPcm || channels <= 2 {
		return channels
	}
	return 2
}

// TargetRate returns the sample rate a recipe resamples to.
func TargetRate(kind media.Kind, rate uint32) uint32 {
	switch kind {
	case media.KindAc3:
		switch rate {
		case 32000, 44100, 48000:
			return rate
		}
		return 48000
	case media.KindOpus:
		return rtp.OpusClockRate
	default:
		return rate
	}
}

// stageErr classifies errors from stage constructors.
func stageErr(err error) error {
	switch {
	case errors.Is(err, audio.ErrEncoderUnavailable):
		return fmt.Errorf("%w: %w", ErrStageUnavailable, err)
	case errors.Is(err, audio.ErrInvalidFormat):
		return fmt.Errorf("%w: %w", ErrCapsMismatch, err)
	default:
		return err
	}
}

func requireEncoding(ctx BuildContext, enc media.Encoding) error {
	up := ctx.Upstream.Encoding
	if up == enc || up == media.EncodingAny {
		return nil
	}
	return fmt.Errorf("%w: upstream %s, want %s", ErrCapsMismatch, up, enc)
}

func upstreamFormat(ctx BuildContext) (uint32, uint16) {
	rate, ch := ctx.Upstream.SampleRate, ctx.Upstream.Channels
	if rate == 0 {
		rate = ctx.Format.SampleRate
	}
	if ch == 0 {
		ch = ctx.Format.Channels
	}
	return rate, ch
}

func buildConvert(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRaw); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	c, err := audio.NewConverter(audio.ConverterConfig{
		SampleRate:     rate,
		InputChannels:  int(ch),
		OutputChannels: int(TargetChannels(ctx.Format.Kind, ch)),
		InputBitDepth:  int(ctx.Format.BitDepth),
		Gain:           ctx.Config.Gain,
	})
	if err != nil {
		return nil, stageErr(err)
	}
	return c, nil
}

func buildResample(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRaw); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	s, err := audio.NewResampleStage(rate, TargetRate(ctx.Format.Kind, rate), int(ch))
	if err != nil {
		return nil, stageErr(err)
	}
	return s, nil
}

func buildAC3Encode(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRaw); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	b, source := ctx.Bus, ctx.Name
	e, err := audio.NewAC3Encoder(audio.AC3EncoderConfig{
		FFmpegPath:  ctx.Config.FFmpegPath,
		SampleRate:  int(rate),
		Channels:    int(ch),
		Bitrate:     ctx.Config.AC3Bitrate,
		StopTimeout: ctx.Config.StateChangeTimeout,
		OnWarning: func(line string) {
			if b != nil {
				b.Post(bus.NewWarning(source, errors.New("ffmpeg: "+line), line))
			}
		},
	})
	if err != nil {
		return nil, stageErr(err)
	}
	return e, nil
}

func buildMP3Encode(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRaw); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	e, err := audio.NewMP3Encoder(audio.MP3EncoderConfig{
		SampleRate: int(rate),
		Channels:   int(ch),
		Bitrate:    ctx.Config.MP3Bitrate,
		Quality:    ctx.Config.MP3Quality,
	})
	if err != nil {
		return nil, stageErr(err)
	}
	return e, nil
}

func buildOpusEncode(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRaw); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	e, err := audio.NewOpusEncoder(audio.OpusEncoderConfig{
		SampleRate: int(rate),
		Channels:   int(ch),
		Bitrate:    ctx.Config.OpusBitrate,
	})
	if err != nil {
		return nil, stageErr(err)
	}
	return e, nil
}

func buildAC3Parse(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingAC3); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	return audio.NewAC3Parser(rate, ch), nil
}

func buildMPAParse(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingMPEG); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	return audio.NewMPAParser(rate, ch), nil
}

func buildL16Pay(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRaw); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	return rtp.NewL16Payloader(rate, ch, ctx.Config.MTU)
}

func buildAC3Pay(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingAC3); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	return rtp.NewAC3Payloader(rate, ch, ctx.Config.MTU)
}

func buildMPAPay(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingMPEG); err != nil {
		return nil, err
	}
	rate, ch := upstreamFormat(ctx)
	return rtp.NewMPAPayloader(rate, ch, ctx.Config.MTU)
}

func buildOpusPay(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingOpus); err != nil {
		return nil, err
	}
	_, ch := upstreamFormat(ctx)
	return rtp.NewOpusPayloader(ch, ctx.Config.MTU)
}

func buildUDPSink(ctx BuildContext) (Stage, error) {
	if err := requireEncoding(ctx, media.EncodingRTP); err != nil {
		return nil, err
	}
	if ctx.Sender == nil {
		return nil, fmt.Errorf("%w: no datagram sender", ErrStageUnavailable)
	}
	b, source := ctx.Bus, ctx.Name
	return rtp.NewUDPSink(ctx.Sender, func(err error) {
		if b != nil {
			b.Post(bus.NewWarning(source, err, "datagram send failed"))
		}
	}), nil
}

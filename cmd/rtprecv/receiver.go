package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/av/audio"
	"github.com/opd-ai/rtpsend/av/rtp"
	"github.com/opd-ai/rtpsend/media"
)

// receiverConfig says how to interpret the dynamic payload type and where
// to write what arrives.
type receiverConfig struct {
	format   media.Kind
	rate     uint32
	channels uint16
	wavPath  string
	dumpPath string
}

// wavSink writes S16 samples to a WAV file.
type wavSink struct {
	file    *os.File
	enc     *wav.Encoder
	format  *goaudio.Format
	samples uint64
}

func newWAVSink(path string, rate uint32, channels uint16) (*wavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &wavSink{
		file:   f,
		enc:    wav.NewEncoder(f, int(rate), 16, int(channels), 1),
		format: &goaudio.Format{NumChannels: int(channels), SampleRate: int(rate)},
	}, nil
}

func (s *wavSink) write(samples []int16) error {
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{Format: s.format, Data: data, SourceBitDepth: 16}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	s.samples += uint64(len(samples))
	return nil
}

func (s *wavSink) close() error {
	err := s.enc.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// receiver depayloads RTP datagrams into a WAV file or an elementary
// stream dump.
type receiver struct {
	mu     sync.Mutex
	config receiverConfig
	depay  *rtp.Depacketizer
	ac3    rtp.AC3Reassembler
	mpa    rtp.MPAReassembler
	opus   *audio.OpusDecoder

	wav  *wavSink
	dump *os.File

	dumped      uint64
	undecodable uint64
	invalid     uint64
	ignored     uint64
}

func newReceiver(config receiverConfig) *receiver {
	return &receiver{
		config: config,
		depay:  rtp.NewDepacketizer(),
		opus:   audio.NewOpusDecoder(),
	}
}

// handle processes one datagram. It matches the listener's handler signature.
func (r *receiver) handle(data []byte, addr net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	packet, err := r.depay.Process(data)
	if err != nil {
		r.invalid++
		return err
	}

	switch packet.PayloadType {
	case rtp.PayloadTypeMPA:
		frame, err := r.mpa.Push(packet.Payload)
		if err != nil {
			r.invalid++
			return err
		}
		return r.writeDump(frame)

	case rtp.PayloadTypeDynamic:
		switch r.config.format {
		case media.KindAc3:
			frame, err := r.ac3.Push(packet.Payload, packet.Marker)
			if err != nil {
				r.invalid++
				return err
			}
			return r.writeDump(frame)
		case media.KindOpus:
			return r.decodeOpus(packet.Payload)
		default:
			pcm := rtp.L16ToLittleEndian(packet.Payload)
			return r.writeWAV(audio.BytesToInt16(pcm), r.config.rate, r.config.channels)
		}

	default:
		r.ignored++
		logrus.WithFields(logrus.Fields{
			"function":     "receiver.handle",
			"payload_type": packet.PayloadType,
			"from":         addrString(addr),
		}).Debug("Ignoring unknown payload type")
		return nil
	}
}

// decodeOpus writes decoded audio to the WAV file. Packets the decoder
// cannot handle go to the dump with a two byte length prefix.
func (r *receiver) decodeOpus(payload []byte) error {
	samples, rate, stereo, err := r.opus.Decode(payload)
	if err != nil {
		r.undecodable++
		prefixed := make([]byte, 2, 2+len(payload))
		binary.BigEndian.PutUint16(prefixed, uint16(len(payload)))
		return r.writeDump(append(prefixed, payload...))
	}
	channels := uint16(1)
	if stereo {
		channels = 2
	}
	return r.writeWAV(samples, rate, channels)
}

func (r *receiver) writeWAV(samples []int16, rate uint32, channels uint16) error {
	if len(samples) == 0 {
		return nil
	}
	if r.wav == nil {
		sink, err := newWAVSink(r.config.wavPath, rate, channels)
		if err != nil {
			return err
		}
		r.wav = sink
		logrus.WithFields(logrus.Fields{
			"function": "receiver.writeWAV",
			"path":     r.config.wavPath,
			"rate":     rate,
			"channels": channels,
		}).Info("Writing received audio")
	}
	return r.wav.write(samples)
}

func (r *receiver) writeDump(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if r.dump == nil {
		f, err := os.Create(r.config.dumpPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", r.config.dumpPath, err)
		}
		r.dump = f
		logrus.WithFields(logrus.Fields{
			"function": "receiver.writeDump",
			"path":     r.config.dumpPath,
		}).Info("Dumping received stream")
	}
	n, err := r.dump.Write(data)
	r.dumped += uint64(n)
	if err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}

// close flushes a pending MPEG frame and closes the output files.
func (r *receiver) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.writeDump(r.mpa.Flush()); err != nil {
		firstErr = err
	}
	if r.wav != nil {
		if err := r.wav.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.dump != nil {
		if err := r.dump.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// printSummary writes per payload type counts and output totals.
func (r *receiver) printSummary(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.depay.Stats()
	fmt.Fprintf(w, "Packets:        %d (%d payload bytes)\n", stats.Packets, stats.Octets)

	types := make([]int, 0, len(stats.ByPayload))
	for pt := range stats.ByPayload {
		types = append(types, int(pt))
	}
	sort.Ints(types)
	for _, pt := range types {
		fmt.Fprintf(w, "  PT %-3d        %d\n", pt, stats.ByPayload[uint8(pt)])
	}

	fmt.Fprintf(w, "Sequence gaps:  %d\n", stats.SequenceGaps)
	fmt.Fprintf(w, "SSRC changes:   %d\n", stats.SSRCChanges)
	fmt.Fprintf(w, "Invalid:        %d\n", r.invalid)
	fmt.Fprintf(w, "Ignored:        %d\n", r.ignored)
	if r.wav != nil {
		fmt.Fprintf(w, "WAV samples:    %d -> %s\n", r.wav.samples, r.config.wavPath)
	}
	if r.dumped > 0 {
		fmt.Fprintf(w, "Dumped bytes:   %d -> %s\n", r.dumped, r.config.dumpPath)
	}
	if r.undecodable > 0 {
		fmt.Fprintf(w, "Undecodable:    %d opus packets\n", r.undecodable)
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

package audio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

const (
	// DefaultAC3Bitrate is the AC3 bitrate used when none is configured.
	DefaultAC3Bitrate = 192000

	// DefaultStopTimeout bounds the drain in Stop when none is configured.
	DefaultStopTimeout = 5 * time.Second
)

// AC3EncoderConfig configures the ffmpeg-backed AC3 encoder.
type AC3EncoderConfig struct {
	FFmpegPath string // binary name or path, "ffmpeg" when empty
	SampleRate int
	Channels   int
	Bitrate    int // bits per second

	// StopTimeout bounds how long Stop waits for ffmpeg to exit before
	// killing it.
	StopTimeout time.Duration

	// OnWarning receives ffmpeg stderr lines. It is called from a reader
	// goroutine.
	OnWarning func(line string)
}

// AC3Encoder encodes S16LE into an AC3 elementary stream by piping through
// an ffmpeg child process. Encoded bytes are collected by a reader
// goroutine and handed out on the next Process call.
type AC3Encoder struct {
	name   string
	config AC3EncoderConfig
	path   string

	mu      sync.Mutex
	output  bytes.Buffer
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	wg      sync.WaitGroup
	running bool
	closed  bool

	preroll chan error
	written uint64
}

// NewAC3Encoder resolves the ffmpeg binary. The process is started by Start.
//
// Returns ErrEncoderUnavailable when the binary cannot be found.
func NewAC3Encoder(config AC3EncoderConfig) (*AC3Encoder, error) {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.Bitrate <= 0 {
		config.Bitrate = DefaultAC3Bitrate
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if config.SampleRate <= 0 || config.Channels < 1 || config.Channels > 6 {
		return nil, fmt.Errorf("%w: rate=%d channels=%d", ErrInvalidFormat, config.SampleRate, config.Channels)
	}

	path, err := exec.LookPath(config.FFmpegPath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewAC3Encoder",
			"ffmpeg":   config.FFmpegPath,
			"error":    err.Error(),
		}).Warn("ffmpeg not found, AC3 encoding unavailable")
		return nil, fmt.Errorf("%w: ac3 (ffmpeg): %v", ErrEncoderUnavailable, err)
	}

	return &AC3Encoder{
		name:    "ac3enc-" + xid.New().String(),
		config:  config,
		path:    path,
		preroll: make(chan error, 1),
	}, nil
}

func (e *AC3Encoder) args() []string {
	return []string{
		"-hide_banner", "-nostats", "-loglevel", "warning",
		"-f", "s16le",
		"-ar", strconv.Itoa(e.config.SampleRate),
		"-ac", strconv.Itoa(e.config.Channels),
		"-i", "pipe:0",
		"-c:a", "ac3",
		"-b:a", strconv.Itoa(e.config.Bitrate),
		"-f", "ac3",
		"pipe:1",
	}
}

// Name returns the stage instance name.
func (e *AC3Encoder) Name() string { return e.name }

// Caps reports raw input and AC3 output.
func (e *AC3Encoder) Caps() (sink, src media.Caps) {
	rate, ch := uint32(e.config.SampleRate), uint16(e.config.Channels)
	return media.RawCaps(rate, ch), media.Caps{Encoding: media.EncodingAC3, SampleRate: rate, Channels: ch}
}

// Start launches ffmpeg. The preroll channel reports the outcome.
func (e *AC3Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStageClosed
	}
	if e.running {
		return nil
	}

	cmd := exec.Command(e.path, e.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AC3Encoder.Start",
			"name":     e.name,
			"error":    err.Error(),
		}).Error("Failed to start ffmpeg")
		e.preroll <- err
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.running = true

	e.wg.Add(2)
	go e.readOutput(stdout)
	go e.readWarnings(stderr)

	logrus.WithFields(logrus.Fields{
		"function": "AC3Encoder.Start",
		"name":     e.name,
		"pid":      cmd.Process.Pid,
		"rate":     e.config.SampleRate,
		"channels": e.config.Channels,
		"bitrate":  e.config.Bitrate,
	}).Info("ffmpeg AC3 encoder started")

	e.preroll <- nil
	return nil
}

// Preroll returns a channel that yields once the process has started.
func (e *AC3Encoder) Preroll() <-chan error {
	return e.preroll
}

func (e *AC3Encoder) readOutput(r io.Reader) {
	defer e.wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			e.mu.Lock()
			e.output.Write(chunk[:n])
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (e *AC3Encoder) readWarnings(r io.Reader) {
	defer e.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "AC3Encoder.readWarnings",
			"name":     e.name,
			"line":     line,
		}).Warn("ffmpeg")
		if e.config.OnWarning != nil {
			e.config.OnWarning(line)
		}
	}
}

// Process writes PCM to ffmpeg and returns whatever encoded bytes have
// arrived so far. Output buffers carry the input timestamp; the parser
// downstream assigns frame timing.
func (e *AC3Encoder) Process(buf media.Buffer) ([]media.Buffer, error) {
	e.mu.Lock()
	stdin, running := e.stdin, e.running
	e.mu.Unlock()

	if !running {
		return nil, ErrNotStarted
	}

	if len(buf.Payload) > 0 {
		if _, err := stdin.Write(buf.Payload); err != nil {
			return nil, fmt.Errorf("write to ffmpeg: %w", err)
		}
		e.written += uint64(len(buf.Payload))
	}

	out := e.take()
	if len(out) == 0 {
		return nil, nil
	}
	return []media.Buffer{{Payload: out, Timestamp: buf.Timestamp}}, nil
}

func (e *AC3Encoder) take() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.output.Len() == 0 {
		return nil
	}
	out := make([]byte, e.output.Len())
	copy(out, e.output.Bytes())
	e.output.Reset()
	return out
}

// Pending returns the number of encoded bytes not yet handed out.
func (e *AC3Encoder) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output.Len()
}

// Stop closes ffmpeg's input and waits for it to drain and exit. Encoded
// bytes that arrive during the drain stay pending. A process still running
// after StopTimeout is killed and ErrStopTimeout is returned.
func (e *AC3Encoder) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	stdin, cmd := e.stdin, e.cmd
	e.mu.Unlock()

	stdin.Close()

	done := make(chan error, 1)
	go func() {
		e.wg.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(e.config.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
		if err != nil {
			err = fmt.Errorf("ffmpeg exit: %w", err)
		}
	case <-timer.C:
		logrus.WithFields(logrus.Fields{
			"function": "AC3Encoder.Stop",
			"name":     e.name,
			"timeout":  e.config.StopTimeout,
		}).Warn("ffmpeg did not exit after end of input, killing")
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		err = fmt.Errorf("%w: ffmpeg after %v", ErrStopTimeout, e.config.StopTimeout)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "AC3Encoder.Stop",
		"name":          e.name,
		"bytes_written": e.written,
	}).Debug("ffmpeg AC3 encoder stopped")

	return err
}

// Close kills ffmpeg if it is still running and releases the pipes.
func (e *AC3Encoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	running, stdin, cmd := e.running, e.stdin, e.cmd
	e.running = false
	e.mu.Unlock()

	if !running {
		return nil
	}

	stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	e.wg.Wait()
	_ = cmd.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "AC3Encoder.Close",
		"name":     e.name,
	}).Debug("ffmpeg AC3 encoder killed")
	return nil
}

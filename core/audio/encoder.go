// Package audio wraps the external ffmpeg/ffprobe tools used for live
// transcoding and duration probing.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"radiotiker/logger"
	"radiotiker/metrics"
)

// ChunkSize is the read size used when streaming encoder output.
const ChunkSize = 64 << 10

// ContentType is the MIME type of the encoder output.
const ContentType = "audio/mpeg"

const stderrLimit = 8 << 10

// EncoderConfig fixes the CBR output format.
type EncoderConfig struct {
	FFmpegPath string
	Bitrate    string // e.g., "192k"
	SampleRate int
	Channels   int
}

// Args builds the ffmpeg command line for inputURL.
func (c EncoderConfig) Args(inputURL string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_delay_max", "5",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", inputURL,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", c.Bitrate,
		"-minrate", c.Bitrate,
		"-maxrate", c.Bitrate,
		"-ar", strconv.Itoa(c.SampleRate),
		"-ac", strconv.Itoa(c.Channels),
		"-f", "mp3",
		"pipe:1",
	}
}

// LiveEncoder starts ffmpeg sessions.
type LiveEncoder struct {
	cfg EncoderConfig
}

func NewLiveEncoder(cfg EncoderConfig) *LiveEncoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "192k"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	return &LiveEncoder{cfg: cfg}
}

// Session is one running encoder. Read yields encoded audio; Close must be
// called on every path and terminates the process if it is still running.
type Session struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *boundedBuffer
	started time.Time

	closeOnce sync.Once
	closeErr  error
}

// Start spawns ffmpeg reading inputURL. The process is also killed when ctx
// is cancelled.
func (e *LiveEncoder) Start(ctx context.Context, inputURL string) (*Session, error) {
	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, e.cfg.Args(inputURL)...)
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &boundedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	metrics.TranscodeSessions.Inc()
	logger.Debug("encoder started",
		logger.Int("pid", cmd.Process.Pid),
		logger.String("input", inputURL))

	return &Session{cmd: cmd, stdout: stdout, stderr: stderr, started: time.Now()}, nil
}

func (s *Session) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close kills the encoder if needed and reaps it. A process that had to be
// killed is not reported as an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		killed := false
		if err := s.cmd.Process.Kill(); err == nil {
			killed = true
		} else if !errors.Is(err, os.ErrProcessDone) {
			logger.Warn("failed to kill encoder", logger.ErrorField(err))
		}

		err := s.cmd.Wait()
		metrics.TranscodeSessions.Dec()

		var exitErr *exec.ExitError
		expected := (killed && errors.As(err, &exitErr)) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		if err != nil && !expected {
			s.closeErr = fmt.Errorf("ffmpeg: %w (%s)", err, s.stderr.String())
		}
		logger.Debug("encoder stopped",
			logger.Int("pid", s.cmd.Process.Pid),
			logger.Duration("elapsed", time.Since(s.started)),
			logger.String("stderr", s.stderr.String()))
	})
	return s.closeErr
}

// Stderr returns what the encoder has written to stderr so far, truncated.
func (s *Session) Stderr() string {
	return s.stderr.String()
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

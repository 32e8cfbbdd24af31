package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/metrics"
)

// Config contains capture session configuration
type Config struct {
	ChunkSize    int           // bytes read from the device per chunk
	DrainTimeout time.Duration // how long Stop waits for a halted device to flush
}

// DefaultConfig returns the default capture configuration
func DefaultConfig() Config {
	return Config{
		ChunkSize:    4096,
		DrainTimeout: 2 * time.Second,
	}
}

// Session owns at most one device stream at a time.
type Session struct {
	device  Device
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Active recording state
	stream    Stream
	buffer    *Buffer
	mimeType  string
	epoch     uint64
	recording bool
	stopping  bool
	pumpDone  chan struct{}
	stopDone  chan struct{}

	// Result of the most recent recording
	last    *audio.RawCapture
	lastErr error

	onError func(error)

	// startMu serializes Start so device acquisition runs without mu held.
	startMu sync.Mutex
	mu      sync.Mutex
}

// NewSession creates a capture session for device. m may be nil.
func NewSession(device Device, config Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		device:  device,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// OnError registers the handler invoked when the device fails mid-recording.
// The stream has already been released when the handler runs; it is called
// from its own goroutine and may call back into the session.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Start acquires the device stream and begins buffering chunks. It is a
// no-op while already recording. A recording that is being stopped is
// finalized first, then a new one starts. Acquisition failures wrap
// ErrPermissionDenied or ErrDeviceUnavailable where they can be classified.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	for s.stopping {
		done := s.stopDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	recording := s.recording
	s.mu.Unlock()

	if recording {
		return nil
	}

	stream, err := s.device.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if stream != nil {
			stream.Close()
		}
		err = classifyDeviceError(err, err.Error())
		s.metrics.RecordCaptureFailure(FailureKind(err))
		s.logger.Warn("Failed to acquire audio input", slog.String("error", err.Error()))
		return fmt.Errorf("failed to acquire audio input: %w", err)
	}

	s.epoch++
	s.stream = stream
	s.buffer = NewBuffer()
	s.mimeType = stream.MimeType()
	s.recording = true
	s.stopping = false
	s.last = nil
	s.lastErr = nil
	s.pumpDone = make(chan struct{})

	go s.pump(s.epoch, stream, s.pumpDone)

	s.metrics.RecordCaptureStarted()
	s.logger.Info("Recording started",
		slog.String("mime_type", s.mimeType),
		slog.Uint64("epoch", s.epoch),
	)
	return nil
}

// AppendChunk adds an encoded chunk to the active recording. Chunks arriving
// while not recording are dropped.
func (s *Session) AppendChunk(chunk []byte) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	s.appendChunk(epoch, chunk)
}

func (s *Session) appendChunk(epoch uint64, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || !s.recording || len(chunk) == 0 {
		return
	}
	s.buffer.Append(chunk)
	s.metrics.RecordChunk()
}

// Stop halts the device, waits for buffered output up to the drain timeout,
// releases the stream and returns the concatenated capture. While not
// recording it returns the result of the previous Stop, so repeated calls
// observe the same capture. A recording lost to a device error yields that
// error and no capture.
func (s *Session) Stop() (*audio.RawCapture, error) {
	s.mu.Lock()
	if !s.recording {
		last, lastErr := s.last, s.lastErr
		s.mu.Unlock()
		return last, lastErr
	}
	if s.stopping {
		done := s.stopDone
		s.mu.Unlock()
		<-done
		return s.Last(), nil
	}

	s.stopping = true
	s.stopDone = make(chan struct{})
	stream := s.stream
	pumpDone := s.pumpDone
	s.mu.Unlock()

	if err := stream.Halt(); err != nil {
		s.logger.Debug("Device halt failed", slog.String("error", err.Error()))
	}

	select {
	case <-pumpDone:
	case <-time.After(s.config.DrainTimeout):
		s.logger.Warn("Device did not flush in time, releasing it",
			slog.Duration("drain_timeout", s.config.DrainTimeout),
		)
		stream.Close()
		<-pumpDone
	}

	if err := stream.Close(); err != nil {
		s.logger.Debug("Device close reported an error", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	raw := &audio.RawCapture{Data: s.buffer.Concat(), MimeType: s.mimeType}
	stats := s.buffer.GetStats()
	s.last = raw
	s.recording = false
	s.stopping = false
	s.stream = nil
	s.buffer = nil
	close(s.stopDone)
	s.mu.Unlock()

	s.metrics.RecordCaptureFinalized(len(raw.Data))
	s.logger.Info("Recording finalized",
		slog.Int("chunks", stats.Chunks),
		slog.Int("bytes", stats.TotalBytes),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return raw, nil
}

// Done returns a channel closed when the active stream stops producing,
// either at end of input or on a device error. It is closed immediately when
// not recording.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.pumpDone
}

// IsRecording reports whether a device stream is held.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Last returns the capture produced by the most recent Stop, if any.
func (s *Session) Last() *audio.RawCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// pump reads the device until EOF, error or halt.
func (s *Session) pump(epoch uint64, stream Stream, done chan struct{}) {
	defer close(done)

	buf := make([]byte, s.config.ChunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			s.appendChunk(epoch, buf[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || s.isStopping(epoch) {
			return
		}
		s.fail(epoch, err)
		return
	}
}

func (s *Session) isStopping(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch != s.epoch || !s.recording || s.stopping
}

// fail releases the stream after a mid-recording device error and reports it.
// The session stops recording before Done is closed; the handler runs on its
// own goroutine.
func (s *Session) fail(epoch uint64, err error) {
	err = classifyDeviceError(err, err.Error())

	s.mu.Lock()
	if epoch != s.epoch || !s.recording || s.stopping {
		s.mu.Unlock()
		return
	}
	stream := s.stream
	handler := s.onError
	s.recording = false
	s.stream = nil
	s.buffer = nil
	s.last = nil
	s.lastErr = err
	s.mu.Unlock()

	stream.Close()

	s.metrics.RecordCaptureFailure(FailureKind(err))
	s.logger.Error("Recording failed", slog.String("error", err.Error()))

	if handler != nil {
		go handler(err)
	}
}

// FailureKind names the capture error class for logs and metrics.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	default:
		return "device_error"
	}
}

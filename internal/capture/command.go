package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

const stderrLimit = 4096

// DefaultCommand records mono 16 kHz WAV to stdout with ALSA's arecord.
func DefaultCommand() []string {
	return []string{"arecord", "-q", "-t", "wav", "-f", "S16_LE", "-c", "1", "-r", "16000"}
}

// CommandDevice captures audio from an external recorder that writes an
// encoded stream to stdout.
type CommandDevice struct {
	Argv     []string
	MimeType string
}

// NewCommandDevice returns a device running argv. Empty argv selects
// DefaultCommand and an empty mimeType selects audio/wav.
func NewCommandDevice(argv []string, mimeType string) *CommandDevice {
	if len(argv) == 0 {
		argv = DefaultCommand()
	}
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return &CommandDevice{Argv: argv, MimeType: mimeType}
}

// Open starts the recorder process.
func (d *CommandDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.Argv) == 0 {
		return nil, fmt.Errorf("%w: no recorder command configured", ErrDeviceUnavailable)
	}

	path, err := exec.LookPath(d.Argv[0])
	if err != nil {
		return nil, classifyDeviceError(err, err.Error())
	}

	// Not bound to ctx: the recording outlives the call that opened it and
	// is ended with Halt so the recorder can finish its output.
	cmd := exec.Command(path, d.Argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach to recorder output: %w", err)
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, classifyDeviceError(err, err.Error())
	}

	return &commandStream{
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		mimeType: d.MimeType,
	}, nil
}

type commandStream struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   *limitedBuffer
	mimeType string

	halted   atomic.Bool
	waitOnce sync.Once
	waitErr  error
}

func (s *commandStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) && !s.halted.Load() {
		// The recorder exited on its own; surface why.
		if werr := s.wait(); werr != nil {
			detail := s.stderr.String()
			if detail == "" {
				detail = werr.Error()
			}
			return n, classifyDeviceError(fmt.Errorf("recorder exited: %w: %s", werr, detail), detail)
		}
	}
	return n, err
}

func (s *commandStream) MimeType() string {
	return s.mimeType
}

func (s *commandStream) Halt() error {
	s.halted.Store(true)
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (s *commandStream) Close() error {
	s.halted.Store(true)
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	s.wait()
	return nil
}

func (s *commandStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
	mu    sync.Mutex
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}

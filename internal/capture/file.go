package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// FileDevice replays a previously recorded file as if it were a live input.
type FileDevice struct {
	Path     string
	MimeType string
}

// NewFileDevice returns a device reading path. An empty mimeType is guessed
// from the file extension.
func NewFileDevice(path, mimeType string) *FileDevice {
	if mimeType == "" {
		mimeType = MimeTypeForPath(path)
	}
	return &FileDevice{Path: path, MimeType: mimeType}
}

// Open opens the file for reading.
func (d *FileDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return nil, classifyDeviceError(err, err.Error())
	}
	return &fileStream{file: f, mimeType: d.MimeType}, nil
}

type fileStream struct {
	file      *os.File
	mimeType  string
	halted    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *fileStream) Read(p []byte) (int, error) {
	if s.halted.Load() {
		return 0, io.EOF
	}
	return s.file.Read(p)
}

func (s *fileStream) MimeType() string {
	return s.mimeType
}

func (s *fileStream) Halt() error {
	s.halted.Store(true)
	return nil
}

func (s *fileStream) Close() error {
	s.halted.Store(true)
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}

// MimeTypeForPath guesses the container type of a recording from its name.
func MimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return "audio/wav"
	case ".ogg", ".opus", ".oga":
		return "audio/ogg; codecs=opus"
	case ".ul", ".ulaw", ".mulaw":
		return "audio/basic"
	case ".al", ".alaw":
		return "audio/pcma"
	default:
		return "application/octet-stream"
	}
}

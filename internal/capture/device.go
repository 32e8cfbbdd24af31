package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

var (
	// ErrPermissionDenied is returned when the user or platform refuses access
	// to the audio input.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// Device opens exclusive audio input streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open device handle producing encoded audio.
type Stream interface {
	io.Reader
	// MimeType tags the encoded payload, e.g. "audio/wav".
	MimeType() string
	// Halt asks the device to stop producing. Data already produced stays
	// readable until io.EOF.
	Halt() error
	// Close releases the device handle. It is safe to call more than once.
	Close() error
}

// classifyDeviceError maps OS-level failures onto the capture error taxonomy.
// Errors that fit neither class are returned unchanged.
func classifyDeviceError(err error, detail string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}

	lower := strings.ToLower(detail)
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(lower, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist),
		strings.Contains(lower, "no such file"), strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no soundcards"), strings.Contains(lower, "device or resource busy"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return err
}

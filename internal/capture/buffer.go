package capture

import (
	"sync"
	"time"
)

// Buffer accumulates encoded chunks for one recording in arrival order.
// Chunks are never reordered.
type Buffer struct {
	chunks     [][]byte
	totalBytes int

	// Timing and metadata
	startTime  time.Time
	lastUpdate time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Chunks     int           `json:"chunks"`
	TotalBytes int           `json:"total_bytes"`
	Elapsed    time.Duration `json:"elapsed"`
	LastUpdate time.Time     `json:"last_update"`
}

// NewBuffer creates an empty chunk buffer
func NewBuffer() *Buffer {
	now := time.Now()
	return &Buffer{
		chunks:     make([][]byte, 0, 64),
		startTime:  now,
		lastUpdate: now,
	}
}

// Append copies a chunk onto the end of the buffer. Empty chunks are ignored.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	// Copy to avoid caller mutations.
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, owned)
	b.totalBytes += len(owned)
	b.lastUpdate = time.Now()
}

// Concat returns all chunks joined in arrival order.
func (b *Buffer) Concat() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, 0, b.totalBytes)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalBytes
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Chunks:     len(b.chunks),
		TotalBytes: b.totalBytes,
		Elapsed:    b.lastUpdate.Sub(b.startTime),
		LastUpdate: b.lastUpdate,
	}
}

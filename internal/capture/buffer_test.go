package capture

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestNewBuffer(t *testing.T) {
	buffer := NewBuffer()

	if buffer == nil {
		t.Fatal("NewBuffer returned nil")
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected initial size 0, got %d", buffer.Len())
	}

	if got := buffer.Concat(); len(got) != 0 {
		t.Errorf("Expected empty concat, got %d bytes", len(got))
	}
}

func TestBufferAppendPreservesOrder(t *testing.T) {
	buffer := NewBuffer()

	buffer.Append([]byte{1, 2})
	buffer.Append([]byte{3})
	buffer.Append([]byte{4, 5, 6})

	expected := []byte{1, 2, 3, 4, 5, 6}
	if got := buffer.Concat(); !bytes.Equal(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}

	if buffer.Len() != len(expected) {
		t.Errorf("Expected size %d, got %d", len(expected), buffer.Len())
	}
}

func TestBufferAppendCopies(t *testing.T) {
	buffer := NewBuffer()

	chunk := []byte{9, 9, 9}
	buffer.Append(chunk)
	chunk[0] = 0

	if got := buffer.Concat(); got[0] != 9 {
		t.Error("Buffer must not alias caller memory")
	}
}

func TestBufferIgnoresEmptyChunks(t *testing.T) {
	buffer := NewBuffer()

	buffer.Append(nil)
	buffer.Append([]byte{})

	if stats := buffer.GetStats(); stats.Chunks != 0 {
		t.Errorf("Expected 0 chunks, got %d", stats.Chunks)
	}
}

func TestBufferStats(t *testing.T) {
	buffer := NewBuffer()

	time.Sleep(10 * time.Millisecond)
	buffer.Append(make([]byte, 320))
	buffer.Append(make([]byte, 160))

	stats := buffer.GetStats()
	if stats.Chunks != 2 {
		t.Errorf("Expected 2 chunks, got %d", stats.Chunks)
	}
	if stats.TotalBytes != 480 {
		t.Errorf("Expected 480 bytes, got %d", stats.TotalBytes)
	}
	if stats.Elapsed < 10*time.Millisecond {
		t.Errorf("Expected elapsed >= 10ms, got %v", stats.Elapsed)
	}
}

func TestBufferConcurrentAppend(t *testing.T) {
	buffer := NewBuffer()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buffer.Append([]byte{1, 2})
			}
		}()
	}
	wg.Wait()

	if buffer.Len() != 2000 {
		t.Errorf("Expected 2000 bytes, got %d", buffer.Len())
	}
}

package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// MemoryDevice is an in-memory block device with fault injection. Its
// contents survive being closed and reopened through a MemoryOpener.
type MemoryDevice struct {
	mu         sync.Mutex
	data       []byte
	failWrites int
	failReads  int
	writeCount int
	syncCount  int
}

// NewMemoryDevice allocates a zeroed device of sizeBytes bytes
func NewMemoryDevice(sizeBytes int64) *MemoryDevice {
	return &MemoryDevice{data: make([]byte, sizeBytes)}
}

// ReadAt implements io.ReaderAt
func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failReads > 0 {
		d.failReads--
		return 0, fmt.Errorf("injected read failure: %w", types.ErrIO)
	}
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt
func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeCount++
	if d.failWrites > 0 {
		d.failWrites--
		return 0, fmt.Errorf("injected write failure: %w", types.ErrIO)
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, fmt.Errorf("write beyond end of device at %d: %w", off, types.ErrIO)
	}
	return copy(d.data[off:], p), nil
}

// Size returns the size of the device in bytes
func (d *MemoryDevice) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data))
}

// Sync counts flush requests
func (d *MemoryDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncCount++
	return nil
}

// Close is a no-op; the contents are kept
func (d *MemoryDevice) Close() error { return nil }

// FailWrites makes the next n writes fail with types.ErrIO
func (d *MemoryDevice) FailWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites = n
}

// FailReads makes the next n reads fail with types.ErrIO
func (d *MemoryDevice) FailReads(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads = n
}

// WriteCount returns the number of write attempts seen
func (d *MemoryDevice) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCount
}

// Bytes returns a copy of the device contents
func (d *MemoryDevice) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

package device

import (
	"fmt"
	"sync"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// PathOpener opens file-backed devices registered by path
type PathOpener struct {
	mu    sync.RWMutex
	paths map[types.DeviceID]string
}

// NewPathOpener creates an opener with no known devices
func NewPathOpener() *PathOpener {
	return &PathOpener{paths: make(map[types.DeviceID]string)}
}

// Add resolves path to a device id and remembers it
func (o *PathOpener) Add(path string) (types.DeviceID, error) {
	id, err := ResolveDeviceID(path)
	if err != nil {
		return types.DeviceID{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.paths[id]; ok && existing != path {
		return types.DeviceID{}, fmt.Errorf("%s and %s resolve to the same device %s: %w", existing, path, id, types.ErrInvalidArgument)
	}
	o.paths[id] = path
	return id, nil
}

// OpenExclusive implements interfaces.DeviceOpener
func (o *PathOpener) OpenExclusive(id types.DeviceID) (interfaces.BlockDevice, error) {
	o.mu.RLock()
	path, ok := o.paths[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, types.ErrDeviceNotFound)
	}
	return OpenFileDevice(path)
}

// Name returns the path of the device, or its id when unknown
func (o *PathOpener) Name(id types.DeviceID) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if path, ok := o.paths[id]; ok {
		return path
	}
	return id.String()
}

// MemoryOpener serves MemoryDevices and enforces exclusive opens
type MemoryOpener struct {
	mu      sync.Mutex
	devices map[types.DeviceID]*MemoryDevice
	open    map[types.DeviceID]bool
}

// NewMemoryOpener creates an opener with no devices
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{
		devices: make(map[types.DeviceID]*MemoryDevice),
		open:    make(map[types.DeviceID]bool),
	}
}

// Attach makes dev available under id
func (o *MemoryOpener) Attach(id types.DeviceID, dev *MemoryDevice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices[id] = dev
}

// Device returns the device attached under id
func (o *MemoryOpener) Device(id types.DeviceID) *MemoryDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devices[id]
}

// IsOpen reports whether id is currently held open
func (o *MemoryOpener) IsOpen(id types.DeviceID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open[id]
}

// OpenExclusive implements interfaces.DeviceOpener
func (o *MemoryOpener) OpenExclusive(id types.DeviceID) (interfaces.BlockDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dev, ok := o.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, types.ErrDeviceNotFound)
	}
	if o.open[id] {
		return nil, fmt.Errorf("device %s: %w", id, types.ErrDeviceLocked)
	}
	o.open[id] = true
	return &memoryHandle{MemoryDevice: dev, release: func() { o.release(id) }}, nil
}

// Name implements interfaces.DeviceOpener
func (o *MemoryOpener) Name(id types.DeviceID) string {
	return fmt.Sprintf("mem%d_%d", id.Major, id.Minor)
}

func (o *MemoryOpener) release(id types.DeviceID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.open, id)
}

// memoryHandle is one exclusive open of a MemoryDevice
type memoryHandle struct {
	*MemoryDevice
	once    sync.Once
	release func()
}

func (h *memoryHandle) Close() error {
	h.once.Do(h.release)
	return nil
}

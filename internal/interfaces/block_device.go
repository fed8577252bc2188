// File: internal/interfaces/block_device.go
package interfaces

import (
	"io"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// BlockDevice is a raw device opened for exclusive use by the array manager.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size returns the capacity of the device in bytes
	Size() int64

	// Sync flushes pending writes to stable storage
	Sync() error
}

// DeviceOpener opens raw devices by id
type DeviceOpener interface {
	// OpenExclusive opens the device and locks it against concurrent use.
	// It fails with types.ErrDeviceLocked when another user holds the device.
	OpenExclusive(id types.DeviceID) (BlockDevice, error)

	// Name returns a human readable name for the device, such as its path
	Name(id types.DeviceID) string
}

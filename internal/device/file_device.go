package device

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// FileDevice provides exclusive access to a block device node or an image file
type FileDevice struct {
	file *os.File
	path string
	size int64
}

// OpenFileDevice opens path read-write and takes an exclusive, non-blocking
// flock on it so no other user can mount or repartition it while it is held.
func OpenFileDevice(path string) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("device %s: %w", path, types.ErrDeviceLocked)
		}
		return nil, fmt.Errorf("failed to lock device %s: %w", path, err)
	}

	// Seeking to the end works for both block device nodes and regular files
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to size device %s: %w", path, err)
	}

	return &FileDevice{file: file, path: path, size: size}, nil
}

// ReadAt implements io.ReaderAt
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	return d.file.WriteAt(p, off)
}

// Size returns the size of the device in bytes
func (d *FileDevice) Size() int64 {
	return d.size
}

// Sync flushes the device
func (d *FileDevice) Sync() error {
	return d.file.Sync()
}

// Path returns the path the device was opened from
func (d *FileDevice) Path() string {
	return d.path
}

// Close releases the lock and closes the device
func (d *FileDevice) Close() error {
	if d.file == nil {
		return nil
	}
	unix.Flock(int(d.file.Fd()), unix.LOCK_UN)
	err := d.file.Close()
	d.file = nil
	return err
}

// ResolveDeviceID derives the device id of path. Block device nodes report
// their own major/minor; regular image files are identified by the
// filesystem they live on and their inode number.
func ResolveDeviceID(path string) (types.DeviceID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return types.DeviceID{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	switch uint32(st.Mode) & unix.S_IFMT {
	case unix.S_IFBLK:
		rdev := uint64(st.Rdev)
		return types.DeviceID{Major: unix.Major(rdev), Minor: unix.Minor(rdev)}, nil
	case unix.S_IFREG:
		return types.DeviceID{Major: uint32(st.Dev), Minor: uint32(st.Ino)}, nil
	default:
		return types.DeviceID{}, fmt.Errorf("%s is neither a block device nor a regular file: %w", path, types.ErrInvalidArgument)
	}
}

// Package registry tracks every raw device imported as a candidate array
// member, independently of the array it ends up in.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/parsers/superblock"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Registry is the process-wide set of imported devices. All mutation is
// serialized by its lock.
type Registry struct {
	mu      sync.Mutex
	opener  interfaces.DeviceOpener
	log     logrus.FieldLogger
	devices map[types.DeviceID]*Rdev
	nextSeq uint64
}

// New creates an empty registry opening devices through opener
func New(opener interfaces.DeviceOpener, log logrus.FieldLogger) *Registry {
	return &Registry{
		opener:  opener,
		log:     log,
		devices: make(map[types.DeviceID]*Rdev),
	}
}

// Import opens id exclusively and registers it. When readSuperblock is set the
// superblock at the persistent offset is read and decoded; a device without
// one is rolled back and ErrNoSuperblock returned.
//
// A zero-sized device stays registered as faulty: the returned Rdev is valid
// and the error matches ErrZeroSize.
func (r *Registry) Import(id types.DeviceID, readSuperblock bool) (*Rdev, error) {
	return r.importDevice(id, readSuperblock, StateRegistered)
}

// ImportPending imports id with its superblock and queues it for autorun
func (r *Registry) ImportPending(id types.DeviceID) (*Rdev, error) {
	return r.importDevice(id, true, StatePending)
}

func (r *Registry) importDevice(id types.DeviceID, readSuperblock bool, state State) (*Rdev, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; ok {
		return nil, types.UserError("import", fmt.Errorf("%w: %s", types.ErrAlreadyImported, id))
	}

	dev, err := r.opener.OpenExclusive(id)
	if err != nil {
		return nil, types.UserError("import", fmt.Errorf("failed to open %s: %w", id, err))
	}

	rdev := &Rdev{
		ID:     id,
		Name:   r.opener.Name(id),
		DescNr: -1,
		dev:    dev,
		state:  state,
		owner:  NoOwner,
		seq:    r.nextSeq,
	}
	r.nextSeq++

	logger := r.log.WithField("device", rdev.Name)

	rdev.SizeBlocks = uint64(dev.Size()) / types.BlockSize
	if rdev.SizeBlocks == 0 {
		logger.Warn("device has zero size, marking faulty")
		rdev.Faulty = true
		r.devices[id] = rdev
		return rdev, types.UserError("import", fmt.Errorf("%w: %s", types.ErrZeroSize, rdev.Name))
	}
	rdev.SbOffset = superblock.Offset(rdev.SizeBlocks, true)

	if readSuperblock {
		if err := r.readSuperblock(rdev); err != nil {
			dev.Close()
			return nil, types.UserError("import", err)
		}
		if !rdev.ChecksumValid {
			logger.WithError(types.ErrChecksumMismatch).Warn("superblock will only be trusted as a last resort")
		}
	}

	r.devices[id] = rdev
	logger.WithField("size", rdev.SizeBlocks).Debug("device imported")
	return rdev, nil
}

func (r *Registry) readSuperblock(rdev *Rdev) error {
	if !superblock.CanHold(rdev.SizeBlocks) {
		return fmt.Errorf("%w: %s is too small to carry a superblock", types.ErrNoSuperblock, rdev.Name)
	}
	reader, err := superblock.ReadFrom(rdev.dev, rdev.SbOffset)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrNoSuperblock, rdev.Name, err)
	}
	sb := reader.Superblock()
	rdev.SetSuperblock(sb)
	rdev.ChecksumValid = reader.ChecksumValid()
	rdev.DescNr = int(sb.ThisDisk.Number)
	return nil
}

// Export releases the device lock, drops the cached superblock and forgets
// the device. Exporting a bound device is a bug.
func (r *Registry) Export(rdev *Rdev) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rdev.state == StateBound {
		r.log.WithFields(logrus.Fields{"device": rdev.Name, "bug": true}).Error("export of bound device")
		return types.Bug("export", fmt.Errorf("%w: %s is still bound to md%d", types.ErrBug, rdev.Name, rdev.owner))
	}
	if cur, ok := r.devices[rdev.ID]; !ok || cur != rdev {
		return types.Bug("export", fmt.Errorf("%w: %s is not registered", types.ErrBug, rdev.Name))
	}

	delete(r.devices, rdev.ID)
	rdev.superblock = nil
	if err := rdev.dev.Close(); err != nil {
		return fmt.Errorf("failed to release %s: %w", rdev.Name, err)
	}
	r.log.WithField("device", rdev.Name).Debug("device exported")
	return nil
}

// FindByDevice returns the registered device with the given id
func (r *Registry) FindByDevice(id types.DeviceID) (*Rdev, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rdev, ok := r.devices[id]
	return rdev, ok
}

// FindByUnit returns another registered device on the same physical unit as
// id, considering only devices bound to owner unless owner is NoOwner.
// Candidates are considered in import order.
func (r *Registry) FindByUnit(id types.DeviceID, owner int) (*Rdev, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rdev := range r.sortedLocked() {
		if rdev.ID == id || !rdev.ID.SameUnit(id) {
			continue
		}
		if owner != NoOwner && (rdev.state != StateBound || rdev.owner != owner) {
			continue
		}
		return rdev, true
	}
	return nil, false
}

// Bind assigns the device to the array with the given minor
func (r *Registry) Bind(rdev *Rdev, minor int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rdev.state == StateBound {
		return types.Bug("bind", fmt.Errorf("%w: %s already bound to md%d", types.ErrBug, rdev.Name, rdev.owner))
	}
	rdev.state = StateBound
	rdev.owner = minor
	return nil
}

// Unbind detaches the device from its array
func (r *Registry) Unbind(rdev *Rdev) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rdev.state != StateBound {
		return types.Bug("unbind", fmt.Errorf("%w: %s is not bound", types.ErrBug, rdev.Name))
	}
	rdev.state = StateRegistered
	rdev.owner = NoOwner
	return nil
}

// State returns the device's registry state and owner
func (r *Registry) State(rdev *Rdev) (State, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rdev.state, rdev.owner
}

// Pending returns the devices queued for autorun in import order
func (r *Registry) Pending() []*Rdev {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Rdev
	for _, rdev := range r.sortedLocked() {
		if rdev.state == StatePending {
			out = append(out, rdev)
		}
	}
	return out
}

// Devices returns every registered device in import order
func (r *Registry) Devices() []*Rdev {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

// Close exports every unbound device
func (r *Registry) Close() error {
	var firstErr error
	for _, rdev := range r.Devices() {
		if st, _ := r.State(rdev); st == StateBound {
			continue
		}
		if err := r.Export(rdev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) sortedLocked() []*Rdev {
	out := make([]*Rdev, 0, len(r.devices))
	for _, rdev := range r.devices {
		out = append(out, rdev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

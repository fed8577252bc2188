package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/device"
	"github.com/deploymenttheory/go-mdraid/internal/managers/array"
	"github.com/deploymenttheory/go-mdraid/internal/managers/recovery"
	"github.com/deploymenttheory/go-mdraid/internal/parsers/superblock"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// mdService implements MDService over file-backed devices
type mdService struct {
	opener  *device.PathOpener
	manager *array.Manager
	engine  *recovery.Engine
	log     logrus.FieldLogger
}

// NewMDService creates the control surface over an existing manager and engine
func NewMDService(opener *device.PathOpener, manager *array.Manager, engine *recovery.Engine, log logrus.FieldLogger) MDService {
	return &mdService{opener: opener, manager: manager, engine: engine, log: log}
}

// Examine implements MDService
func (s *mdService) Examine(path string) (*SuperblockInfo, error) {
	id, err := device.ResolveDeviceID(path)
	if err != nil {
		return nil, err
	}
	dev, err := device.OpenFileDevice(path)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	blocks := uint64(dev.Size()) / types.BlockSize
	if !superblock.CanHold(blocks) {
		return nil, types.UserError("examine", fmt.Errorf("%w: %s is only %d blocks", types.ErrNoSuperblock, path, blocks))
	}
	offset := superblock.Offset(blocks, true)
	r, err := superblock.ReadFrom(dev, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to examine %s: %w", path, err)
	}
	return &SuperblockInfo{
		DevicePath:       path,
		Device:           id,
		SizeBlocks:       blocks,
		OffsetBlocks:     offset,
		Superblock:       r.Superblock(),
		StoredChecksum:   r.StoredChecksum(),
		ComputedChecksum: r.ComputedChecksum(),
		ChecksumValid:    r.ChecksumValid(),
	}, nil
}

// Create implements MDService
func (s *mdService) Create(ctx context.Context, req CreateRequest) (*ArrayStatus, error) {
	n := len(req.Devices)
	if req.RaidDevices < 1 || req.RaidDevices > n {
		return nil, types.UserError("create", fmt.Errorf("%w: %d raid devices from %d paths", types.ErrInvalidArgument, req.RaidDevices, n))
	}

	ids := make([]types.DeviceID, n)
	for i, path := range req.Devices {
		id, err := s.opener.Add(path)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	a, err := s.manager.Create(req.Minor)
	if err != nil {
		return nil, err
	}
	log := s.log.WithField("array", a.Name())

	info := types.ArrayInfo{
		Level:        req.Level,
		NrDisks:      uint32(n),
		RaidDisks:    uint32(req.RaidDevices),
		ActiveDisks:  uint32(req.RaidDevices),
		WorkingDisks: uint32(n),
		SpareDisks:   uint32(n - req.RaidDevices),
		ChunkSize:    req.ChunkSize,
	}
	if req.NotPersistent {
		info.NotPersistent = 1
	}
	if req.AssumeClean {
		info.State = types.SbClean
	}

	build := func() error {
		if err := a.SetDescriptor(info); err != nil {
			return err
		}
		for i, id := range ids {
			disk := types.DiskInfo{Number: uint32(i), Device: id, RaidDisk: uint32(i)}
			if i < req.RaidDevices {
				disk.State = types.DiskActive | types.DiskSync
			}
			if err := a.AddDisk(disk); err != nil {
				return fmt.Errorf("failed to add %s: %w", req.Devices[i], err)
			}
		}
		return a.Run(ctx)
	}
	if err := build(); err != nil {
		if stopErr := a.Stop(false); stopErr != nil {
			log.WithError(stopErr).Warn("failed to release array after failed create")
		}
		return nil, err
	}

	log.WithField("devices", n).Info("array created")
	status := s.status(a)
	return &status, nil
}

// Assemble implements MDService
func (s *mdService) Assemble(ctx context.Context, paths []string) ([]ArrayStatus, error) {
	var errs []error
	reg := s.manager.Registry()
	for _, path := range paths {
		id, err := s.opener.Add(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := reg.ImportPending(id); err != nil {
			s.log.WithError(err).WithField("device", path).Warn("skipping device")
			errs = append(errs, fmt.Errorf("failed to import %s: %w", path, err))
		}
	}

	started, err := s.manager.Autorun(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	statuses := make([]ArrayStatus, 0, len(started))
	for _, a := range started {
		statuses = append(statuses, s.status(a))
	}
	if len(started) == 0 && len(errs) == 0 {
		errs = append(errs, types.UserError("assemble", fmt.Errorf("%w: no superblocks found", types.ErrNoDevices)))
	}
	return statuses, errors.Join(errs...)
}

// HotAdd implements MDService
func (s *mdService) HotAdd(minor int, path string) error {
	a, id, err := s.resolve(minor, path)
	if err != nil {
		return err
	}
	return a.HotAddDisk(id)
}

// HotRemove implements MDService
func (s *mdService) HotRemove(minor int, path string) error {
	a, id, err := s.resolve(minor, path)
	if err != nil {
		return err
	}
	return a.HotRemoveDisk(id)
}

// SetFaulty implements MDService
func (s *mdService) SetFaulty(minor int, path string) error {
	a, id, err := s.resolve(minor, path)
	if err != nil {
		return err
	}
	return a.SetDiskFaulty(id)
}

// Resync implements MDService
func (s *mdService) Resync(ctx context.Context) error {
	return s.engine.DoRecovery(ctx)
}

// Stop implements MDService
func (s *mdService) Stop(minor int, readOnly bool) error {
	a, err := s.manager.Lookup(minor)
	if err != nil {
		return err
	}
	return a.Stop(readOnly)
}

// Array implements MDService
func (s *mdService) Array(minor int) (*ArrayStatus, error) {
	a, err := s.manager.Lookup(minor)
	if err != nil {
		return nil, err
	}
	status := s.status(a)
	return &status, nil
}

// Arrays implements MDService
func (s *mdService) Arrays() []ArrayStatus {
	arrays := s.manager.Arrays()
	statuses := make([]ArrayStatus, 0, len(arrays))
	for _, a := range arrays {
		statuses = append(statuses, s.status(a))
	}
	return statuses
}

// Close implements MDService
func (s *mdService) Close() error {
	return errors.Join(s.manager.Shutdown(), s.manager.Registry().Close())
}

func (s *mdService) resolve(minor int, path string) (*array.Array, types.DeviceID, error) {
	a, err := s.manager.Lookup(minor)
	if err != nil {
		return nil, types.DeviceID{}, err
	}
	id, err := s.opener.Add(path)
	if err != nil {
		return nil, types.DeviceID{}, err
	}
	return a, id, nil
}

func (s *mdService) status(a *array.Array) ArrayStatus {
	snap := a.Snapshot()
	sb := snap.Superblock
	st := ArrayStatus{
		Minor:       snap.Minor,
		Name:        snap.Name,
		State:       snap.State,
		Level:       sb.Level,
		Events:      sb.Events,
		Clean:       sb.IsClean(),
		RaidDisks:   sb.RaidDisks,
		Active:      sb.ActiveDisks,
		Working:     sb.WorkingDisks,
		Failed:      sb.FailedDisks,
		Spare:       sb.SpareDisks,
		ChunkSize:   sb.ChunkSize,
		SizeBlocks:  uint64(sb.Size),
		Capacity:    a.Capacity(),
		NeedsResync: snap.NeedsResync,
		Syncing:     snap.Syncing,
		Cursor:      snap.Cursor,
		Speed:       snap.Speed,
		Status:      a.Status(),
	}
	if sb.Magic == types.SuperblockMagic {
		st.UUID = sb.UUID().String()
		for i := 0; i < types.MDSbDisks && i < int(sb.NrDisks); i++ {
			st.Descriptors = append(st.Descriptors, sb.Disks[i])
		}
	}
	for _, m := range snap.Members {
		st.Members = append(st.Members, MemberStatus{
			Device:     m.Device,
			DevicePath: s.opener.Name(m.Device),
			Slot:       m.DescNr,
			Faulty:     m.Faulty,
			SizeBlocks: m.Size,
		})
	}
	return st
}

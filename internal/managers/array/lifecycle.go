package array

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/assembler"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/parsers/superblock"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// MinChunkSize is the smallest accepted chunk size in bytes
const MinChunkSize = 4096

// SetDescriptor installs a brand-new superblock built from info and gives the
// array a fresh random set UUID.
func (a *Array) SetDescriptor(info types.ArrayInfo) error {
	const op = "set_descriptor"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == types.ArrayDestroyed {
		return types.UserError(op, types.ErrArrayNotFound)
	}
	if a.sb != nil {
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrHasSuperblock, a.name))
	}
	if len(a.rdevs) > 0 {
		return types.UserError(op, fmt.Errorf("%w: %s already has members", types.ErrBusy, a.name))
	}

	if info.MajorVersion == 0 && info.MinorVersion == 0 && info.PatchVersion == 0 {
		info.MinorVersion = types.MinorVersion
	}
	if info.MajorVersion != types.MajorVersion ||
		info.MinorVersion < types.MinSupportedMinor || info.MinorVersion > types.MaxSupportedMinor {
		return types.UserError(op, fmt.Errorf("%w: %d.%d.%d", types.ErrUnsupportedVersion,
			info.MajorVersion, info.MinorVersion, info.PatchVersion))
	}
	if info.RaidDisks > types.MDSbDisks || info.NrDisks > types.MDSbDisks {
		return types.UserError(op, fmt.Errorf("%w: at most %d disks", types.ErrInvalidArgument, types.MDSbDisks))
	}

	now := uint32(a.mgr.clock.Now().Unix())
	sb := types.SuperblockImage{
		Magic:         types.SuperblockMagic,
		MajorVersion:  info.MajorVersion,
		MinorVersion:  info.MinorVersion,
		PatchVersion:  info.PatchVersion,
		Ctime:         now,
		Level:         info.Level,
		Size:          info.Size,
		NrDisks:       info.NrDisks,
		RaidDisks:     info.RaidDisks,
		MdMinor:       uint32(a.minor),
		NotPersistent: info.NotPersistent,
		Utime:         now,
		State:         info.State,
		ActiveDisks:   info.ActiveDisks,
		WorkingDisks:  info.WorkingDisks,
		FailedDisks:   info.FailedDisks,
		SpareDisks:    info.SpareDisks,
		Layout:        info.Layout,
		ChunkSize:     info.ChunkSize,
	}
	sb.SetUUIDFrom(uuid.New())

	a.infoMu.Lock()
	a.sb = &sb
	a.setStateLocked(types.ArrayStopped)
	a.infoMu.Unlock()

	a.log.WithFields(logrus.Fields{
		"uuid":  sb.UUID(),
		"level": types.LevelName(sb.Level),
	}).Info("superblock descriptor set")
	return nil
}

// AddDisk adds a device to a stopped array.
//
// Without a superblock the device must carry one matching the set of the
// members already bound. With a superblock the device is a new member: it is
// recorded in slot info.Number and the array size shrinks to fit it.
func (a *Array) AddDisk(info types.DiskInfo) error {
	const op = "add_disk"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == types.ArrayDestroyed {
		return types.UserError(op, types.ErrArrayNotFound)
	}
	if a.pers != nil {
		return types.UserError(op, fmt.Errorf("%w: use hot add on a running array", types.ErrAlreadyRunning))
	}
	id := info.Device
	reg := a.mgr.registry
	log := a.log.WithField("device", id)

	if a.sb == nil {
		rdev, err := reg.Import(id, true)
		if err != nil {
			a.exportQuietly(rdev)
			return err
		}
		if len(a.rdevs) > 0 {
			first := a.rdevs[0]
			fsb, _ := first.Superblock()
			sb, _ := rdev.Superblock()
			if !fsb.SameSet(sb) {
				log.WithField("sibling", first.Name).Warn("device has a different set uuid")
				a.exportQuietly(rdev)
				return types.UserError(op, fmt.Errorf("%w: %s differs from %s", types.ErrUUIDMismatch, rdev.Name, first.Name))
			}
			if !fsb.ConstantEqual(sb) {
				log.WithField("sibling", first.Name).Warn("device has the same set uuid but a different superblock")
				a.exportQuietly(rdev)
				return types.UserError(op, fmt.Errorf("%w: %s differs from %s", types.ErrSuperblockMismatch, rdev.Name, first.Name))
			}
		}
		return a.bindLocked(rdev)
	}

	nr := int(info.Number)
	if nr >= types.MDSbDisks || nr >= int(a.sb.NrDisks) {
		return types.UserError(op, fmt.Errorf("%w: slot %d outside the %d disk table", types.ErrInvalidArgument, nr, a.sb.NrDisks))
	}
	if a.findRdevLocked(id) != nil {
		return types.UserError(op, fmt.Errorf("%w: %s is already a member", types.ErrBusy, id))
	}

	sb := *a.sb
	desc := info.Descriptor()
	desc.Number = uint32(nr)
	sb.Disks[nr] = desc

	if desc.IsFaulty() {
		a.installLocked(sb)
		a.syncSuperblocksLocked()
		return nil
	}

	rdev, err := reg.Import(id, false)
	if err != nil {
		a.exportQuietly(rdev)
		return err
	}
	persistent := sb.IsPersistent()
	size := superblock.DataSize(rdev.SizeBlocks, persistent, sb.ChunkSize)
	if err := checkMemberSize(rdev.Name, size, sb.ChunkSize); err != nil {
		log.WithField("size", rdev.SizeBlocks).WithError(err).Warn("device size unusable for the array")
		a.exportQuietly(rdev)
		return types.UserError(op, err)
	}
	if !persistent {
		log.Info("non-persistent superblock")
	}
	rdev.DescNr = nr
	rdev.Size = size
	rdev.SbOffset = superblock.Offset(rdev.SizeBlocks, persistent)
	if sb.Size == 0 || uint64(sb.Size) > size {
		sb.Size = uint32(size)
	}

	if err := a.bindLocked(rdev); err != nil {
		a.exportQuietly(rdev)
		return err
	}
	a.installLocked(sb)
	a.syncSuperblocksLocked()
	return nil
}

// checkMemberSize rejects data sizes the 32-bit superblock size field
// cannot describe
func checkMemberSize(name string, size uint64, chunk uint32) error {
	switch {
	case size == 0:
		return fmt.Errorf("%w: %s holds no whole %d byte chunk", types.ErrInvalidSize, name, chunk)
	case size > math.MaxUint32:
		return fmt.Errorf("%w: %s holds %d blocks, more than a 0.90 superblock records", types.ErrInvalidSize, name, size)
	}
	return nil
}

// Run assembles the bound devices and starts the personality. A read-only
// array is switched back to read-write instead. Any failure leaves the array
// as it was.
func (a *Array) Run(ctx context.Context) error {
	const op = "run"
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.state == types.ArrayDestroyed:
		return types.UserError(op, types.ErrArrayNotFound)
	case a.state == types.ArrayReadOnly:
		return a.restartReadWriteLocked()
	case a.pers != nil:
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrAlreadyRunning, a.name))
	case len(a.rdevs) == 0:
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrNoDevices, a.name))
	}

	cands := make([]assembler.Candidate, len(a.rdevs))
	for i, rdev := range a.rdevs {
		c := assembler.Candidate{ID: rdev.ID, ChecksumValid: rdev.ChecksumValid, Faulty: rdev.Faulty}
		if sb, ok := rdev.Superblock(); ok {
			c.Superblock = &sb
		}
		cands[i] = c
	}
	plan, err := assembler.Analyze(a.log, cands)
	if err != nil {
		return err
	}
	for _, e := range plan.Evicted {
		a.mgr.metrics.Evicted(e.Reason)
	}

	sb := plan.Superblock
	pers, err := a.mgr.personalities.Lookup(sb.Level)
	if err != nil {
		return types.Fatal(op, err)
	}
	if err := a.mgr.checkChunkSize(sb); err != nil {
		a.log.WithError(err).Error("refusing to run array")
		return err
	}

	persistent := sb.IsPersistent()
	chunkBlocks := uint64(sb.ChunkSize) / types.BlockSize
	sizes := make([]uint64, len(plan.Members))
	for i, m := range plan.Members {
		rdev := a.rdevs[m.Index]
		sizes[i] = superblock.DataSize(rdev.SizeBlocks, persistent, sb.ChunkSize)
		if sizes[i] == 0 || sizes[i] < chunkBlocks || sizes[i] < uint64(sb.Size) {
			return types.Fatal(op, fmt.Errorf("%w: %s holds %d blocks, array needs %d",
				types.ErrInvalidSize, rdev.Name, sizes[i], sb.Size))
		}
	}

	saved := a.saveLocked()
	kicked := a.applyPlanLocked(plan, sizes)

	if err := pers.Run(ctx, a); err != nil {
		a.restoreLocked(saved)
		a.log.WithError(err).Error("personality failed to start")
		return types.Fatal(op, fmt.Errorf("failed to start %s: %w", pers.Name(), err))
	}

	for _, rdev := range kicked {
		a.releaseRdev(rdev)
	}

	capacity := pers.Capacity(a.Superblock(), a.Members())
	runCtx, cancel := context.WithCancel(context.Background())
	a.infoMu.Lock()
	a.pers = pers
	a.runCtx, a.runCancel = runCtx, cancel
	a.capacity = capacity
	a.needsResync = plan.Unclean
	a.holdWrites = plan.MissingDevices
	a.sb.State &^= types.SbClean
	a.setStateLocked(types.ArrayRunning)
	a.infoMu.Unlock()

	a.updateSuperblockLocked(false)
	a.log.WithFields(logrus.Fields{
		"level":    pers.Name(),
		"capacity": capacity,
		"disks":    len(a.rdevs),
	}).Info("array running")
	a.mgr.wakeRecovery()
	return nil
}

func (a *Array) restartReadWriteLocked() error {
	a.infoMu.Lock()
	a.sb.State &^= types.SbClean
	a.setStateLocked(types.ArrayRunning)
	a.infoMu.Unlock()

	a.pers.RestartResync(a)
	a.updateSuperblockLocked(false)
	a.log.Info("switched to read-write mode")
	a.mgr.wakeRecovery()
	return nil
}

// Stop interrupts any resync and waits for it to release the array, then
// switches the array read-only or releases the personality and frees the
// array. The superblock is marked clean only when no resync was cut short.
func (a *Array) Stop(readOnly bool) error {
	const op = "stop"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == types.ArrayDestroyed {
		return types.UserError(op, types.ErrArrayNotFound)
	}
	if a.openCount > 1 || a.writeMounts > 0 {
		return types.UserError(op, fmt.Errorf("%w: %s has %d openers and %d write mounts",
			types.ErrBusy, a.name, a.openCount, a.writeMounts))
	}
	if a.pers == nil {
		if readOnly {
			return types.UserError(op, fmt.Errorf("%w: %s", types.ErrNotRunning, a.name))
		}
		a.destroyLocked()
		a.log.Info("array stopped")
		return nil
	}
	if readOnly && a.state == types.ArrayReadOnly {
		return types.UserError(op, fmt.Errorf("%w: %s is already read-only", types.ErrInvalidArgument, a.name))
	}

	a.infoMu.RLock()
	cancelSync := a.syncCancel
	a.infoMu.RUnlock()
	if cancelSync != nil {
		cancelSync()
	}
	// Blocks until a running resync has left its loop
	if err := a.syncSem.Acquire(context.Background(), 1); err != nil {
		return types.Bug(op, fmt.Errorf("%w: %v", types.ErrBug, err))
	}
	defer a.syncSem.Release(1)

	interrupted := a.pers.StopResync(a)
	a.infoMu.RLock()
	inFlight := a.syncing
	pending := a.needsResync
	a.infoMu.RUnlock()

	if !readOnly {
		if err := a.pers.Stop(a); err != nil {
			return types.UserError(op, fmt.Errorf("personality refused to stop: %w: %v", types.ErrBusy, err))
		}
	}

	a.infoMu.Lock()
	if !interrupted && !inFlight && !pending {
		a.sb.State |= types.SbClean
	} else {
		a.log.WithFields(logrus.Fields{
			"interrupted": interrupted,
			"in_flight":   inFlight,
		}).Warn("resync not finished, leaving array unclean")
	}
	if readOnly {
		a.setStateLocked(types.ArrayReadOnly)
	}
	a.infoMu.Unlock()

	a.updateSuperblockLocked(false)

	if readOnly {
		a.log.Info("switched to read-only mode")
		return nil
	}

	a.infoMu.Lock()
	a.pers = nil
	a.capacity = 0
	if a.runCancel != nil {
		a.runCancel()
	}
	a.infoMu.Unlock()
	a.destroyLocked()
	a.log.Info("array stopped")
	return nil
}

// HotAddDisk imports a device into a running array as a spare and wakes
// recovery so the spare can be rebuilt.
func (a *Array) HotAddDisk(id types.DeviceID) error {
	const op = "hot_add_disk"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pers == nil || a.state != types.ArrayRunning {
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrNotRunning, a.name))
	}
	hs, ok := a.pers.(interfaces.HotSwapper)
	if !ok {
		return types.UserError(op, fmt.Errorf("%w: %s cannot hot add", types.ErrNotSupported, a.pers.Name()))
	}
	if a.findRdevLocked(id) != nil {
		return types.UserError(op, fmt.Errorf("%w: %s is already a member", types.ErrBusy, id))
	}

	reg := a.mgr.registry
	rdev, err := reg.Import(id, false)
	if err != nil {
		a.exportQuietly(rdev)
		return err
	}
	log := a.log.WithField("device", rdev.Name)

	persistent := a.sb.IsPersistent()
	size := superblock.DataSize(rdev.SizeBlocks, persistent, a.sb.ChunkSize)
	if size < uint64(a.sb.Size) {
		log.WithFields(logrus.Fields{"size": size, "array_size": a.sb.Size}).Warn("disk smaller than array")
		a.exportQuietly(rdev)
		return types.UserError(op, fmt.Errorf("%w: %s holds %d blocks, array needs %d",
			types.ErrInvalidSize, rdev.Name, size, a.sb.Size))
	}

	sb := *a.sb
	slot := -1
	for i := int(sb.RaidDisks); i < types.MDSbDisks; i++ {
		if sb.Disks[i].IsEmpty() || sb.Disks[i].IsRemoved() {
			slot = i
			break
		}
	}
	if slot < 0 {
		log.Warn("can not hot add to full array")
		a.exportQuietly(rdev)
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrNoFreeSlot, a.name))
	}

	desc := &sb.Disks[slot]
	if desc.IsRemoved() && int(desc.Number) != slot {
		a.exportQuietly(rdev)
		return a.bug(op, "removed slot %d records number %d", slot, desc.Number)
	}
	desc.Number = uint32(slot)
	desc.RaidDisk = uint32(slot)
	desc.SetID(id)
	desc.State = 0
	if err := hs.DiskOp(a, desc, interfaces.DiskOpHotAdd); err != nil {
		a.exportQuietly(rdev)
		return types.Fatal(op, fmt.Errorf("personality rejected hot add: %w", err))
	}
	sb.NrDisks++
	sb.SpareDisks++
	sb.WorkingDisks++

	rdev.DescNr = slot
	rdev.Size = size
	rdev.SbOffset = superblock.Offset(rdev.SizeBlocks, persistent)
	if err := a.bindLocked(rdev); err != nil {
		a.exportQuietly(rdev)
		return err
	}
	a.installLocked(sb)
	log.WithField("slot", slot).Info("spare added")

	a.updateSuperblockLocked(true)
	a.mgr.wakeRecovery()
	return nil
}

// HotRemoveDisk removes a spare or faulty member from a running array
func (a *Array) HotRemoveDisk(id types.DeviceID) error {
	const op = "hot_remove_disk"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pers == nil {
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrNotRunning, a.name))
	}
	rdev := a.findRdevLocked(id)
	if rdev == nil {
		return types.UserError(op, fmt.Errorf("%w: %s is not a member of %s", types.ErrDeviceNotFound, id, a.name))
	}
	if rdev.DescNr < 0 {
		return a.bug(op, "member %s has no slot", rdev.Name)
	}
	log := a.log.WithFields(logrus.Fields{"device": rdev.Name, "slot": rdev.DescNr})

	desc := a.sb.Disks[rdev.DescNr]
	if desc.IsActive() {
		log.Warn("cannot remove active disk")
		return types.UserError(op, fmt.Errorf("%w: %s is active in %s", types.ErrBusy, rdev.Name, a.name))
	}
	a.infoMu.RLock()
	rebuilding := a.syncTarget != nil && int(a.syncTarget.Number) == rdev.DescNr
	a.infoMu.RUnlock()
	if rebuilding {
		log.Warn("cannot remove disk under recovery")
		return types.UserError(op, fmt.Errorf("%w: %s is being rebuilt", types.ErrBusy, rdev.Name))
	}
	if desc.IsRemoved() {
		return a.bug(op, "slot %d of %s is already removed", rdev.DescNr, rdev.Name)
	}
	hs, ok := a.pers.(interfaces.HotSwapper)
	if !ok {
		return types.UserError(op, fmt.Errorf("%w: %s cannot hot remove", types.ErrNotSupported, a.pers.Name()))
	}
	if err := hs.DiskOp(a, &desc, interfaces.DiskOpHotRemove); err != nil {
		if errors.Is(err, types.ErrBusy) {
			return types.UserError(op, err)
		}
		return types.Fatal(op, fmt.Errorf("personality rejected hot remove: %w", err))
	}

	sb := *a.sb
	sb.RemoveDescriptor(rdev.DescNr)
	a.infoMu.Lock()
	a.sb = &sb
	a.rdevs = without(a.rdevs, rdev)
	a.infoMu.Unlock()
	a.releaseRdev(rdev)
	log.Info("disk removed")

	a.updateSuperblockLocked(true)
	return nil
}

// SetDiskFaulty fails a member of a running array
func (a *Array) SetDiskFaulty(id types.DeviceID) error {
	const op = "set_disk_faulty"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pers == nil {
		return types.UserError(op, fmt.Errorf("%w: %s", types.ErrNotRunning, a.name))
	}
	rdev := a.findRdevLocked(id)
	if rdev == nil {
		return types.UserError(op, fmt.Errorf("%w: %s is not a member of %s", types.ErrDeviceNotFound, id, a.name))
	}
	if rdev.Faulty {
		return nil
	}
	if rdev.DescNr < 0 {
		return a.bug(op, "member %s has no slot", rdev.Name)
	}
	if err := a.pers.ErrorHandler(a, id); err != nil {
		if errors.Is(err, types.ErrBusy) {
			return types.UserError(op, err)
		}
		return types.Fatal(op, err)
	}

	sb := *a.sb
	d := &sb.Disks[rdev.DescNr]
	if !d.IsFaulty() {
		if !d.IsActive() {
			sb.SpareDisks = decr(sb.SpareDisks)
		} else {
			sb.ActiveDisks = decr(sb.ActiveDisks)
		}
		sb.WorkingDisks = decr(sb.WorkingDisks)
		sb.FailedDisks++
		d.State = types.DiskFaulty
	}

	a.infoMu.Lock()
	a.sb = &sb
	rdev.MarkFaulty()
	if a.syncTarget != nil && int(a.syncTarget.Number) == rdev.DescNr && a.syncCancel != nil {
		a.syncCancel()
	}
	a.infoMu.Unlock()
	a.log.WithFields(logrus.Fields{"device": rdev.Name, "slot": rdev.DescNr}).Warn("disk marked faulty")

	a.updateSuperblockLocked(true)
	a.mgr.wakeRecovery()
	return nil
}

// Open registers a user of the array device
func (a *Array) Open() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.openCount++
}

// Release drops a user registered by Open
func (a *Array) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openCount > 0 {
		a.openCount--
	}
}

// Mount records a filesystem mount of the array. Write mounts need a
// read-write array.
func (a *Array) Mount(write bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.pers == nil:
		return types.UserError("mount", fmt.Errorf("%w: %s", types.ErrNotRunning, a.name))
	case write && a.state != types.ArrayRunning:
		return types.UserError("mount", fmt.Errorf("%w: %s is read-only", types.ErrBusy, a.name))
	}
	if write {
		a.writeMounts++
	}
	return nil
}

// Unmount drops a mount recorded by Mount
func (a *Array) Unmount(write bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if write && a.writeMounts > 0 {
		a.writeMounts--
	}
}

func (m *Manager) checkChunkSize(sb types.SuperblockImage) error {
	const op = "run"
	chunk := sb.ChunkSize
	if chunk == 0 {
		if sb.Level == types.LevelLinear || sb.Level == types.LevelRaid1 {
			return nil
		}
		return types.Fatal(op, fmt.Errorf("%w: %s needs a chunk size", types.ErrInvalidChunkSize, types.LevelName(sb.Level)))
	}
	if chunk&(chunk-1) != 0 {
		return types.Fatal(op, fmt.Errorf("%w: %d is not a power of two", types.ErrInvalidChunkSize, chunk))
	}
	if chunk < MinChunkSize {
		return types.Fatal(op, fmt.Errorf("%w: %d below %d", types.ErrInvalidChunkSize, chunk, MinChunkSize))
	}
	if chunk > m.cfg.MaxChunkSize {
		return types.Fatal(op, fmt.Errorf("%w: %d above %d", types.ErrInvalidChunkSize, chunk, m.cfg.MaxChunkSize))
	}
	return nil
}

func (a *Array) bindLocked(rdev *registry.Rdev) error {
	if err := a.mgr.registry.Bind(rdev, a.minor); err != nil {
		return err
	}
	if sibling, ok := a.mgr.registry.FindByUnit(rdev.ID, a.minor); ok {
		a.log.WithFields(logrus.Fields{"device": rdev.Name, "sibling": sibling.Name}).
			Warn("device appears to be on the same physical disk as another member, protection against single-disk failure might be compromised")
	}
	a.infoMu.Lock()
	a.rdevs = append(a.rdevs, rdev)
	a.infoMu.Unlock()
	return nil
}

func (a *Array) bindPending(rdevs []*registry.Rdev) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rdev := range rdevs {
		if err := a.bindLocked(rdev); err != nil {
			return err
		}
	}
	return nil
}

// releaseRdev unbinds and exports a device no longer part of the array
func (a *Array) releaseRdev(rdev *registry.Rdev) {
	reg := a.mgr.registry
	if err := reg.Unbind(rdev); err != nil {
		a.log.WithError(err).WithField("device", rdev.Name).Error("failed to unbind device")
		return
	}
	a.exportQuietly(rdev)
}

func (a *Array) exportQuietly(rdev *registry.Rdev) {
	if rdev == nil {
		return
	}
	if err := a.mgr.registry.Export(rdev); err != nil {
		a.log.WithError(err).WithField("device", rdev.Name).Warn("failed to export device")
	}
}

func (a *Array) destroyLocked() {
	a.infoMu.RLock()
	rdevs := append([]*registry.Rdev(nil), a.rdevs...)
	a.infoMu.RUnlock()
	for _, rdev := range rdevs {
		a.releaseRdev(rdev)
	}

	a.infoMu.Lock()
	a.rdevs = nil
	a.sb = nil
	a.setStateLocked(types.ArrayDestroyed)
	a.infoMu.Unlock()
	a.mgr.remove(a)
}

func (a *Array) installLocked(sb types.SuperblockImage) {
	a.infoMu.Lock()
	a.sb = &sb
	a.infoMu.Unlock()
}

func (a *Array) bug(op, format string, args ...interface{}) error {
	err := fmt.Errorf("%w: "+format, append([]interface{}{types.ErrBug}, args...)...)
	a.log.WithField("bug", true).Error(err.Error())
	return types.Bug(op, err)
}

func without(rdevs []*registry.Rdev, drop *registry.Rdev) []*registry.Rdev {
	out := make([]*registry.Rdev, 0, len(rdevs))
	for _, rdev := range rdevs {
		if rdev != drop {
			out = append(out, rdev)
		}
	}
	return out
}

func decr(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return v - 1
}

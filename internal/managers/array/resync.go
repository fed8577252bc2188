package array

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// SyncOutcome is the result of a finished resync as seen by the array
type SyncOutcome int

const (
	// SyncCompleted means the resync ran to the end and was applied
	SyncCompleted SyncOutcome = iota
	// SyncInterrupted means the resync was cancelled; nothing was applied
	SyncInterrupted
	// SyncSpareFailed means the spare being rebuilt failed or went away
	SyncSpareFailed
	// SyncAbandoned means a full resync failed and stays pending
	SyncAbandoned
)

func (o SyncOutcome) String() string {
	switch o {
	case SyncCompleted:
		return "completed"
	case SyncInterrupted:
		return "interrupted"
	case SyncSpareFailed:
		return "spare_failed"
	case SyncAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of the state recovery decisions are made on
type Snapshot struct {
	Minor       int
	Name        string
	State       types.ArrayState
	Superblock  types.SuperblockImage
	Members     []types.MemberInfo
	Devices     []types.DeviceID
	Syncing     bool
	NeedsResync bool
	Cursor      uint64
	Speed       uint64
	Personality interfaces.Personality
}

// Snapshot returns the current recovery-relevant state
func (a *Array) Snapshot() Snapshot {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	s := Snapshot{
		Minor:       a.minor,
		Name:        a.name,
		State:       a.state,
		Members:     a.membersLocked(),
		Syncing:     a.syncing,
		NeedsResync: a.needsResync,
		Cursor:      a.cursor,
		Speed:       a.speed,
		Personality: a.pers,
	}
	if a.sb != nil {
		s.Superblock = *a.sb
	}
	for _, rdev := range a.rdevs {
		s.Devices = append(s.Devices, rdev.ID)
	}
	return s
}

// BeginSync reserves the array for a resync. A nil target requests a full
// resync; otherwise target is the spare slot to rebuild. The returned context
// is cancelled by Stop, by failing the target, and by EndSync.
func (a *Array) BeginSync(target *types.DiskDescriptor) (context.Context, error) {
	const op = "begin_sync"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pers == nil || a.state != types.ArrayRunning {
		return nil, types.UserError(op, fmt.Errorf("%w: %s", types.ErrNotRunning, a.name))
	}
	if a.syncing {
		return nil, types.UserError(op, fmt.Errorf("%w: %s is already syncing", types.ErrBusy, a.name))
	}

	var desc *types.DiskDescriptor
	if target != nil {
		hs, ok := a.pers.(interfaces.HotSwapper)
		if !ok {
			return nil, types.UserError(op, fmt.Errorf("%w: %s cannot rebuild spares", types.ErrNotSupported, a.pers.Name()))
		}
		slot := int(target.Number)
		if slot < 0 || slot >= types.MDSbDisks {
			return nil, types.UserError(op, fmt.Errorf("%w: slot %d", types.ErrInvalidArgument, slot))
		}
		cur := a.sb.Disks[slot]
		if cur.ID() != target.ID() || !cur.IsSpare() {
			return nil, types.UserError(op, fmt.Errorf("%w: slot %d is no longer a spare", types.ErrDeviceNotFound, slot))
		}
		if err := hs.DiskOp(a, &cur, interfaces.DiskOpSpareWrite); err != nil {
			return nil, types.UserError(op, err)
		}
		desc = &cur
	}

	ctx, cancel := context.WithCancel(a.runCtx)
	a.infoMu.Lock()
	a.syncing = true
	a.syncTarget = desc
	a.syncCancel = cancel
	a.cursor = 0
	a.speed = 0
	a.infoMu.Unlock()
	return ctx, nil
}

// AdmitSync blocks until the array's resync slot is free. Stop holds the
// slot while it tears the array down.
func (a *Array) AdmitSync(ctx context.Context) error {
	if err := a.syncSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInterrupted, err)
	}
	if err := ctx.Err(); err != nil {
		a.syncSem.Release(1)
		return fmt.Errorf("%w: %v", types.ErrInterrupted, err)
	}
	return nil
}

// ReleaseSync frees the slot taken by AdmitSync
func (a *Array) ReleaseSync() {
	a.syncSem.Release(1)
}

// SetResyncProgress publishes the resync cursor and speed in KiB/s
func (a *Array) SetResyncProgress(cursor, speed uint64) {
	a.infoMu.Lock()
	a.cursor = cursor
	a.speed = speed
	a.infoMu.Unlock()
	a.mgr.metrics.SetSyncProgress(a.name, cursor, speed)
}

// FlushMembers flushes every working member device
func (a *Array) FlushMembers() error {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	var errs []error
	for _, rdev := range a.rdevs {
		if rdev.Faulty {
			continue
		}
		if err := rdev.Device().Sync(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rdev.Name, err))
		}
	}
	return errors.Join(errs...)
}

// EndSync releases the reservation made by BeginSync and applies the result
// of the resync to the superblock
func (a *Array) EndSync(syncErr error) SyncOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.infoMu.Lock()
	target := a.syncTarget
	cancel := a.syncCancel
	a.syncing = false
	a.syncTarget = nil
	a.syncCancel = nil
	a.cursor = 0
	a.speed = 0
	a.infoMu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.mgr.metrics.SetSyncProgress(a.name, 0, 0)

	if a.state == types.ArrayDestroyed || a.pers == nil {
		return SyncInterrupted
	}
	interrupted := errors.Is(syncErr, types.ErrInterrupted) || errors.Is(syncErr, context.Canceled)

	if target == nil {
		switch {
		case syncErr == nil:
			a.infoMu.Lock()
			a.needsResync = false
			a.infoMu.Unlock()
			a.log.Info("resync done")
			a.updateSuperblockLocked(false)
			return SyncCompleted
		case interrupted:
			a.log.Info("resync interrupted")
			return SyncInterrupted
		default:
			a.log.WithError(syncErr).Error("resync failed")
			return SyncAbandoned
		}
	}

	slot := int(target.Number)
	log := a.log.WithField("slot", slot)
	hs := a.pers.(interfaces.HotSwapper)
	desc := a.sb.Disks[slot]
	rdev := a.rdevInSlotLocked(slot)

	if desc.IsFaulty() || rdev == nil || rdev.Faulty || desc.ID() != target.ID() {
		a.spareOp(hs, &desc, interfaces.DiskOpSpareInactive)
		log.Warn("spare went away during recovery")
		return SyncSpareFailed
	}
	if interrupted {
		a.spareOp(hs, &desc, interfaces.DiskOpSpareInactive)
		log.Info("recovery interrupted")
		return SyncInterrupted
	}
	if syncErr != nil {
		a.spareOp(hs, &desc, interfaces.DiskOpSpareInactive)
		log.WithError(syncErr).WithField("device", rdev.Name).Error("recovery failed, marking spare faulty")
		sb := *a.sb
		d := &sb.Disks[slot]
		d.State = types.DiskFaulty
		sb.SpareDisks = decr(sb.SpareDisks)
		sb.WorkingDisks = decr(sb.WorkingDisks)
		sb.FailedDisks++
		a.infoMu.Lock()
		a.sb = &sb
		rdev.MarkFaulty()
		a.infoMu.Unlock()
		a.updateSuperblockLocked(false)
		return SyncSpareFailed
	}

	a.spareOp(hs, &desc, interfaces.DiskOpSpareActive)
	role := a.activateSpareLocked(slot)
	log.WithFields(logrus.Fields{"device": rdev.Name, "role": role}).Info("recovery done, spare is now active")
	a.updateSuperblockLocked(false)
	return SyncCompleted
}

func (a *Array) spareOp(hs interfaces.HotSwapper, desc *types.DiskDescriptor, op interfaces.DiskOp) {
	if err := hs.DiskOp(a, desc, op); err != nil {
		a.log.WithError(err).WithField("op", op.String()).Warn("personality rejected spare operation")
	}
}

// activateSpareLocked moves the rebuilt spare in slot into the first role
// slot without an active member and returns that role
func (a *Array) activateSpareLocked(slot int) int {
	sb := *a.sb
	role := -1
	for t := 0; t < int(sb.RaidDisks); t++ {
		if !sb.Disks[t].IsActive() {
			role = t
			break
		}
	}
	if role < 0 {
		a.log.WithFields(logrus.Fields{"bug": true, "slot": slot}).Error("no role slot free for rebuilt spare")
		return slot
	}

	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	if role != slot {
		sb.Disks[role], sb.Disks[slot] = sb.Disks[slot], sb.Disks[role]
		sb.Disks[slot].Number = uint32(slot)
		sb.Disks[slot].RaidDisk = uint32(slot)
		for _, rdev := range a.rdevs {
			switch rdev.DescNr {
			case role:
				rdev.DescNr = slot
			case slot:
				rdev.DescNr = role
			}
		}
	}
	d := &sb.Disks[role]
	d.Number = uint32(role)
	d.RaidDisk = uint32(role)
	d.State = types.DiskActive | types.DiskSync
	sb.ActiveDisks++
	sb.SpareDisks = decr(sb.SpareDisks)
	a.sb = &sb
	return role
}

func (a *Array) rdevInSlotLocked(slot int) *registry.Rdev {
	for _, rdev := range a.rdevs {
		if rdev.DescNr == slot {
			return rdev
		}
	}
	return nil
}

// Package assembler reconciles the superblocks of devices claiming membership
// in one array into a single merged superblock.
//
// Analyze is pure: it works on copies of the candidates' superblocks and
// returns a plan describing the merged image, the surviving members and the
// evicted candidates. The caller applies the plan.
package assembler

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// MaxArrays bounds the array minor recorded in a superblock
const MaxArrays = 256

// Eviction reasons
const (
	ReasonInconsistent = "inconsistent"
	ReasonStale        = "non-fresh"
	ReasonFaulty       = "faulty"
	ReasonNoSlot       = "not in descriptor table"
)

// Candidate is one device offered for assembly
type Candidate struct {
	ID types.DeviceID
	// Superblock is the device's own superblock; nil when it has none
	Superblock    *types.SuperblockImage
	ChecksumValid bool
	Faulty        bool
}

// Member is a candidate that survived assembly
type Member struct {
	// Index is the candidate's position in the input
	Index  int
	DescNr int
	// Superblock is the member's own superblock after device-id migration
	Superblock types.SuperblockImage
}

// Eviction records a candidate removed from the array
type Eviction struct {
	Index  int
	ID     types.DeviceID
	Reason string
}

// Result is the outcome of a successful analysis
type Result struct {
	// Superblock is the merged array image
	Superblock    types.SuperblockImage
	FreshestIndex int
	Members       []Member
	Evicted       []Eviction
	// MissingDevices is set when a descriptor naming an unavailable device
	// was removed. The merged image must not be written back automatically.
	MissingDevices bool
	// Unclean is set when a redundant array was not shut down cleanly
	Unclean bool
}

type candidate struct {
	Candidate
	index  int
	sb     types.SuperblockImage
	events uint64
	descNr int
	alive  bool
}

// Analyze picks the freshest superblock among the candidates, evicts
// inconsistent, stale and faulty devices, and validates the surviving
// membership against the merged descriptor table.
func Analyze(log logrus.FieldLogger, candidates []Candidate) (*Result, error) {
	const op = "analyze"
	if len(candidates) == 0 {
		return nil, types.Fatal(op, types.ErrNoDevices)
	}

	res := &Result{}
	cands := make([]*candidate, len(candidates))

	evict := func(c *candidate, reason string) {
		c.alive = false
		res.Evicted = append(res.Evicted, Eviction{Index: c.index, ID: c.ID, Reason: reason})
		log.WithFields(logrus.Fields{"device": c.ID, "reason": reason}).Warn("kicking device from array")
	}
	live := func() []*candidate {
		var out []*candidate
		for _, c := range cands {
			if c.alive {
				out = append(out, c)
			}
		}
		return out
	}

	// Verify every candidate carries a usable superblock
	for i, in := range candidates {
		if in.Faulty {
			return nil, bug(log, op, "faulty device %s offered for assembly", in.ID)
		}
		if in.Superblock == nil {
			return nil, types.Fatal(op, fmt.Errorf("%w: %s", types.ErrNoSuperblock, in.ID))
		}
		sb := *in.Superblock
		if sb.Magic != types.SuperblockMagic {
			return nil, types.Fatal(op, fmt.Errorf("%w: %s", types.ErrBadMagic, in.ID))
		}
		if sb.MdMinor >= MaxArrays {
			return nil, types.Fatal(op, fmt.Errorf("%w: %s records invalid array minor %d", types.ErrInvalidArgument, in.ID, sb.MdMinor))
		}
		if sb.ThisDisk.Number >= types.MDSbDisks {
			return nil, types.Fatal(op, fmt.Errorf("%w: %s records invalid slot %d", types.ErrInvalidArgument, in.ID, sb.ThisDisk.Number))
		}
		cands[i] = &candidate{
			Candidate: in,
			index:     i,
			sb:        sb,
			events:    sb.Events,
			descNr:    int(sb.ThisDisk.Number),
			alive:     true,
		}
	}

	// The constant section must agree with the first candidate
	ref := cands[0].sb
	for _, c := range cands[1:] {
		if !ref.ConstantEqual(c.sb) {
			evict(c, ReasonInconsistent)
		}
	}

	// Freshness: a bad checksum costs one event
	var freshest *candidate
	outOfDate := false
	for _, c := range live() {
		if !c.ChecksumValid {
			if c.events > 0 {
				c.events--
			}
			c.sb.Events = c.events
			log.WithFields(logrus.Fields{"device": c.ID, "events": c.events}).
				WithError(types.ErrChecksumMismatch).Warn("penalizing candidate by one event")
		}
		log.WithFields(logrus.Fields{"device": c.ID, "events": c.events}).Debug("event counter")
		if freshest == nil {
			freshest = c
			continue
		}
		switch {
		case c.events > freshest.events:
			outOfDate = true
			freshest = c
		case c.events < freshest.events:
			outOfDate = true
		case c.ChecksumValid && !freshest.ChecksumValid:
			// prefer the intact image on a tie so the choice does not
			// depend on input order
			freshest = c
		}
	}
	if outOfDate {
		log.WithFields(logrus.Fields{"device": freshest.ID, "events": freshest.events}).Warn("superblocks out of date, using freshest")
	}
	res.FreshestIndex = freshest.index
	sb := freshest.sb

	// Kick devices more than one event behind. The freshest holds the
	// maximum count, so the difference cannot underflow.
	for _, c := range live() {
		if sb.Events-c.events > 1 {
			evict(c, ReasonStale)
		}
	}

	// Follow devices that were renumbered since their superblock was written
	for _, c := range live() {
		old := c.sb.ThisDisk.ID()
		if c.ID == old {
			continue
		}
		if sb.Events-c.events > 1 {
			continue
		}
		if sb.Disks[c.descNr].ID() != old {
			return nil, bug(log, op, "slot %d of merged superblock does not record %s", c.descNr, old)
		}
		log.WithFields(logrus.Fields{"device": c.ID, "former": old}).Warn("device id has changed since last import")
		sb.Disks[c.descNr].SetID(c.ID)
		c.sb.ThisDisk.SetID(c.ID)
	}

	// Drop faulty and unavailable descriptors
	for i := range sb.Disks {
		desc := sb.Disks[i]
		if desc.IsFaulty() {
			found := false
			for _, c := range live() {
				if c.descNr == int(desc.Number) {
					evict(c, ReasonFaulty)
					found = true
					break
				}
			}
			if !found {
				if desc.IsEmpty() {
					continue
				}
				log.WithFields(logrus.Fields{"device": desc.ID(), "slot": i}).Warn("removing former faulty device")
			}
			sb.RemoveDescriptor(i)
			continue
		}
		if desc.IsEmpty() {
			continue
		}
		found := false
		for _, c := range live() {
			if c.descNr == int(desc.Number) {
				found = true
				break
			}
		}
		if found {
			continue
		}
		log.WithFields(logrus.Fields{"device": desc.ID(), "slot": i}).Warn("former device is unavailable, removing from array")
		sb.RemoveDescriptor(i)
		res.MissingDevices = true
	}

	// Devices whose slot the merged table no longer describes do not belong
	for _, c := range live() {
		if sb.Disks[c.descNr].IsEmpty() {
			evict(c, ReasonNoSlot)
		}
	}

	// Every described device must be bound exactly once
	members := live()
	for i := range sb.Disks {
		desc := sb.Disks[i]
		if desc.IsEmpty() {
			continue
		}
		if desc.IsFaulty() {
			return nil, bug(log, op, "faulty descriptor %d survived reconciliation", i)
		}
		var match *candidate
		for _, c := range members {
			if c.ID == desc.ID() {
				match = c
				break
			}
		}
		if match == nil {
			return nil, bug(log, op, "no bound device for slot %d (%s)", i, desc.ID())
		}
		if match.descNr != i {
			return nil, bug(log, op, "device %s claims slot %d but slot %d records it", match.ID, match.descNr, i)
		}
	}
	for i, a := range members {
		for _, b := range members[i+1:] {
			if a.descNr == b.descNr {
				return nil, bug(log, op, "devices %s and %s share slot %d", a.ID, b.ID, a.descNr)
			}
			if a.ID == b.ID {
				return nil, bug(log, op, "device %s bound twice", a.ID)
			}
		}
	}

	if sb.MajorVersion != types.MajorVersion ||
		sb.MinorVersion < types.MinSupportedMinor || sb.MinorVersion > types.MaxSupportedMinor {
		return nil, types.Fatal(op, fmt.Errorf("%w: %d.%d.%d", types.ErrUnsupportedVersion,
			sb.MajorVersion, sb.MinorVersion, sb.PatchVersion))
	}

	if sb.State != types.SbClean && types.IsRedundantLevel(sb.Level) {
		log.WithField("level", types.LevelName(sb.Level)).Warn("array was not cleanly shut down, resync needed")
		res.Unclean = true
	}

	res.Superblock = sb
	for _, c := range members {
		res.Members = append(res.Members, Member{Index: c.index, DescNr: c.descNr, Superblock: c.sb})
	}
	return res, nil
}

// bug reports an invariant violation. It aborts the assembly like any other
// fatal condition and matches types.ErrBug.
func bug(log logrus.FieldLogger, op, format string, args ...interface{}) error {
	err := fmt.Errorf("%w: "+format, append([]interface{}{types.ErrBug}, args...)...)
	log.WithField("bug", true).Error(err.Error())
	return types.Fatal(op, err)
}

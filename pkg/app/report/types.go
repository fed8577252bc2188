package report

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-mdraid/internal/types"
	"github.com/deploymenttheory/go-mdraid/pkg/services"
)

// ExamineResponse lists the superblocks read from devices
type ExamineResponse struct {
	Devices []SuperblockReport `json:"devices" yaml:"devices"`
	Errors  []DeviceError      `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// DeviceError records a device that could not be examined
type DeviceError struct {
	Device string `json:"device" yaml:"device"`
	Error  string `json:"error" yaml:"error"`
}

// SuperblockReport is the printable form of one device superblock
type SuperblockReport struct {
	Device        string             `json:"device" yaml:"device"`
	DeviceID      string             `json:"device_id" yaml:"device_id"`
	Version       string             `json:"version" yaml:"version"`
	UUID          string             `json:"uuid" yaml:"uuid"`
	Level         string             `json:"level" yaml:"level"`
	MdMinor       uint32             `json:"md_minor" yaml:"md_minor"`
	Created       time.Time          `json:"created" yaml:"created"`
	Updated       time.Time          `json:"updated" yaml:"updated"`
	State         string             `json:"state" yaml:"state"`
	Persistent    bool               `json:"persistent" yaml:"persistent"`
	SizeBlocks    uint64             `json:"size_blocks" yaml:"size_blocks"`
	Size          string             `json:"size" yaml:"size"`
	ChunkSize     uint32             `json:"chunk_size" yaml:"chunk_size"`
	RaidDisks     uint32             `json:"raid_disks" yaml:"raid_disks"`
	TotalDisks    uint32             `json:"total_disks" yaml:"total_disks"`
	ActiveDisks   uint32             `json:"active_disks" yaml:"active_disks"`
	WorkingDisks  uint32             `json:"working_disks" yaml:"working_disks"`
	FailedDisks   uint32             `json:"failed_disks" yaml:"failed_disks"`
	SpareDisks    uint32             `json:"spare_disks" yaml:"spare_disks"`
	Events        uint64             `json:"events" yaml:"events"`
	Checksum      string             `json:"checksum" yaml:"checksum"`
	ChecksumValid bool               `json:"checksum_valid" yaml:"checksum_valid"`
	ThisDisk      DescriptorReport   `json:"this_disk" yaml:"this_disk"`
	Disks         []DescriptorReport `json:"disks" yaml:"disks"`
}

// DescriptorReport is one slot of the device table
type DescriptorReport struct {
	Number   uint32 `json:"number" yaml:"number"`
	Device   string `json:"device" yaml:"device"`
	RaidDisk uint32 `json:"raid_disk" yaml:"raid_disk"`
	State    string `json:"state" yaml:"state"`
}

// ArraysResponse lists array states after a command
type ArraysResponse struct {
	Arrays []ArrayReport `json:"arrays" yaml:"arrays"`
}

// ArrayReport is the printable form of an array
type ArrayReport struct {
	Name        string         `json:"name" yaml:"name"`
	UUID        string         `json:"uuid" yaml:"uuid"`
	Level       string         `json:"level" yaml:"level"`
	State       string         `json:"state" yaml:"state"`
	Clean       bool           `json:"clean" yaml:"clean"`
	Capacity    uint64         `json:"capacity_blocks" yaml:"capacity_blocks"`
	Size        string         `json:"size" yaml:"size"`
	ChunkSize   uint32         `json:"chunk_size" yaml:"chunk_size"`
	RaidDisks   uint32         `json:"raid_disks" yaml:"raid_disks"`
	ActiveDisks uint32         `json:"active_disks" yaml:"active_disks"`
	FailedDisks uint32         `json:"failed_disks" yaml:"failed_disks"`
	SpareDisks  uint32         `json:"spare_disks" yaml:"spare_disks"`
	Events      uint64         `json:"events" yaml:"events"`
	NeedsResync bool           `json:"needs_resync" yaml:"needs_resync"`
	Resync      *ResyncReport  `json:"resync,omitempty" yaml:"resync,omitempty"`
	Members     []MemberReport `json:"members" yaml:"members"`
	Status      string         `json:"status" yaml:"status"`
}

// ResyncReport is the progress of a running resync
type ResyncReport struct {
	Completed uint64 `json:"completed_blocks" yaml:"completed_blocks"`
	Total     uint64 `json:"total_blocks" yaml:"total_blocks"`
	Percent   int    `json:"percent" yaml:"percent"`
	SpeedKiB  uint64 `json:"speed_kib" yaml:"speed_kib"`
}

// MemberReport is one member device of an array
type MemberReport struct {
	Device     string `json:"device" yaml:"device"`
	DeviceID   string `json:"device_id" yaml:"device_id"`
	Slot       int    `json:"slot" yaml:"slot"`
	Role       string `json:"role" yaml:"role"`
	SizeBlocks uint64 `json:"size_blocks" yaml:"size_blocks"`
}

// NewSuperblockReport converts a decoded superblock into its report form
func NewSuperblockReport(info *services.SuperblockInfo) SuperblockReport {
	sb := info.Superblock
	r := SuperblockReport{
		Device:        info.DevicePath,
		DeviceID:      info.Device.String(),
		Version:       fmt.Sprintf("%d.%02d.%d", sb.MajorVersion, sb.MinorVersion, sb.PatchVersion),
		UUID:          sb.UUID().String(),
		Level:         types.LevelName(sb.Level),
		MdMinor:       sb.MdMinor,
		Created:       time.Unix(int64(sb.Ctime), 0).UTC(),
		Updated:       time.Unix(int64(sb.Utime), 0).UTC(),
		State:         arrayStateString(sb),
		Persistent:    sb.IsPersistent(),
		SizeBlocks:    uint64(sb.Size),
		Size:          humanize.IBytes(uint64(sb.Size) * types.BlockSize),
		ChunkSize:     sb.ChunkSize,
		RaidDisks:     sb.RaidDisks,
		TotalDisks:    sb.NrDisks,
		ActiveDisks:   sb.ActiveDisks,
		WorkingDisks:  sb.WorkingDisks,
		FailedDisks:   sb.FailedDisks,
		SpareDisks:    sb.SpareDisks,
		Events:        sb.Events,
		Checksum:      fmt.Sprintf("0x%08x", info.StoredChecksum),
		ChecksumValid: info.ChecksumValid,
		ThisDisk:      newDescriptorReport(sb.ThisDisk),
	}
	for i := 0; i < types.MDSbDisks; i++ {
		d := sb.Disks[i]
		if d.IsEmpty() && d.State == 0 && i >= int(sb.NrDisks) {
			continue
		}
		r.Disks = append(r.Disks, newDescriptorReport(d))
	}
	return r
}

func newDescriptorReport(d types.DiskDescriptor) DescriptorReport {
	return DescriptorReport{
		Number:   d.Number,
		Device:   d.ID().String(),
		RaidDisk: d.RaidDisk,
		State:    d.StateString(),
	}
}

func arrayStateString(sb types.SuperblockImage) string {
	state := "active"
	if sb.IsClean() {
		state = "clean"
	}
	if sb.State&types.SbErrors != 0 {
		state += ", errors"
	}
	return state
}

// NewArrayReport converts an array status into its report form
func NewArrayReport(st services.ArrayStatus) ArrayReport {
	r := ArrayReport{
		Name:        st.Name,
		UUID:        st.UUID,
		Level:       types.LevelName(st.Level),
		State:       st.State.String(),
		Clean:       st.Clean,
		Capacity:    st.Capacity,
		Size:        humanize.IBytes(st.Capacity * types.BlockSize),
		ChunkSize:   st.ChunkSize,
		RaidDisks:   st.RaidDisks,
		ActiveDisks: st.Active,
		FailedDisks: st.Failed,
		SpareDisks:  st.Spare,
		Events:      st.Events,
		NeedsResync: st.NeedsResync,
		Status:      st.Status,
	}
	if st.Syncing {
		r.Resync = &ResyncReport{
			Completed: st.Cursor,
			Total:     st.SizeBlocks,
			SpeedKiB:  st.Speed,
		}
		if st.SizeBlocks > 0 {
			r.Resync.Percent = int(st.Cursor * 100 / st.SizeBlocks)
		}
	}

	for _, m := range st.Members {
		r.Members = append(r.Members, MemberReport{
			Device:     m.DevicePath,
			DeviceID:   m.Device.String(),
			Slot:       m.Slot,
			Role:       memberRole(st, m),
			SizeBlocks: m.SizeBlocks,
		})
	}
	return r
}

// memberRole describes what the member's descriptor slot is used for
func memberRole(st services.ArrayStatus, m services.MemberStatus) string {
	if m.Faulty {
		return "faulty"
	}
	if m.Slot < 0 || m.Slot >= len(st.Descriptors) {
		return "unassigned"
	}
	d := st.Descriptors[m.Slot]
	switch {
	case d.IsFaulty():
		return "faulty"
	case d.IsActive():
		return fmt.Sprintf("active %d", d.RaidDisk)
	default:
		return "spare"
	}
}

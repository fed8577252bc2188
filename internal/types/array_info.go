package types

// ArrayState is the lifecycle state of an array.
type ArrayState int

const (
	// ArrayUnassembled has neither a superblock nor a personality.
	ArrayUnassembled ArrayState = iota
	// ArrayStopped has a superblock but is not running.
	ArrayStopped
	ArrayRunning
	ArrayReadOnly
	// ArrayDestroyed is terminal; the array was freed on a full stop.
	ArrayDestroyed
)

func (s ArrayState) String() string {
	switch s {
	case ArrayUnassembled:
		return "unassembled"
	case ArrayStopped:
		return "stopped"
	case ArrayRunning:
		return "running"
	case ArrayReadOnly:
		return "read-only"
	case ArrayDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ArrayInfo carries the array-wide superblock fields exchanged with the
// control surface (set_descriptor input, query-array-info output).
type ArrayInfo struct {
	MajorVersion  uint32 `json:"major_version" yaml:"major_version"`
	MinorVersion  uint32 `json:"minor_version" yaml:"minor_version"`
	PatchVersion  uint32 `json:"patch_version" yaml:"patch_version"`
	Ctime         uint32 `json:"ctime" yaml:"ctime"`
	Level         int32  `json:"level" yaml:"level"`
	Size          uint32 `json:"size" yaml:"size"`
	NrDisks       uint32 `json:"nr_disks" yaml:"nr_disks"`
	RaidDisks     uint32 `json:"raid_disks" yaml:"raid_disks"`
	MdMinor       uint32 `json:"md_minor" yaml:"md_minor"`
	NotPersistent uint32 `json:"not_persistent" yaml:"not_persistent"`
	Utime         uint32 `json:"utime" yaml:"utime"`
	State         uint32 `json:"state" yaml:"state"`
	ActiveDisks   uint32 `json:"active_disks" yaml:"active_disks"`
	WorkingDisks  uint32 `json:"working_disks" yaml:"working_disks"`
	FailedDisks   uint32 `json:"failed_disks" yaml:"failed_disks"`
	SpareDisks    uint32 `json:"spare_disks" yaml:"spare_disks"`
	Layout        uint32 `json:"layout" yaml:"layout"`
	ChunkSize     uint32 `json:"chunk_size" yaml:"chunk_size"`
}

// ArrayInfoFrom extracts the array-wide fields of sb.
func ArrayInfoFrom(sb SuperblockImage) ArrayInfo {
	return ArrayInfo{
		MajorVersion:  sb.MajorVersion,
		MinorVersion:  sb.MinorVersion,
		PatchVersion:  sb.PatchVersion,
		Ctime:         sb.Ctime,
		Level:         sb.Level,
		Size:          sb.Size,
		NrDisks:       sb.NrDisks,
		RaidDisks:     sb.RaidDisks,
		MdMinor:       sb.MdMinor,
		NotPersistent: sb.NotPersistent,
		Utime:         sb.Utime,
		State:         sb.State,
		ActiveDisks:   sb.ActiveDisks,
		WorkingDisks:  sb.WorkingDisks,
		FailedDisks:   sb.FailedDisks,
		SpareDisks:    sb.SpareDisks,
		Layout:        sb.Layout,
		ChunkSize:     sb.ChunkSize,
	}
}

// DiskInfo carries one descriptor slot exchanged with the control surface.
type DiskInfo struct {
	Number   uint32   `json:"number" yaml:"number"`
	Device   DeviceID `json:"device" yaml:"device"`
	RaidDisk uint32   `json:"raid_disk" yaml:"raid_disk"`
	State    uint32   `json:"state" yaml:"state"`
}

// Descriptor converts the info into a table slot.
func (d DiskInfo) Descriptor() DiskDescriptor {
	return DiskDescriptor{
		Number:   d.Number,
		Major:    d.Device.Major,
		Minor:    d.Device.Minor,
		RaidDisk: d.RaidDisk,
		State:    d.State,
	}
}

// DiskInfoFrom converts a table slot into its control-surface form.
func DiskInfoFrom(d DiskDescriptor) DiskInfo {
	return DiskInfo{Number: d.Number, Device: d.ID(), RaidDisk: d.RaidDisk, State: d.State}
}

// MemberInfo describes one bound member device of an array.
type MemberInfo struct {
	Device DeviceID
	// DescNr is the descriptor slot the member occupies, or -1.
	DescNr int
	Faulty bool
	// Size is the usable data size in blocks.
	Size uint64
	// SbOffset is the superblock location in blocks.
	SbOffset uint64
}

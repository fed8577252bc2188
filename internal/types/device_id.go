package types

import "fmt"

// PartitionsPerUnit is the number of minor numbers a physical disk spans.
// Devices whose minors differ only in the low bits are partitions of the same
// physical unit.
const PartitionsPerUnit = 16

// DeviceID identifies a block device by its major/minor pair.
type DeviceID struct {
	Major uint32
	Minor uint32
}

// IsZero reports whether the id names no device.
func (d DeviceID) IsZero() bool { return d.Major == 0 && d.Minor == 0 }

// Unit returns the id of the physical disk containing the device.
func (d DeviceID) Unit() DeviceID {
	return DeviceID{Major: d.Major, Minor: d.Minor &^ (PartitionsPerUnit - 1)}
}

// SameUnit reports whether both devices live on the same physical disk.
func (d DeviceID) SameUnit(other DeviceID) bool { return d.Unit() == other.Unit() }

func (d DeviceID) String() string { return fmt.Sprintf("%d:%d", d.Major, d.Minor) }

// ParseDeviceID parses the "major:minor" form produced by String.
func ParseDeviceID(s string) (DeviceID, error) {
	var d DeviceID
	if _, err := fmt.Sscanf(s, "%d:%d", &d.Major, &d.Minor); err != nil {
		return DeviceID{}, fmt.Errorf("invalid device id %q: %w", s, err)
	}
	return d, nil
}

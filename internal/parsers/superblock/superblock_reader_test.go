package superblock

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// createTestSuperblock builds a populated three disk image
func createTestSuperblock() types.SuperblockImage {
	sb := types.SuperblockImage{
		Magic:         types.SuperblockMagic,
		MajorVersion:  types.MajorVersion,
		MinorVersion:  types.MinorVersion,
		PatchVersion:  types.PatchVersion,
		SetUUID:       [4]uint32{0x01020304, 0x05060708, 0x090a0b0c, 0x0d0e0f10},
		Ctime:         1700000000,
		Level:         types.LevelRaid1,
		Size:          4096,
		NrDisks:       3,
		RaidDisks:     2,
		MdMinor:       7,
		Utime:         1700000100,
		State:         types.SbClean,
		ActiveDisks:   2,
		WorkingDisks:  3,
		SpareDisks:    1,
		Events:        0x0000000500000007,
		Layout:        0,
		ChunkSize:     65536,
	}
	for i := 0; i < 3; i++ {
		sb.Disks[i] = types.DiskDescriptor{Number: uint32(i), Major: 8, Minor: uint32(16 * (i + 1)), RaidDisk: uint32(i)}
		if i < 2 {
			sb.Disks[i].State = types.DiskActive | types.DiskSync
		}
	}
	sb.ThisDisk = sb.Disks[1]
	return sb
}

func TestDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.SuperblockImage)
	}{
		{"populated raid1", func(*types.SuperblockImage) {}},
		{"linear negative level", func(sb *types.SuperblockImage) { sb.Level = types.LevelLinear }},
		{"events high word only", func(sb *types.SuperblockImage) { sb.Events = 1 << 40 }},
		{"max events", func(sb *types.SuperblockImage) { sb.Events = ^uint64(0) }},
		{"non persistent", func(sb *types.SuperblockImage) { sb.NotPersistent = 1 }},
		{"full table", func(sb *types.SuperblockImage) {
			for i := range sb.Disks {
				sb.Disks[i] = types.DiskDescriptor{Number: uint32(i), Major: 9, Minor: uint32(i + 1), RaidDisk: uint32(i), State: types.DiskActive}
			}
			sb.ThisDisk = sb.Disks[types.MDSbDisks-1]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := createTestSuperblock()
			tt.mutate(&sb)
			sealed := Seal(sb)

			decoded, valid, err := Decode(Encode(sealed))
			require.NoError(t, err)
			assert.True(t, valid, "checksum should validate after encode")
			assert.Equal(t, sealed, decoded, "decode(encode(x)) should reproduce x")
			assert.Equal(t, decoded.Checksum, ChecksumOf(decoded), "recomputed checksum should equal embedded checksum")
		})
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data := Encode(createTestSuperblock())
	binary.LittleEndian.PutUint32(data[0:4], 0xdeadbeef)

	_, err := NewSuperblockReader(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBadMagic)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := NewSuperblockReader(make([]byte, 100))
	assert.ErrorIs(t, err, types.ErrNoSuperblock)
}

func TestDecodeChecksumMismatchIsNotFatal(t *testing.T) {
	data := Encode(createTestSuperblock())
	// Flip a bit in the utime word
	data[types.WordUtime*4] ^= 0x01

	r, err := NewSuperblockReader(data)
	require.NoError(t, err, "checksum mismatch must not fail decode")
	assert.False(t, r.ChecksumValid())
	assert.NotEqual(t, r.StoredChecksum(), r.ComputedChecksum())
}

func TestChecksumIgnoresChecksumWord(t *testing.T) {
	data := Encode(createTestSuperblock())
	before := Checksum(data)
	binary.LittleEndian.PutUint32(data[types.WordChecksum*4:], 0x12345678)
	assert.Equal(t, before, Checksum(data))
}

func TestChecksumFoldsCarries(t *testing.T) {
	data := make([]byte, types.SuperblockBytes)
	binary.LittleEndian.PutUint32(data[0:4], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[4:8], 0x00000002)
	// 0xFFFFFFFF + 2 = 0x1_00000001, folded to 0x00000002
	assert.Equal(t, uint32(0x00000002), Checksum(data))
}

func TestEventsWordOrder(t *testing.T) {
	sb := createTestSuperblock()
	sb.Events = 0x1122334455667788
	data := Encode(sb)
	assert.Equal(t, uint32(0x55667788), binary.LittleEndian.Uint32(data[types.WordEventsLo*4:]))
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(data[types.WordEventsHi*4:]))
}

func TestOffset(t *testing.T) {
	tests := []struct {
		name       string
		size       uint64
		persistent bool
		want       uint64
	}{
		{"aligned", 1024, true, 960},
		{"unaligned rounds down", 1000, true, 896},
		{"exactly one reserved area", 64, true, 0},
		{"too small", 10, true, 0},
		{"non persistent uses whole device", 1000, false, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Offset(tt.size, tt.persistent))
		})
	}
}

func TestDataSizeRoundsToChunk(t *testing.T) {
	// 1000 blocks -> offset 896, 64 KiB chunk = 64 blocks -> 896
	assert.Equal(t, uint64(896), DataSize(1000, true, 65536))
	// 300 blocks -> offset 192, 256 KiB chunk = 256 blocks -> 0
	assert.Equal(t, uint64(0), DataSize(300, true, 256*1024))
	assert.Equal(t, uint64(192), DataSize(300, true, 0))
}

package device

import "math"

// Control op codes.
const (
	GetDeviceSize    uint32 = 1
	GetGeometry      uint32 = 7
	GetPartitionInfo uint32 = 9
	SetPartition     uint32 = 10
	FlushDriveCache  uint32 = 20
	GetPathForDevice uint32 = 21
	Trim             uint32 = 25

	// Codes of the old driver ABI that are no longer honoured.
	GetNextOpenDevice uint32 = 1000
	AddFixedDriver    uint32 = 1001
	RemoveFixedDriver uint32 = 1002
)

// Device types reported in Geometry.
const (
	TypeDisk uint8 = 0x00
	TypeCD   uint8 = 0x05
)

// Geometry is the argument of GetGeometry.
type Geometry struct {
	BytesPerSector         uint32
	SectorsPerTrack        uint32
	CylinderCount          uint32
	HeadCount              uint32
	DeviceType             uint8
	Removable              bool
	ReadOnly               bool
	WriteOnce              bool
	BytesPerPhysicalSector uint32
}

// Size returns the capacity in bytes.
func (g *Geometry) Size() int64 {
	return int64(g.HeadCount) * int64(g.CylinderCount) *
		int64(g.SectorsPerTrack) * int64(g.BytesPerSector)
}

// SetBlocks sets g to describe blockCount blocks of blockSize bytes with a
// single cylinder.
func (g *Geometry) SetBlocks(blockCount uint64, blockSize uint32) {
	if blockCount > math.MaxUint32 {
		g.HeadCount = uint32((blockCount + math.MaxUint32 - 1) / math.MaxUint32)
	} else {
		g.HeadCount = 1
	}
	g.CylinderCount = 1
	g.SectorsPerTrack = uint32(blockCount / uint64(g.HeadCount))
	g.BytesPerSector = blockSize
}

// PartitionInfo is the argument of GetPartitionInfo.
type PartitionInfo struct {
	Offset           int64
	Size             int64
	LogicalBlockSize int32
	Session          int32
	Partition        int32
	Device           string
}

// Range is one trim range.
type Range struct {
	Offset uint64
	Size   uint64
}

// TrimData is the argument of Trim. Devices add the number of bytes
// actually trimmed to TrimmedSize.
type TrimData struct {
	Ranges      []Range
	TrimmedSize uint64
}

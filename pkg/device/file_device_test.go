package device

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackingFile(t *testing.T, size int) (afero.Fs, []byte) {
	t.Helper()
	fs := afero.NewMemMapFs()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, afero.WriteFile(fs, "/images/disk.img", data, 0o644))
	return fs, data
}

func TestFileDeviceReadWrite(t *testing.T) {
	fs, data := newBackingFile(t, 4096)
	d := NewFileDevice(fs, "/images/disk.img", false)

	require.NoError(t, d.InitDevice(context.Background()))
	defer d.UninitDevice(context.Background())

	c, err := d.Open("disk", os.O_RDWR)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := d.Read(c, 100, buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, data[100:116], buf)

	n, err = d.Write(c, 4090, bytes.Repeat([]byte{0xaa}, 10))
	require.NoError(t, err)
	assert.Equal(t, 6, n, "writes stop at the end of the file")

	n, err = d.Read(c, 4096, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileDeviceReadOnly(t *testing.T) {
	fs, _ := newBackingFile(t, 1024)
	d := NewFileDevice(fs, "/images/disk.img", true)

	assert.Equal(t, HasRead, d.Capabilities())
	require.NoError(t, d.InitDevice(context.Background()))
	defer d.UninitDevice(context.Background())

	_, err := d.Open("disk", os.O_RDWR)
	assert.ErrorIs(t, err, ErrNotAllowed)

	c, err := d.Open("disk", os.O_RDONLY)
	require.NoError(t, err)
	_, err = d.Write(c, 0, []byte{1})
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestFileDeviceGeometry(t *testing.T) {
	fs, _ := newBackingFile(t, 8*FileBlockSize)
	d := NewFileDevice(fs, "/images/disk.img", false)
	require.NoError(t, d.InitDevice(context.Background()))
	defer d.UninitDevice(context.Background())

	var g Geometry
	require.NoError(t, d.Control(nil, GetGeometry, &g))
	assert.Equal(t, uint32(FileBlockSize), g.BytesPerSector)
	assert.Equal(t, uint32(8), g.SectorsPerTrack)
	assert.Equal(t, int64(8*FileBlockSize), g.Size())

	assert.ErrorIs(t, d.Control(nil, GetGeometry, nil), ErrBadValue)
	assert.ErrorIs(t, d.Control(nil, SetPartition, nil), ErrBadValue)
}

func TestFileDeviceTrim(t *testing.T) {
	fs, _ := newBackingFile(t, 1024)
	d := NewFileDevice(fs, "/images/disk.img", false)
	require.NoError(t, d.InitDevice(context.Background()))
	defer d.UninitDevice(context.Background())

	td := &TrimData{Ranges: []Range{{Offset: 10, Size: 20}, {Offset: 1020, Size: 100}, {Offset: 4096, Size: 1}}}
	require.NoError(t, d.Control(nil, Trim, td))
	assert.Equal(t, uint64(24), td.TrimmedSize)

	buf := make([]byte, 20)
	_, err := d.Read(nil, 10, buf)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 20), buf)
}

func TestFileDeviceMissingFile(t *testing.T) {
	d := NewFileDevice(afero.NewMemMapFs(), "/nope", false)
	assert.Error(t, d.InitDevice(context.Background()))

	_, err := d.Read(nil, 0, make([]byte, 1))
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestOutputOnly(t *testing.T) {
	assert.True(t, OutputOnly(EventError))
	assert.True(t, OutputOnly(EventDisconnected))
	assert.False(t, OutputOnly(EventRead))
	assert.False(t, OutputOnly(EventWrite))
}

func TestGeometrySetBlocks(t *testing.T) {
	var g Geometry
	g.SetBlocks(1<<33, 512)
	assert.Equal(t, uint32(3), g.HeadCount)
	assert.Equal(t, uint32(1), g.CylinderCount)
	assert.Equal(t, uint32((1<<33)/3), g.SectorsPerTrack)
}

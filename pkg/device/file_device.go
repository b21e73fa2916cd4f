package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// FileBlockSize is the logical block size FileDevice reports.
const FileBlockSize = 512

// FileDevice exposes a regular file as a fixed size block device. The file
// is opened on InitDevice and closed on UninitDevice; its size is sampled
// at open time and does not grow through writes.
type FileDevice struct {
	Base

	fs       afero.Fs
	path     string
	readOnly bool

	mu   sync.Mutex
	file afero.File
	size int64
}

type fileCookie struct {
	mode int
}

// NewFileDevice creates a loop device over path in fs.
func NewFileDevice(fs afero.Fs, path string, readOnly bool) *FileDevice {
	return &FileDevice{fs: fs, path: path, readOnly: readOnly}
}

// Path returns the backing file path.
func (d *FileDevice) Path() string { return d.path }

// Capabilities implements Device.
func (d *FileDevice) Capabilities() Capability {
	if d.readOnly {
		return HasRead
	}
	return HasRead | HasWrite
}

// InitDevice opens the backing file.
func (d *FileDevice) InitDevice(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	flag := os.O_RDWR
	if d.readOnly {
		flag = os.O_RDONLY
	}
	f, err := d.fs.OpenFile(d.path, flag, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", d.path, err)
	}
	if info.IsDir() {
		f.Close()
		return fmt.Errorf("%w: %s is a directory", ErrBadValue, d.path)
	}
	d.file = f
	d.size = info.Size()
	return nil
}

// UninitDevice closes the backing file.
func (d *FileDevice) UninitDevice(context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

// Open implements Device.
func (d *FileDevice) Open(_ string, mode int) (Cookie, error) {
	if d.readOnly && mode&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, ErrNotAllowed
	}
	return &fileCookie{mode: mode}, nil
}

// Read implements Device.
func (d *FileDevice) Read(_ Cookie, pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return 0, ErrNoDevice
	}
	if pos >= d.size {
		return 0, nil
	}
	if remain := d.size - pos; int64(len(buf)) > remain {
		buf = buf[:remain]
	}
	n, err := d.file.ReadAt(buf, pos)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Write implements Device.
func (d *FileDevice) Write(c Cookie, pos int64, buf []byte) (int, error) {
	if d.readOnly {
		return 0, ErrNotAllowed
	}
	if fc, ok := c.(*fileCookie); ok && fc.mode&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, ErrNotAllowed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return 0, ErrNoDevice
	}
	if pos >= d.size {
		return 0, nil
	}
	if remain := d.size - pos; int64(len(buf)) > remain {
		buf = buf[:remain]
	}
	return d.file.WriteAt(buf, pos)
}

// Control implements GetGeometry, GetDeviceSize, FlushDriveCache and Trim.
func (d *FileDevice) Control(_ Cookie, op uint32, arg any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrNoDevice
	}

	switch op {
	case GetGeometry:
		g, ok := arg.(*Geometry)
		if !ok {
			return ErrBadValue
		}
		*g = Geometry{ReadOnly: d.readOnly, BytesPerPhysicalSector: FileBlockSize}
		g.SetBlocks(uint64(d.size/FileBlockSize), FileBlockSize)
		return nil

	case GetDeviceSize:
		size, ok := arg.(*int64)
		if !ok {
			return ErrBadValue
		}
		*size = d.size
		return nil

	case FlushDriveCache:
		return d.file.Sync()

	case Trim:
		td, ok := arg.(*TrimData)
		if !ok {
			return ErrBadValue
		}
		if d.readOnly {
			return ErrNotAllowed
		}
		return d.trimLocked(td)
	}
	return ErrBadValue
}

// trimLocked zero fills the ranges that lie within the file.
func (d *FileDevice) trimLocked(td *TrimData) error {
	zeros := make([]byte, 64*1024)
	for _, r := range td.Ranges {
		if r.Offset >= uint64(d.size) {
			continue
		}
		size := min(r.Size, uint64(d.size)-r.Offset)
		for done := uint64(0); done < size; {
			chunk := min(size-done, uint64(len(zeros)))
			n, err := d.file.WriteAt(zeros[:chunk], int64(r.Offset+done))
			done += uint64(n)
			td.TrimmedSize += uint64(n)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

var _ Device = (*FileDevice)(nil)

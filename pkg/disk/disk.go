package disk

import (
	"errors"
	"fmt"
	"os"

	"github.com/tinix-os/tinix/pkg/elog"
)

// Fixed disk geometry.
const (
	// BlockSize is the unit of all disk I/O, in bytes.
	BlockSize = 4096

	// TotalBlocks is the number of blocks in a disk image.
	TotalBlocks = 1024

	// ImageSize is the exact length of a disk image file.
	ImageSize = int64(TotalBlocks) * BlockSize

	// DefaultImageName is the image file used when no path is configured.
	DefaultImageName = "disk.img"
)

var (
	// ErrBlockOutOfRange is returned when a block id is beyond the disk geometry.
	ErrBlockOutOfRange = errors.New("block id out of range")

	// ErrBadBufferSize is returned when an I/O buffer is not exactly one block.
	ErrBadBufferSize = errors.New("buffer length must equal the block size")
)

// Disk provides block-granularity I/O over a host-backed image file. The
// image is created and zero-filled to the full geometry if it is absent or
// undersized; otherwise it is opened read-write without truncation.
type Disk struct {
	path string
	img  *os.File
	log  elog.View
}

// New opens the disk image at path, initializing it first if necessary.
func New(path string, log elog.View) (*Disk, error) {

	fi, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking disk image '%s': %w", path, err)
	}

	if os.IsNotExist(err) || fi.Size() < ImageSize {
		err = initialize(path, log)
		if err != nil {
			return nil, err
		}
	}

	img, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening disk image '%s': %w", path, err)
	}

	log.Debugf("disk image '%s' attached (%d blocks of %d bytes)", path, TotalBlocks, BlockSize)

	return &Disk{
		path: path,
		img:  img,
		log:  log,
	}, nil

}

func initialize(path string, log elog.View) error {

	img, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating disk image '%s': %w", path, err)
	}
	defer img.Close()

	prog := log.NewProgress("initializing disk image", ImageSize)
	defer prog.Finish(true)

	zeroes := make([]byte, BlockSize)
	for i := 0; i < TotalBlocks; i++ {
		_, err = img.Write(zeroes)
		if err != nil {
			return fmt.Errorf("zero-filling disk image '%s': %w", path, err)
		}
		prog.Increment(BlockSize)
	}

	return img.Sync()

}

// ReadBlock copies block id into buf. The buffer must be exactly one block.
func (d *Disk) ReadBlock(id uint32, buf []byte) error {

	if id >= TotalBlocks {
		return fmt.Errorf("reading block %d: %w", id, ErrBlockOutOfRange)
	}

	if len(buf) != BlockSize {
		return fmt.Errorf("reading block %d: %w", id, ErrBadBufferSize)
	}

	_, err := d.img.ReadAt(buf, int64(id)*BlockSize)
	if err != nil {
		return fmt.Errorf("reading block %d: %w", id, err)
	}

	return nil

}

// WriteBlock overwrites block id with buf. The buffer must be exactly one block.
func (d *Disk) WriteBlock(id uint32, buf []byte) error {

	if id >= TotalBlocks {
		return fmt.Errorf("writing block %d: %w", id, ErrBlockOutOfRange)
	}

	if len(buf) != BlockSize {
		return fmt.Errorf("writing block %d: %w", id, ErrBadBufferSize)
	}

	_, err := d.img.WriteAt(buf, int64(id)*BlockSize)
	if err != nil {
		return fmt.Errorf("writing block %d: %w", id, err)
	}

	return nil

}

// Sync flushes buffered writes through to the host file.
func (d *Disk) Sync() error {
	return d.img.Sync()
}

// Close flushes and detaches the image file.
func (d *Disk) Close() error {

	err := d.img.Sync()
	if err != nil {
		_ = d.img.Close()
		return err
	}

	return d.img.Close()

}

// Path returns the location of the backing image file.
func (d *Disk) Path() string {
	return d.path
}

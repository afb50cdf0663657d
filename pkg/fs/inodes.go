package fs

import (
	"fmt"

	"github.com/tinix-os/tinix/pkg/disk"
)

// InodeStore reads and writes fixed-size inode records inside the inode
// table. Writes are read-modify-write of the enclosing block.
type InodeStore struct {
	disk *disk.Disk
}

// NewInodeStore returns an InodeStore over the given disk.
func NewInodeStore(d *disk.Disk) *InodeStore {
	return &InodeStore{disk: d}
}

func inodeLocation(n uint32) (block uint32, offset uint32) {
	block = InodeTableStart + n/InodesPerBlock
	offset = (n % InodesPerBlock) * InodeSize
	return
}

// ReadInode loads inode record n from the table.
func (st *InodeStore) ReadInode(n uint32) (*Inode, error) {

	if n >= MaxInodes {
		return nil, fmt.Errorf("inode %d: %w", n, ErrNotFound)
	}

	block, offset := inodeLocation(n)

	buf := make([]byte, disk.BlockSize)
	err := st.disk.ReadBlock(block, buf)
	if err != nil {
		return nil, err
	}

	return decodeInode(buf[offset : offset+InodeSize])

}

// WriteInode stores inode record n into the table.
func (st *InodeStore) WriteInode(n uint32, ino *Inode) error {

	if n >= MaxInodes {
		return fmt.Errorf("inode %d: %w", n, ErrNotFound)
	}

	block, offset := inodeLocation(n)

	buf := make([]byte, disk.BlockSize)
	err := st.disk.ReadBlock(block, buf)
	if err != nil {
		return err
	}

	copy(buf[offset:offset+InodeSize], encodeInode(ino))

	return st.disk.WriteBlock(block, buf)

}

package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tinix-os/tinix/pkg/disk"
)

// Superblock is the structure of the file-system header as written to
// block 0. All fields are little-endian.
type Superblock struct {
	Magic            uint32
	TotalBlocks      uint32
	TotalInodes      uint32
	FreeBlocks       uint32
	FreeInodes       uint32
	InodeBitmapBlock uint32
	DataBitmapBlock  uint32
	InodeTableStart  uint32
	InodeTableBlocks uint32
	DataBlocksStart  uint32
}

// Inode is the structure of an inode as written to the inode table. The
// packed size is exactly InodeSize so an integral number fit per block.
type Inode struct {
	Type       uint32
	Size       uint32
	BlocksUsed uint32
	Direct     [DirectBlocks]uint32
}

// Dirent is the structure of a directory entry as written inside a
// directory's data blocks. A zero inode field marks a dead slot.
type Dirent struct {
	Name  [NameMax + 1]byte
	Inode uint32
}

// SetName stores s into the fixed name field, NUL-terminated.
func (de *Dirent) SetName(s string) error {
	if len(s) > NameMax {
		return fmt.Errorf("entry name '%s': %w", s, ErrNameTooLong)
	}
	de.Name = [NameMax + 1]byte{}
	copy(de.Name[:], s)
	return nil
}

// NameString returns the name field up to its NUL terminator.
func (de *Dirent) NameString() string {
	return cstring(de.Name[:])
}

// Live reports whether the slot holds a real entry rather than a tombstone.
func (de *Dirent) Live() bool {
	return de.Inode != 0 && de.Name[0] != 0
}

func cstring(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

func decodeSuperblock(block []byte) (*Superblock, error) {
	sb := new(Superblock)
	err := binary.Read(bytes.NewReader(block), binary.LittleEndian, sb)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func encodeSuperblock(sb *Superblock) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, sb)
	block := make([]byte, disk.BlockSize)
	copy(block, buf.Bytes())
	return block
}

func decodeInode(data []byte) (*Inode, error) {
	ino := new(Inode)
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, ino)
	if err != nil {
		return nil, err
	}
	return ino, nil
}

func encodeInode(ino *Inode) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, ino)
	return buf.Bytes()
}

func decodeDirent(data []byte) (*Dirent, error) {
	de := new(Dirent)
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, de)
	if err != nil {
		return nil, err
	}
	return de, nil
}

func encodeDirent(de *Dirent) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, de)
	return buf.Bytes()
}

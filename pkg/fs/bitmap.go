package fs

import (
	"math/bits"

	"github.com/tinix-os/tinix/pkg/disk"
)

// Bitmaps mirrors the on-disk inode and data allocation bitmaps. Each is
// exactly one block. Allocation is first-fit from bit zero, so results are
// deterministic for any given image state. Mutations mark the mirror dirty;
// Save clears the flag.
type Bitmaps struct {
	disk   *disk.Disk
	inodes []byte
	data   []byte
	dirty  bool
}

// NewBitmaps returns zeroed in-memory mirrors for the given disk.
func NewBitmaps(d *disk.Disk) *Bitmaps {
	return &Bitmaps{
		disk:   d,
		inodes: make([]byte, disk.BlockSize),
		data:   make([]byte, disk.BlockSize),
	}
}

// Load reads both bitmaps from their fixed blocks.
func (bm *Bitmaps) Load() error {

	err := bm.disk.ReadBlock(InodeBitmapBlock, bm.inodes)
	if err != nil {
		return err
	}

	err = bm.disk.ReadBlock(DataBitmapBlock, bm.data)
	if err != nil {
		return err
	}

	bm.dirty = false
	return nil

}

// Save writes both bitmaps back to their fixed blocks.
func (bm *Bitmaps) Save() error {

	err := bm.disk.WriteBlock(InodeBitmapBlock, bm.inodes)
	if err != nil {
		return err
	}

	err = bm.disk.WriteBlock(DataBitmapBlock, bm.data)
	if err != nil {
		return err
	}

	bm.dirty = false
	return nil

}

// Reset zeroes both mirrors without touching the disk.
func (bm *Bitmaps) Reset() {
	for i := range bm.inodes {
		bm.inodes[i] = 0
	}
	for i := range bm.data {
		bm.data[i] = 0
	}
	bm.dirty = true
}

// Dirty reports whether the mirrors have unsaved mutations.
func (bm *Bitmaps) Dirty() bool {
	return bm.dirty
}

// AllocInode claims the lowest free inode number, or InvalidInode if the
// table is full. Exhaustion does not mutate the bitmap.
func (bm *Bitmaps) AllocInode() uint32 {

	n := findFreeBit(bm.inodes, MaxInodes)
	if n == InvalidInode {
		return InvalidInode
	}

	setBit(bm.inodes, n)
	bm.dirty = true
	return n

}

// FreeInode releases inode n.
func (bm *Bitmaps) FreeInode(n uint32) {
	clearBit(bm.inodes, n)
	bm.dirty = true
}

// MarkInodeUsed claims a specific inode number. Format uses this to pin the
// reserved and root inodes.
func (bm *Bitmaps) MarkInodeUsed(n uint32) {
	setBit(bm.inodes, n)
	bm.dirty = true
}

// AllocBlock claims the lowest free data block and returns its absolute
// block number, or InvalidBlock on exhaustion. The translation from bitmap
// index to absolute block number happens here and nowhere else.
func (bm *Bitmaps) AllocBlock() uint32 {

	n := findFreeBit(bm.data, MaxDataBlocks)
	if n == InvalidBlock {
		return InvalidBlock
	}

	setBit(bm.data, n)
	bm.dirty = true
	return DataBlocksStart + n

}

// FreeBlock releases the data block with absolute number abs.
func (bm *Bitmaps) FreeBlock(abs uint32) {
	clearBit(bm.data, abs-DataBlocksStart)
	bm.dirty = true
}

// UsedInodes counts allocated inode bits.
func (bm *Bitmaps) UsedInodes() uint32 {
	return popcount(bm.inodes, MaxInodes)
}

// UsedBlocks counts allocated data-block bits.
func (bm *Bitmaps) UsedBlocks() uint32 {
	return popcount(bm.data, MaxDataBlocks)
}

func isBitSet(bitmap []byte, i uint32) bool {
	return bitmap[i/8]&(1<<(i%8)) != 0
}

func setBit(bitmap []byte, i uint32) {
	bitmap[i/8] |= 1 << (i % 8)
}

func clearBit(bitmap []byte, i uint32) {
	bitmap[i/8] &^= 1 << (i % 8)
}

func findFreeBit(bitmap []byte, max uint32) uint32 {
	for i := uint32(0); i < max; i++ {
		if !isBitSet(bitmap, i) {
			return i
		}
	}
	return ^uint32(0)
}

func popcount(bitmap []byte, max uint32) uint32 {

	var n uint32
	for i := uint32(0); i < max/8; i++ {
		n += uint32(bits.OnesCount8(bitmap[i]))
	}

	for i := max - max%8; i < max; i++ {
		if isBitSet(bitmap, i) {
			n++
		}
	}

	return n

}

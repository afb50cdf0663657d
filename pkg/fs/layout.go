package fs

import (
	"github.com/tinix-os/tinix/pkg/disk"
)

// On-disk layout constants. The geometry is fixed: block 0 holds the
// superblock, blocks 1 and 2 the inode and data bitmaps, the inode table
// follows, and everything after it is the data region.
const (
	// Magic identifies a formatted image ("TINX").
	Magic uint32 = 0x54494E58

	SuperblockBlockNo = 0
	InodeBitmapBlock  = 1
	DataBitmapBlock   = 2
	InodeTableStart   = 3

	// InodeSize is the packed on-disk size of an inode record.
	InodeSize      = 64
	InodesPerBlock = disk.BlockSize / InodeSize

	MaxInodes        = 128
	InodeTableBlocks = MaxInodes / InodesPerBlock

	DataBlocksStart = InodeTableStart + InodeTableBlocks
	MaxDataBlocks   = disk.TotalBlocks - DataBlocksStart

	// DirectBlocks is the number of direct block pointers per inode.
	DirectBlocks = 13

	// MaxFileSize is the largest file the direct-only layout can hold.
	MaxFileSize = DirectBlocks * disk.BlockSize

	// DirentSize is the packed on-disk size of a directory entry.
	DirentSize      = 32
	DirentsPerBlock = disk.BlockSize / DirentSize

	// NameMax is the longest permitted entry name; names are stored
	// NUL-terminated in a fixed 28-byte field.
	NameMax = 27

	// RootInode is the inode number of "/". Inode 0 is reserved at format
	// time so that a zero inode field always marks a dead directory slot.
	RootInode = 1
)

// Allocation failure sentinels.
const (
	InvalidInode uint32 = ^uint32(0)
	InvalidBlock uint32 = ^uint32(0)
)

// Inode types.
const (
	InodeTypeFile      uint32 = 1
	InodeTypeDirectory uint32 = 2
)

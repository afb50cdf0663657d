package fs

import (
	"fmt"
	"strings"

	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/elog"
)

// Allocator hands out inodes and absolute data-block numbers. The façade
// implements it so that superblock counters stay coherent with every
// allocation made on behalf of directory mutations.
type Allocator interface {
	AllocInode() uint32
	FreeInode(n uint32)
	AllocBlock() uint32
	FreeBlock(abs uint32)
}

// Entry is a live directory entry as reported by List.
type Entry struct {
	Name  string
	Inode uint32
}

// DirectoryService resolves paths and mutates directory contents. Removed
// entries become tombstones (zeroed slots) that scans skip and additions
// reuse; directories are never compacted.
type DirectoryService struct {
	disk   *disk.Disk
	inodes *InodeStore
	alloc  Allocator
	log    elog.View
}

// NewDirectoryService wires a DirectoryService over its collaborators.
func NewDirectoryService(d *disk.Disk, st *InodeStore, alloc Allocator, log elog.View) *DirectoryService {
	return &DirectoryService{
		disk:   d,
		inodes: st,
		alloc:  alloc,
		log:    log,
	}
}

// NormalizePath resolves path against cwd and collapses '.', '..', and
// empty components. The result is absolute, and has no trailing slash
// except for the root itself. '..' at the root stays at the root.
func NormalizePath(path, cwd string) string {

	if !strings.HasPrefix(path, "/") {
		path = cwd + "/" + path
	}

	var stack []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	return "/" + strings.Join(stack, "/")

}

// SplitPath splits a normalized path into its parent directory and final
// component. The parent of a top-level entry is "/".
func SplitPath(path string) (parent, name string) {

	i := strings.LastIndex(path, "/")
	parent = path[:i]
	name = path[i+1:]
	if parent == "" {
		parent = "/"
	}

	return

}

// LookupPath walks path (resolved against cwd) from the root and returns
// the inode it names, or InvalidInode if any component is missing or a
// non-directory appears mid-path.
func (ds *DirectoryService) LookupPath(path, cwd string) uint32 {

	path = NormalizePath(path, cwd)
	if path == "/" {
		return RootInode
	}

	current := uint32(RootInode)
	for _, part := range strings.Split(path[1:], "/") {

		ino, err := ds.inodes.ReadInode(current)
		if err != nil {
			return InvalidInode
		}

		if ino.Type != InodeTypeDirectory {
			return InvalidInode
		}

		current = ds.lookupInDirectory(ino, part)
		if current == InvalidInode {
			return InvalidInode
		}

	}

	return current

}

func (ds *DirectoryService) lookupInDirectory(dir *Inode, name string) uint32 {

	found := InvalidInode

	_ = ds.scanEntries(dir, func(de *Dirent, _, _ uint32) bool {
		if de.NameString() == name {
			found = de.Inode
			return true
		}
		return false
	})

	return found

}

// scanEntries invokes fn for every live entry across the directory's
// allocated blocks, stopping early when fn returns true. fn receives the
// absolute block number and intra-block slot index alongside the entry.
func (ds *DirectoryService) scanEntries(dir *Inode, fn func(de *Dirent, block, slot uint32) bool) error {

	buf := make([]byte, disk.BlockSize)

	for b := uint32(0); b < dir.BlocksUsed; b++ {

		block := dir.Direct[b]
		err := ds.disk.ReadBlock(block, buf)
		if err != nil {
			return err
		}

		for slot := uint32(0); slot < DirentsPerBlock; slot++ {

			de, err := decodeDirent(buf[slot*DirentSize : (slot+1)*DirentSize])
			if err != nil {
				return err
			}

			if !de.Live() {
				continue
			}

			if fn(de, block, slot) {
				return nil
			}

		}

	}

	return nil

}

// AddEntry links (name, child) into the directory identified by dirInode.
// The first tombstoned slot is reused; a new data block is appended when
// every allocated slot is live.
func (ds *DirectoryService) AddEntry(dirInode uint32, name string, child uint32) error {

	if len(name) > NameMax {
		return fmt.Errorf("adding '%s': %w", name, ErrNameTooLong)
	}

	dir, err := ds.inodes.ReadInode(dirInode)
	if err != nil {
		return err
	}

	if dir.Type != InodeTypeDirectory {
		return fmt.Errorf("inode %d: %w", dirInode, ErrNotDirectory)
	}

	if ds.lookupInDirectory(dir, name) != InvalidInode {
		return fmt.Errorf("adding '%s': %w", name, ErrExists)
	}

	entry := new(Dirent)
	err = entry.SetName(name)
	if err != nil {
		return err
	}
	entry.Inode = child

	block, slot, ok, err := ds.findFreeSlot(dir)
	if err != nil {
		return err
	}

	if !ok {

		if dir.BlocksUsed >= DirectBlocks {
			return fmt.Errorf("directory inode %d is full: %w", dirInode, ErrNoSpace)
		}

		block = ds.alloc.AllocBlock()
		if block == InvalidBlock {
			return fmt.Errorf("growing directory inode %d: %w", dirInode, ErrNoSpace)
		}

		err = ds.disk.WriteBlock(block, make([]byte, disk.BlockSize))
		if err != nil {
			ds.alloc.FreeBlock(block)
			return err
		}

		dir.Direct[dir.BlocksUsed] = block
		dir.BlocksUsed++
		slot = 0

	}

	err = ds.writeEntry(block, slot, entry)
	if err != nil {
		return err
	}

	dir.Size += DirentSize
	return ds.inodes.WriteInode(dirInode, dir)

}

func (ds *DirectoryService) findFreeSlot(dir *Inode) (block, slot uint32, ok bool, err error) {

	buf := make([]byte, disk.BlockSize)

	for b := uint32(0); b < dir.BlocksUsed; b++ {

		block = dir.Direct[b]
		err = ds.disk.ReadBlock(block, buf)
		if err != nil {
			return 0, 0, false, err
		}

		for s := uint32(0); s < DirentsPerBlock; s++ {

			de, err := decodeDirent(buf[s*DirentSize : (s+1)*DirentSize])
			if err != nil {
				return 0, 0, false, err
			}

			if !de.Live() {
				return block, s, true, nil
			}

		}

	}

	return 0, 0, false, nil

}

func (ds *DirectoryService) writeEntry(block, slot uint32, de *Dirent) error {

	buf := make([]byte, disk.BlockSize)
	err := ds.disk.ReadBlock(block, buf)
	if err != nil {
		return err
	}

	copy(buf[slot*DirentSize:(slot+1)*DirentSize], encodeDirent(de))

	return ds.disk.WriteBlock(block, buf)

}

// RemoveEntry unlinks name from the directory, leaving a tombstone in its
// slot. The directory's size shrinks; its blocks are not reclaimed.
func (ds *DirectoryService) RemoveEntry(dirInode uint32, name string) error {

	dir, err := ds.inodes.ReadInode(dirInode)
	if err != nil {
		return err
	}

	if dir.Type != InodeTypeDirectory {
		return fmt.Errorf("inode %d: %w", dirInode, ErrNotDirectory)
	}

	var block, slot uint32
	found := false

	err = ds.scanEntries(dir, func(de *Dirent, b, s uint32) bool {
		if de.NameString() == name {
			block, slot, found = b, s, true
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("removing '%s': %w", name, ErrNotFound)
	}

	err = ds.writeEntry(block, slot, new(Dirent))
	if err != nil {
		return err
	}

	dir.Size -= DirentSize
	return ds.inodes.WriteInode(dirInode, dir)

}

// CreateDirectory makes a new directory at path (resolved against cwd),
// initialized with '.' and '..'. All allocations made here are rolled back
// if any later step fails.
func (ds *DirectoryService) CreateDirectory(path, cwd string) error {

	path = NormalizePath(path, cwd)
	if path == "/" {
		return fmt.Errorf("creating '/': %w", ErrExists)
	}

	parentPath, name := SplitPath(path)
	if len(name) > NameMax {
		return fmt.Errorf("creating '%s': %w", name, ErrNameTooLong)
	}

	parent := ds.LookupPath(parentPath, "/")
	if parent == InvalidInode {
		return fmt.Errorf("resolving '%s': %w", parentPath, ErrNotFound)
	}

	parentIno, err := ds.inodes.ReadInode(parent)
	if err != nil {
		return err
	}

	if parentIno.Type != InodeTypeDirectory {
		return fmt.Errorf("'%s': %w", parentPath, ErrNotDirectory)
	}

	if ds.lookupInDirectory(parentIno, name) != InvalidInode {
		return fmt.Errorf("creating '%s': %w", path, ErrExists)
	}

	n := ds.alloc.AllocInode()
	if n == InvalidInode {
		return fmt.Errorf("creating '%s': %w", path, ErrNoSpace)
	}

	block := ds.alloc.AllocBlock()
	if block == InvalidBlock {
		ds.alloc.FreeInode(n)
		return fmt.Errorf("creating '%s': %w", path, ErrNoSpace)
	}

	rollback := func() {
		ds.alloc.FreeBlock(block)
		ds.alloc.FreeInode(n)
	}

	buf := make([]byte, disk.BlockSize)
	dot := &Dirent{Inode: n}
	_ = dot.SetName(".")
	dotdot := &Dirent{Inode: parent}
	_ = dotdot.SetName("..")
	copy(buf[0:DirentSize], encodeDirent(dot))
	copy(buf[DirentSize:2*DirentSize], encodeDirent(dotdot))

	err = ds.disk.WriteBlock(block, buf)
	if err != nil {
		rollback()
		return err
	}

	ino := &Inode{
		Type:       InodeTypeDirectory,
		Size:       2 * DirentSize,
		BlocksUsed: 1,
	}
	ino.Direct[0] = block

	err = ds.inodes.WriteInode(n, ino)
	if err != nil {
		rollback()
		return err
	}

	err = ds.AddEntry(parent, name, n)
	if err != nil {
		rollback()
		return err
	}

	ds.log.Debugf("created directory '%s' (inode=%d, block=%d)", path, n, block)
	return nil

}

// List returns the live entries of the directory identified by dirInode,
// in slot order.
func (ds *DirectoryService) List(dirInode uint32) ([]Entry, error) {

	dir, err := ds.inodes.ReadInode(dirInode)
	if err != nil {
		return nil, err
	}

	if dir.Type != InodeTypeDirectory {
		return nil, fmt.Errorf("inode %d: %w", dirInode, ErrNotDirectory)
	}

	var list []Entry
	err = ds.scanEntries(dir, func(de *Dirent, _, _ uint32) bool {
		list = append(list, Entry{Name: de.NameString(), Inode: de.Inode})
		return false
	})
	if err != nil {
		return nil, err
	}

	return list, nil

}

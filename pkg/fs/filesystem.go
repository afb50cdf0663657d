package fs

import (
	"fmt"

	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/elog"
)

// FileSystem is the shell-facing façade. It owns the superblock, the
// bitmap mirrors, the descriptor table, and the current directory, and
// coordinates the stores beneath it. Every operation except Format and
// Mount requires a mounted file system.
type FileSystem struct {
	disk    *disk.Disk
	log     elog.View
	sb      *Superblock
	mounted bool
	cwd     string

	bitmaps *Bitmaps
	inodes  *InodeStore
	dirs    *DirectoryService
	fds     *FDTable
}

// New assembles a FileSystem over the given disk. The result is unmounted.
func New(d *disk.Disk, log elog.View) *FileSystem {

	fs := &FileSystem{
		disk:    d,
		log:     log,
		cwd:     "/",
		bitmaps: NewBitmaps(d),
		inodes:  NewInodeStore(d),
		fds:     NewFDTable(),
	}

	fs.dirs = NewDirectoryService(d, fs.inodes, fs, log)
	return fs

}

// AllocInode claims an inode and keeps the superblock counter coherent.
func (fs *FileSystem) AllocInode() uint32 {
	n := fs.bitmaps.AllocInode()
	if n != InvalidInode {
		fs.sb.FreeInodes--
	}
	return n
}

// FreeInode releases an inode and keeps the superblock counter coherent.
func (fs *FileSystem) FreeInode(n uint32) {
	fs.bitmaps.FreeInode(n)
	fs.sb.FreeInodes++
}

// AllocBlock claims a data block and keeps the superblock counter coherent.
func (fs *FileSystem) AllocBlock() uint32 {
	b := fs.bitmaps.AllocBlock()
	if b != InvalidBlock {
		fs.sb.FreeBlocks--
	}
	return b
}

// FreeBlock releases a data block and keeps the superblock counter coherent.
func (fs *FileSystem) FreeBlock(abs uint32) {
	fs.bitmaps.FreeBlock(abs)
	fs.sb.FreeBlocks++
}

// Format overwrites the image with a fresh, empty file system and leaves it
// mounted. There is no rollback: a mid-format I/O error leaves the image in
// an unspecified state.
func (fs *FileSystem) Format() error {

	fs.log.Infof("formatting file system on '%s'", fs.disk.Path())

	fs.sb = &Superblock{
		Magic:            Magic,
		TotalBlocks:      disk.TotalBlocks,
		TotalInodes:      MaxInodes,
		FreeBlocks:       MaxDataBlocks,
		FreeInodes:       MaxInodes - 2,
		InodeBitmapBlock: InodeBitmapBlock,
		DataBitmapBlock:  DataBitmapBlock,
		InodeTableStart:  InodeTableStart,
		InodeTableBlocks: InodeTableBlocks,
		DataBlocksStart:  DataBlocksStart,
	}

	fs.bitmaps.Reset()
	fs.bitmaps.MarkInodeUsed(0)
	fs.bitmaps.MarkInodeUsed(RootInode)

	zeroes := make([]byte, disk.BlockSize)
	for i := uint32(0); i < InodeTableBlocks; i++ {
		err := fs.disk.WriteBlock(InodeTableStart+i, zeroes)
		if err != nil {
			return fmt.Errorf("clearing inode table: %w", err)
		}
	}

	err := fs.initRootDirectory()
	if err != nil {
		return err
	}

	err = fs.saveSuperblock()
	if err != nil {
		return err
	}

	err = fs.bitmaps.Save()
	if err != nil {
		return err
	}

	fs.mounted = true
	fs.cwd = "/"

	fs.log.Printf("format complete: %d blocks, %d inodes", fs.sb.TotalBlocks, fs.sb.TotalInodes)
	return nil

}

func (fs *FileSystem) initRootDirectory() error {

	block := fs.AllocBlock()
	if block == InvalidBlock {
		return fmt.Errorf("allocating root directory block: %w", ErrNoSpace)
	}

	root := &Inode{
		Type:       InodeTypeDirectory,
		Size:       2 * DirentSize,
		BlocksUsed: 1,
	}
	root.Direct[0] = block

	err := fs.inodes.WriteInode(RootInode, root)
	if err != nil {
		return err
	}

	buf := make([]byte, disk.BlockSize)
	dot := &Dirent{Inode: RootInode}
	_ = dot.SetName(".")
	dotdot := &Dirent{Inode: RootInode}
	_ = dotdot.SetName("..")
	copy(buf[0:DirentSize], encodeDirent(dot))
	copy(buf[DirentSize:2*DirentSize], encodeDirent(dotdot))

	err = fs.disk.WriteBlock(block, buf)
	if err != nil {
		return err
	}

	fs.log.Debugf("root directory created (inode=%d, block=%d)", RootInode, block)
	return nil

}

// Mount loads the superblock and bitmaps from the image. A magic-number
// mismatch fails with ErrBadMagic and leaves the file system unmounted.
func (fs *FileSystem) Mount() error {

	err := fs.loadSuperblock()
	if err != nil {
		return err
	}

	if fs.sb.Magic != Magic {
		return fmt.Errorf("mounting '%s': %w", fs.disk.Path(), ErrBadMagic)
	}

	err = fs.bitmaps.Load()
	if err != nil {
		return err
	}

	fs.mounted = true
	fs.cwd = "/"

	fs.log.Infof("mounted '%s': %d free blocks, %d free inodes", fs.disk.Path(), fs.sb.FreeBlocks, fs.sb.FreeInodes)
	return nil

}

// IsMounted reports whether the file system is usable.
func (fs *FileSystem) IsMounted() bool {
	return fs.mounted
}

// Superblock returns a copy of the in-memory superblock.
func (fs *FileSystem) Superblock() (Superblock, error) {
	if !fs.mounted {
		return Superblock{}, ErrNotMounted
	}
	return *fs.sb, nil
}

// StatInode returns a copy of inode n, for inspection.
func (fs *FileSystem) StatInode(n uint32) (Inode, error) {

	if !fs.mounted {
		return Inode{}, ErrNotMounted
	}

	ino, err := fs.inodes.ReadInode(n)
	if err != nil {
		return Inode{}, err
	}

	return *ino, nil

}

// RefreshCounters recomputes the superblock's free counters by popcount
// over the bitmap mirrors. It repairs an image whose counters have
// drifted from the bitmaps.
func (fs *FileSystem) RefreshCounters() error {

	if !fs.mounted {
		return ErrNotMounted
	}

	fs.sb.FreeInodes = MaxInodes - fs.bitmaps.UsedInodes()
	fs.sb.FreeBlocks = MaxDataBlocks - fs.bitmaps.UsedBlocks()

	return nil

}

func (fs *FileSystem) loadSuperblock() error {

	buf := make([]byte, disk.BlockSize)
	err := fs.disk.ReadBlock(SuperblockBlockNo, buf)
	if err != nil {
		return err
	}

	fs.sb, err = decodeSuperblock(buf)
	return err

}

func (fs *FileSystem) saveSuperblock() error {
	return fs.disk.WriteBlock(SuperblockBlockNo, encodeSuperblock(fs.sb))
}

// Sync writes the superblock and bitmaps back to the image whenever the
// file system is mounted, whether or not they have unsaved changes.
func (fs *FileSystem) Sync() error {

	if !fs.mounted {
		return nil
	}

	err := fs.saveSuperblock()
	if err != nil {
		return err
	}

	return fs.bitmaps.Save()

}

// Close persists any dirty state. The disk itself stays open; its owner
// closes it.
func (fs *FileSystem) Close() error {

	if fs.mounted && fs.bitmaps.Dirty() {
		return fs.Sync()
	}

	return nil

}

// CreateFile makes an empty regular file at path. No data block is
// allocated until the first write.
func (fs *FileSystem) CreateFile(path string) error {

	if !fs.mounted {
		return ErrNotMounted
	}

	norm := NormalizePath(path, fs.cwd)
	if norm == "/" {
		return fmt.Errorf("creating '/': %w", ErrIsDirectory)
	}

	parentPath, name := SplitPath(norm)

	parent := fs.dirs.LookupPath(parentPath, "/")
	if parent == InvalidInode {
		return fmt.Errorf("resolving '%s': %w", parentPath, ErrNotFound)
	}

	if fs.dirs.LookupPath(norm, "/") != InvalidInode {
		return fmt.Errorf("creating '%s': %w", norm, ErrExists)
	}

	n := fs.AllocInode()
	if n == InvalidInode {
		return fmt.Errorf("creating '%s': %w", norm, ErrNoSpace)
	}

	err := fs.inodes.WriteInode(n, &Inode{Type: InodeTypeFile})
	if err != nil {
		fs.FreeInode(n)
		return err
	}

	err = fs.dirs.AddEntry(parent, name, n)
	if err != nil {
		fs.FreeInode(n)
		return err
	}

	fs.log.Debugf("created file '%s' (inode=%d)", norm, n)
	return nil

}

// RemoveFile deletes the regular file at path, releasing its data blocks
// and inode. Open descriptors naming the inode are left dangling.
func (fs *FileSystem) RemoveFile(path string) error {

	if !fs.mounted {
		return ErrNotMounted
	}

	norm := NormalizePath(path, fs.cwd)

	n := fs.dirs.LookupPath(norm, "/")
	if n == InvalidInode {
		return fmt.Errorf("removing '%s': %w", norm, ErrNotFound)
	}

	ino, err := fs.inodes.ReadInode(n)
	if err != nil {
		return err
	}

	if ino.Type == InodeTypeDirectory {
		return fmt.Errorf("removing '%s': %w", norm, ErrIsDirectory)
	}

	for i := uint32(0); i < ino.BlocksUsed; i++ {
		fs.FreeBlock(ino.Direct[i])
	}
	fs.FreeInode(n)

	parentPath, name := SplitPath(norm)
	parent := fs.dirs.LookupPath(parentPath, "/")
	if parent == InvalidInode {
		return fmt.Errorf("resolving '%s': %w", parentPath, ErrNotFound)
	}

	err = fs.dirs.RemoveEntry(parent, name)
	if err != nil {
		return err
	}

	fs.log.Debugf("removed file '%s' (inode=%d)", norm, n)
	return nil

}

// OpenFile opens the regular file at path and returns its descriptor.
func (fs *FileSystem) OpenFile(path string) (int, error) {

	if !fs.mounted {
		return -1, ErrNotMounted
	}

	norm := NormalizePath(path, fs.cwd)

	n := fs.dirs.LookupPath(norm, "/")
	if n == InvalidInode {
		return -1, fmt.Errorf("opening '%s': %w", norm, ErrNotFound)
	}

	ino, err := fs.inodes.ReadInode(n)
	if err != nil {
		return -1, err
	}

	if ino.Type == InodeTypeDirectory {
		return -1, fmt.Errorf("opening '%s': %w", norm, ErrIsDirectory)
	}

	fd := fs.fds.Alloc(n)
	fs.log.Debugf("opened '%s' (inode=%d, fd=%d)", norm, n, fd)
	return fd, nil

}

// CloseFile releases a descriptor. Closing an unknown descriptor is a
// silent no-op.
func (fs *FileSystem) CloseFile(fd int) error {

	if !fs.mounted {
		return ErrNotMounted
	}

	fs.fds.Free(fd)
	return nil

}

// ReadFile copies up to len(p) bytes from the descriptor's cursor into p,
// advancing the cursor. It returns the number of bytes read, which is zero
// at end of file.
func (fs *FileSystem) ReadFile(fd int, p []byte) (int, error) {

	if !fs.mounted {
		return 0, ErrNotMounted
	}

	of := fs.fds.Get(fd)
	if of == nil {
		return 0, fmt.Errorf("fd %d: %w", fd, ErrBadFd)
	}

	ino, err := fs.inodes.ReadInode(of.Inode)
	if err != nil {
		return 0, err
	}

	avail := len(p)
	if remaining := int(ino.Size) - int(of.Offset); remaining < avail {
		avail = remaining
	}
	if avail <= 0 {
		return 0, nil
	}

	buf := make([]byte, disk.BlockSize)
	read := 0

	for read < avail {

		blockIndex := of.Offset / disk.BlockSize
		byteOffset := of.Offset % disk.BlockSize

		span := disk.BlockSize - int(byteOffset)
		if span > avail-read {
			span = avail - read
		}

		err = fs.disk.ReadBlock(ino.Direct[blockIndex], buf)
		if err != nil {
			return read, err
		}

		copy(p[read:read+span], buf[byteOffset:int(byteOffset)+span])
		read += span
		of.Offset += uint32(span)

	}

	return read, nil

}

// WriteFile copies p to the descriptor's cursor, allocating data blocks as
// the file grows. On allocator exhaustion or when the write would exceed
// the direct-block limit it stops short, returning the bytes written with
// ErrNoSpace; the inode's accounting stays consistent with the blocks
// actually written.
func (fs *FileSystem) WriteFile(fd int, p []byte) (int, error) {

	if !fs.mounted {
		return 0, ErrNotMounted
	}

	of := fs.fds.Get(fd)
	if of == nil {
		return 0, fmt.Errorf("fd %d: %w", fd, ErrBadFd)
	}

	ino, err := fs.inodes.ReadInode(of.Inode)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, disk.BlockSize)
	written := 0
	var failure error

	for written < len(p) {

		blockIndex := of.Offset / disk.BlockSize
		byteOffset := of.Offset % disk.BlockSize

		if blockIndex >= DirectBlocks {
			failure = fmt.Errorf("fd %d: %w", fd, ErrNoSpace)
			break
		}

		if blockIndex >= ino.BlocksUsed {
			b := fs.AllocBlock()
			if b == InvalidBlock {
				failure = fmt.Errorf("fd %d: %w", fd, ErrNoSpace)
				break
			}
			ino.Direct[ino.BlocksUsed] = b
			ino.BlocksUsed++
		}

		span := disk.BlockSize - int(byteOffset)
		if span > len(p)-written {
			span = len(p) - written
		}

		err = fs.disk.ReadBlock(ino.Direct[blockIndex], buf)
		if err != nil {
			failure = err
			break
		}

		copy(buf[byteOffset:int(byteOffset)+span], p[written:written+span])

		err = fs.disk.WriteBlock(ino.Direct[blockIndex], buf)
		if err != nil {
			failure = err
			break
		}

		written += span
		of.Offset += uint32(span)
		if of.Offset > ino.Size {
			ino.Size = of.Offset
		}

	}

	err = fs.inodes.WriteInode(of.Inode, ino)
	if err != nil && failure == nil {
		failure = err
	}

	return written, failure

}

// CreateDirectory makes a directory at path, resolved against the current
// directory.
func (fs *FileSystem) CreateDirectory(path string) error {

	if !fs.mounted {
		return ErrNotMounted
	}

	return fs.dirs.CreateDirectory(path, fs.cwd)

}

// ListDirectory returns the live entries of the directory at path. An
// empty path lists the current directory.
func (fs *FileSystem) ListDirectory(path string) ([]Entry, error) {

	if !fs.mounted {
		return nil, ErrNotMounted
	}

	if path == "" {
		path = "."
	}

	n := fs.dirs.LookupPath(path, fs.cwd)
	if n == InvalidInode {
		return nil, fmt.Errorf("listing '%s': %w", path, ErrNotFound)
	}

	return fs.dirs.List(n)

}

// ChangeDirectory moves the current directory to path.
func (fs *FileSystem) ChangeDirectory(path string) error {

	if !fs.mounted {
		return ErrNotMounted
	}

	norm := NormalizePath(path, fs.cwd)

	n := fs.dirs.LookupPath(norm, "/")
	if n == InvalidInode {
		return fmt.Errorf("changing to '%s': %w", norm, ErrNotFound)
	}

	ino, err := fs.inodes.ReadInode(n)
	if err != nil {
		return err
	}

	if ino.Type != InodeTypeDirectory {
		return fmt.Errorf("changing to '%s': %w", norm, ErrNotDirectory)
	}

	fs.cwd = norm
	return nil

}

// CurrentDirectory returns the normalized current directory.
func (fs *FileSystem) CurrentDirectory() string {
	return fs.cwd
}

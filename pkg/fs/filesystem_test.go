package fs

import (
	"bytes"
	"errors"
	"io/ioutil"
	"strconv"
	"testing"

	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/elog"
)

func newTestFS(t *testing.T) (*FileSystem, func()) {

	t.Helper()

	d, cleanup := testDisk(t)

	fsys := New(d, elog.Discard)
	err := fsys.Format()
	if err != nil {
		cleanup()
		t.Fatalf("formatting: %v", err)
	}

	return fsys, cleanup

}

func checkCounters(t *testing.T, fsys *FileSystem) {

	t.Helper()

	sb, err := fsys.Superblock()
	if err != nil {
		t.Fatalf("reading superblock: %v", err)
	}

	if sb.FreeInodes != MaxInodes-fsys.bitmaps.UsedInodes() {
		t.Fatalf("free-inode counter (%d) disagrees with bitmap popcount (%d used)", sb.FreeInodes, fsys.bitmaps.UsedInodes())
	}

	if sb.FreeBlocks != MaxDataBlocks-fsys.bitmaps.UsedBlocks() {
		t.Fatalf("free-block counter (%d) disagrees with bitmap popcount (%d used)", sb.FreeBlocks, fsys.bitmaps.UsedBlocks())
	}

}

func TestFormatAndRootListing(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	entries, err := fsys.ListDirectory("/")
	if err != nil {
		t.Fatalf("listing /: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("fresh root has %d entries, expected 2", len(entries))
	}

	for _, entry := range entries {
		if entry.Name != "." && entry.Name != ".." {
			t.Fatalf("unexpected root entry '%s'", entry.Name)
		}
		if entry.Inode != RootInode {
			t.Fatalf("root entry '%s' resolves to inode %d, expected %d", entry.Name, entry.Inode, RootInode)
		}
	}

	checkCounters(t, fsys)

}

func TestMountRoundTrip(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateDirectory("/a")
	if err != nil {
		t.Fatalf("creating /a: %v", err)
	}

	err = fsys.CreateFile("/a/f")
	if err != nil {
		t.Fatalf("creating /a/f: %v", err)
	}

	err = fsys.Sync()
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}

	// a second façade over the same disk must see the same tree
	other := New(fsys.disk, elog.Discard)
	err = other.Mount()
	if err != nil {
		t.Fatalf("remounting: %v", err)
	}

	entries, err := other.ListDirectory("/a")
	if err != nil {
		t.Fatalf("listing /a after remount: %v", err)
	}

	if !entryNames(entries)["f"] {
		t.Fatalf("file lost across remount")
	}

	sb1, _ := fsys.Superblock()
	sb2, _ := other.Superblock()
	if sb1 != sb2 {
		t.Fatalf("superblock changed across remount: %+v != %+v", sb1, sb2)
	}

}

func TestMountBadMagic(t *testing.T) {

	d, cleanup := testDisk(t)
	defer cleanup()

	fsys := New(d, elog.Discard)

	err := fsys.Mount()
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("mounting an unformatted image: %v", err)
	}

	if fsys.IsMounted() {
		t.Fatalf("failed mount left the file system mounted")
	}

}

func TestNotMounted(t *testing.T) {

	d, cleanup := testDisk(t)
	defer cleanup()

	fsys := New(d, elog.Discard)

	err := fsys.CreateFile("/f")
	if !errors.Is(err, ErrNotMounted) {
		t.Fatalf("create before mount: %v", err)
	}

	_, err = fsys.OpenFile("/f")
	if !errors.Is(err, ErrNotMounted) {
		t.Fatalf("open before mount: %v", err)
	}

	_, err = fsys.ListDirectory("/")
	if !errors.Is(err, ErrNotMounted) {
		t.Fatalf("list before mount: %v", err)
	}

}

func TestFormatIdempotence(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.disk.Sync()
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}

	first, err := ioutil.ReadFile(fsys.disk.Path())
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}

	err = fsys.Format()
	if err != nil {
		t.Fatalf("second format: %v", err)
	}

	err = fsys.disk.Sync()
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}

	second, err := ioutil.ReadFile(fsys.disk.Path())
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("back-to-back formats produced different images")
	}

}

func TestFileWriteThenRead(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	sbBefore, _ := fsys.Superblock()

	err := fsys.CreateFile("/hello")
	if err != nil {
		t.Fatalf("creating /hello: %v", err)
	}

	// an empty file holds no data blocks
	n := fsys.dirs.LookupPath("/hello", "/")
	ino, err := fsys.StatInode(n)
	if err != nil {
		t.Fatalf("stat /hello: %v", err)
	}
	if ino.Size != 0 || ino.BlocksUsed != 0 {
		t.Fatalf("fresh file is not empty: size=%d blocks=%d", ino.Size, ino.BlocksUsed)
	}

	fd, err := fsys.OpenFile("/hello")
	if err != nil {
		t.Fatalf("opening /hello: %v", err)
	}
	if fd < 3 {
		t.Fatalf("descriptor %d below 3", fd)
	}

	count, err := fsys.WriteFile(fd, []byte("abc"))
	if err != nil || count != 3 {
		t.Fatalf("writing: count=%d err=%v", count, err)
	}

	err = fsys.CloseFile(fd)
	if err != nil {
		t.Fatalf("closing: %v", err)
	}

	fd2, err := fsys.OpenFile("/hello")
	if err != nil {
		t.Fatalf("reopening /hello: %v", err)
	}
	if fd2 == fd {
		t.Fatalf("descriptor %d reissued", fd)
	}

	out := make([]byte, 3)
	count, err = fsys.ReadFile(fd2, out)
	if err != nil || count != 3 {
		t.Fatalf("reading: count=%d err=%v", count, err)
	}
	if string(out) != "abc" {
		t.Fatalf("read %q, expected \"abc\"", out)
	}

	// a second read sits at end of file
	count, err = fsys.ReadFile(fd2, out)
	if err != nil || count != 0 {
		t.Fatalf("read at EOF: count=%d err=%v", count, err)
	}

	ino, err = fsys.StatInode(n)
	if err != nil {
		t.Fatalf("stat /hello: %v", err)
	}
	if ino.Size != 3 || ino.BlocksUsed != 1 {
		t.Fatalf("after write: size=%d blocks=%d", ino.Size, ino.BlocksUsed)
	}

	sbAfter, _ := fsys.Superblock()
	if sbAfter.FreeBlocks != sbBefore.FreeBlocks-1 {
		t.Fatalf("free blocks went %d -> %d, expected a decrease of exactly 1", sbBefore.FreeBlocks, sbAfter.FreeBlocks)
	}

	checkCounters(t, fsys)

}

func TestMultiBlockWrite(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateFile("/big")
	if err != nil {
		t.Fatalf("creating /big: %v", err)
	}

	fd, err := fsys.OpenFile("/big")
	if err != nil {
		t.Fatalf("opening /big: %v", err)
	}

	payload := make([]byte, 2*disk.BlockSize+100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	count, err := fsys.WriteFile(fd, payload)
	if err != nil || count != len(payload) {
		t.Fatalf("writing: count=%d err=%v", count, err)
	}

	_ = fsys.CloseFile(fd)

	fd, err = fsys.OpenFile("/big")
	if err != nil {
		t.Fatalf("reopening /big: %v", err)
	}

	out := make([]byte, len(payload))
	count, err = fsys.ReadFile(fd, out)
	if err != nil || count != len(payload) {
		t.Fatalf("reading: count=%d err=%v", count, err)
	}

	if !bytes.Equal(out, payload) {
		t.Fatalf("multi-block payload did not survive a round trip")
	}

	n := fsys.dirs.LookupPath("/big", "/")
	ino, _ := fsys.StatInode(n)
	if ino.BlocksUsed != 3 {
		t.Fatalf("file spans %d blocks, expected 3", ino.BlocksUsed)
	}

	checkCounters(t, fsys)

}

func TestWriteBeyondDirectBlocks(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateFile("/big")
	if err != nil {
		t.Fatalf("creating /big: %v", err)
	}

	fd, err := fsys.OpenFile("/big")
	if err != nil {
		t.Fatalf("opening /big: %v", err)
	}

	payload := make([]byte, MaxFileSize+10)

	count, err := fsys.WriteFile(fd, payload)
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("oversized write did not report exhaustion: %v", err)
	}
	if count != MaxFileSize {
		t.Fatalf("short count %d, expected %d", count, MaxFileSize)
	}

	// accounting stays consistent with the blocks actually written
	n := fsys.dirs.LookupPath("/big", "/")
	ino, _ := fsys.StatInode(n)
	if ino.Size != MaxFileSize || ino.BlocksUsed != DirectBlocks {
		t.Fatalf("after short write: size=%d blocks=%d", ino.Size, ino.BlocksUsed)
	}

	checkCounters(t, fsys)

}

func TestRemoveFile(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	sbBefore, _ := fsys.Superblock()

	err := fsys.CreateFile("/f")
	if err != nil {
		t.Fatalf("creating /f: %v", err)
	}

	fd, err := fsys.OpenFile("/f")
	if err != nil {
		t.Fatalf("opening /f: %v", err)
	}

	_, err = fsys.WriteFile(fd, bytes.Repeat([]byte("x"), disk.BlockSize+1))
	if err != nil {
		t.Fatalf("writing /f: %v", err)
	}
	_ = fsys.CloseFile(fd)

	err = fsys.RemoveFile("/f")
	if err != nil {
		t.Fatalf("removing /f: %v", err)
	}

	_, err = fsys.OpenFile("/f")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed file still opens: %v", err)
	}

	// everything the file held is back
	sbAfter, _ := fsys.Superblock()
	if sbAfter.FreeBlocks != sbBefore.FreeBlocks || sbAfter.FreeInodes != sbBefore.FreeInodes {
		t.Fatalf("removal leaked resources: %+v -> %+v", sbBefore, sbAfter)
	}

	checkCounters(t, fsys)

	err = fsys.RemoveFile("/f")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("double remove: %v", err)
	}

}

func TestRemoveDirectoryRejected(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateDirectory("/d")
	if err != nil {
		t.Fatalf("creating /d: %v", err)
	}

	err = fsys.RemoveFile("/d")
	if !errors.Is(err, ErrIsDirectory) {
		t.Fatalf("removing a directory as a file: %v", err)
	}

	_, err = fsys.OpenFile("/d")
	if !errors.Is(err, ErrIsDirectory) {
		t.Fatalf("opening a directory: %v", err)
	}

}

func TestDirectoryNesting(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateDirectory("/a")
	if err != nil {
		t.Fatalf("creating /a: %v", err)
	}

	err = fsys.CreateDirectory("/a/b")
	if err != nil {
		t.Fatalf("creating /a/b: %v", err)
	}

	err = fsys.CreateFile("/a/b/c")
	if err != nil {
		t.Fatalf("creating /a/b/c: %v", err)
	}

	entries, err := fsys.ListDirectory("/a/b")
	if err != nil {
		t.Fatalf("listing /a/b: %v", err)
	}

	names := entryNames(entries)
	if len(entries) != 3 || !names["."] || !names[".."] || !names["c"] {
		t.Fatalf("unexpected /a/b listing: %v", names)
	}

	err = fsys.CreateDirectory("/a/b")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate mkdir: %v", err)
	}

	err = fsys.CreateDirectory("/missing/x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("mkdir under a missing parent: %v", err)
	}

	checkCounters(t, fsys)

}

func TestChangeDirectory(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateDirectory("/a")
	if err != nil {
		t.Fatalf("creating /a: %v", err)
	}

	err = fsys.CreateDirectory("/a/b")
	if err != nil {
		t.Fatalf("creating /a/b: %v", err)
	}

	err = fsys.ChangeDirectory("/a/b")
	if err != nil {
		t.Fatalf("cd /a/b: %v", err)
	}

	if fsys.CurrentDirectory() != "/a/b" {
		t.Fatalf("cwd is %s", fsys.CurrentDirectory())
	}

	// relative operations resolve against the current directory
	err = fsys.CreateFile("f")
	if err != nil {
		t.Fatalf("creating f: %v", err)
	}

	if fsys.dirs.LookupPath("/a/b/f", "/") == InvalidInode {
		t.Fatalf("relative create landed elsewhere")
	}

	err = fsys.ChangeDirectory("..")
	if err != nil {
		t.Fatalf("cd ..: %v", err)
	}
	if fsys.CurrentDirectory() != "/a" {
		t.Fatalf("cwd is %s after ..", fsys.CurrentDirectory())
	}

	err = fsys.ChangeDirectory("/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("cd to a missing directory: %v", err)
	}

	err = fsys.CreateFile("/file")
	if err != nil {
		t.Fatalf("creating /file: %v", err)
	}
	err = fsys.ChangeDirectory("/file")
	if !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("cd to a file: %v", err)
	}

}

func TestDescriptors(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	_, err := fsys.ReadFile(99, make([]byte, 1))
	if !errors.Is(err, ErrBadFd) {
		t.Fatalf("read on a bad descriptor: %v", err)
	}

	_, err = fsys.WriteFile(99, []byte("x"))
	if !errors.Is(err, ErrBadFd) {
		t.Fatalf("write on a bad descriptor: %v", err)
	}

	err = fsys.CloseFile(99)
	if err != nil {
		t.Fatalf("double close is not a silent no-op: %v", err)
	}

}

func TestRefreshCounters(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	err := fsys.CreateFile("/f")
	if err != nil {
		t.Fatalf("creating /f: %v", err)
	}

	// corrupt the counters, then repair from the bitmaps
	fsys.sb.FreeInodes = 1
	fsys.sb.FreeBlocks = 1

	err = fsys.RefreshCounters()
	if err != nil {
		t.Fatalf("refreshing counters: %v", err)
	}

	checkCounters(t, fsys)

}

func TestInodeExhaustion(t *testing.T) {

	fsys, cleanup := newTestFS(t)
	defer cleanup()

	var err error
	created := 0
	for i := 0; i < MaxInodes; i++ {
		err = fsys.CreateFile("/f" + strconv.Itoa(i))
		if err != nil {
			break
		}
		created++
	}

	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("inode exhaustion surfaced as: %v", err)
	}

	// inode 0 is reserved and the root holds one more
	if created != MaxInodes-2 {
		t.Fatalf("created %d files before exhaustion, expected %d", created, MaxInodes-2)
	}

	sb, _ := fsys.Superblock()
	if sb.FreeInodes != 0 {
		t.Fatalf("free-inode counter is %d at exhaustion", sb.FreeInodes)
	}

	checkCounters(t, fsys)

}

package fs

// OpenFile is an open-file table entry: an inode plus a cursor.
type OpenFile struct {
	Inode  uint32
	Offset uint32
}

// FDTable maps integer descriptors to open files. Descriptors start at 3
// and are handed out by a monotonically increasing counter, so a closed
// descriptor is never reissued.
type FDTable struct {
	next int
	open map[int]*OpenFile
}

// NewFDTable returns an empty descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{
		next: 3,
		open: make(map[int]*OpenFile),
	}
}

// Alloc records a new open file at offset zero and returns its descriptor.
func (t *FDTable) Alloc(inode uint32) int {
	fd := t.next
	t.next++
	t.open[fd] = &OpenFile{Inode: inode}
	return fd
}

// Free removes a descriptor. Freeing an unknown descriptor reports false.
func (t *FDTable) Free(fd int) bool {
	_, ok := t.open[fd]
	delete(t.open, fd)
	return ok
}

// Get returns the open file for fd, or nil if the descriptor is unknown.
func (t *FDTable) Get(fd int) *OpenFile {
	return t.open[fd]
}

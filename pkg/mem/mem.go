package mem

import (
	"sort"

	"github.com/tinix-os/tinix/pkg/elog"
)

// Paged-memory defaults.
const (
	PageFrames          = 8
	PageSize            = 4096
	DefaultVirtualPages = 256
)

// Space is a per-process address-space record.
type Space struct {
	PID          int
	VirtualPages int
}

// Manager is the paged-memory collaborator. The scheduler registers each
// process's virtual page count on creation and tears the space down on
// termination; paging policy itself is outside the simulator's core.
type Manager struct {
	log    elog.View
	frames int
	spaces map[int]*Space
}

// New returns a Manager with the given number of physical page frames.
func New(log elog.View, frames int) *Manager {

	if frames <= 0 {
		frames = PageFrames
	}

	return &Manager{
		log:    log,
		frames: frames,
		spaces: make(map[int]*Space),
	}

}

// Register records an address space of the given page count for pid.
func (m *Manager) Register(pid, pages int) {

	if pages <= 0 {
		pages = DefaultVirtualPages
	}

	m.spaces[pid] = &Space{
		PID:          pid,
		VirtualPages: pages,
	}

	m.log.Debugf("registered address space for pid=%d (%d pages of %d bytes)", pid, pages, PageSize)

}

// Release tears down pid's address space. Unknown pids are ignored.
func (m *Manager) Release(pid int) {

	if _, ok := m.spaces[pid]; !ok {
		return
	}

	delete(m.spaces, pid)
	m.log.Debugf("released address space for pid=%d", pid)

}

// Pages returns the registered page count for pid.
func (m *Manager) Pages(pid int) (int, bool) {
	space, ok := m.spaces[pid]
	if !ok {
		return 0, false
	}
	return space.VirtualPages, true
}

// Frames returns the number of physical page frames.
func (m *Manager) Frames() int {
	return m.frames
}

// Snapshot returns every registered space in ascending pid order.
func (m *Manager) Snapshot() []Space {

	out := make([]Space, 0, len(m.spaces))
	for _, space := range m.spaces {
		out = append(out, *space)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out

}

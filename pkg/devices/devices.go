package devices

import (
	"sort"

	"github.com/tinix-os/tinix/pkg/elog"
)

// DiskDeviceID is the device id the disk is pre-registered under.
const DiskDeviceID uint32 = 0

// Free is the owner value of an unowned device.
const Free = -1

// Handoff records the outcome of releasing one device: the device id and
// the waiter ownership transferred to, if any.
type Handoff struct {
	DevID    uint32
	NewOwner int
	Granted  bool
}

// Snapshot is a point-in-time copy of one device's allocation state.
type Snapshot struct {
	DevID     uint32
	Name      string
	OwnerPID  int
	WaitQueue []int
}

type device struct {
	name      string
	owner     int
	waitQueue []int
}

// Manager tracks exclusive devices. Each device has at most one owner and
// a strict-FIFO wait queue; a pid appears at most once per queue and never
// waits on a device it owns. The disk is registered as device 0.
type Manager struct {
	log     elog.View
	devices map[uint32]*device
}

// New returns a Manager with the disk pre-registered.
func New(log elog.View) *Manager {

	m := &Manager{
		log:     log,
		devices: make(map[uint32]*device),
	}

	m.Register(DiskDeviceID, "disk")
	return m

}

// Register adds a device, or renames it if the id is already known.
func (m *Manager) Register(devID uint32, name string) {

	dev, ok := m.devices[devID]
	if !ok {
		dev = &device{owner: Free}
		m.devices[devID] = dev
	}

	dev.name = name

}

// Has reports whether a device id is registered.
func (m *Manager) Has(devID uint32) bool {
	_, ok := m.devices[devID]
	return ok
}

// Request asks for exclusive ownership of a device on behalf of pid. It
// returns true if ownership is held on return (including when pid already
// owned the device). Otherwise pid joins the wait queue, unless it is
// already in it, and the request is not granted.
func (m *Manager) Request(pid int, devID uint32) bool {

	dev, ok := m.devices[devID]
	if !ok {
		m.log.Errorf("invalid device id=%d (request by pid=%d)", devID, pid)
		return false
	}

	if dev.owner == Free {
		dev.owner = pid
		m.log.Debugf("granted dev=%d (%s) to pid=%d", devID, dev.name, pid)
		return true
	}

	if dev.owner == pid {
		m.log.Debugf("request dev=%d (%s) ignored: pid=%d already owns it", devID, dev.name, pid)
		return true
	}

	for _, waiter := range dev.waitQueue {
		if waiter == pid {
			m.log.Debugf("request dev=%d (%s) ignored: pid=%d already queued", devID, dev.name, pid)
			return false
		}
	}

	dev.waitQueue = append(dev.waitQueue, pid)
	m.log.Debugf("queued pid=%d for dev=%d (%s), owner=%d, qlen=%d", pid, devID, dev.name, dev.owner, len(dev.waitQueue))
	return false

}

// Release gives up ownership of a device. Only the owner may release; a
// release by anyone else does not mutate. When waiters exist, ownership
// passes to the head of the queue and that pid is returned with true.
func (m *Manager) Release(pid int, devID uint32) (int, bool) {

	dev, ok := m.devices[devID]
	if !ok {
		m.log.Errorf("invalid device id=%d (release by pid=%d)", devID, pid)
		return Free, false
	}

	if dev.owner != pid {
		m.log.Warnf("release dev=%d (%s) denied: owner=%d, pid=%d", devID, dev.name, dev.owner, pid)
		return Free, false
	}

	if len(dev.waitQueue) == 0 {
		dev.owner = Free
		m.log.Debugf("released dev=%d (%s) by pid=%d", devID, dev.name, pid)
		return Free, false
	}

	next := dev.waitQueue[0]
	dev.waitQueue = dev.waitQueue[1:]
	dev.owner = next

	m.log.Debugf("released dev=%d (%s) by pid=%d, reassigned to pid=%d, qlen=%d", devID, dev.name, pid, next, len(dev.waitQueue))
	return next, true

}

// CancelWait removes pid from every wait queue and returns the number of
// removals.
func (m *Manager) CancelWait(pid int) int {

	removed := 0

	for devID, dev := range m.devices {

		kept := dev.waitQueue[:0]
		for _, waiter := range dev.waitQueue {
			if waiter == pid {
				removed++
				m.log.Debugf("removed pid=%d from dev=%d (%s) wait queue", pid, devID, dev.name)
				continue
			}
			kept = append(kept, waiter)
		}
		dev.waitQueue = kept

	}

	return removed

}

// ReleaseAll releases every device owned by pid, collecting the resulting
// handoffs, then cancels all of pid's queue memberships. The scheduler
// calls this when a process terminates.
func (m *Manager) ReleaseAll(pid int) []Handoff {

	var owned []uint32
	for devID, dev := range m.devices {
		if dev.owner == pid {
			owned = append(owned, devID)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })

	events := make([]Handoff, 0, len(owned))
	for _, devID := range owned {
		next, granted := m.Release(pid, devID)
		events = append(events, Handoff{
			DevID:    devID,
			NewOwner: next,
			Granted:  granted,
		})
	}

	m.CancelWait(pid)
	return events

}

// Snapshot returns a copy of every device's state, ordered by device id.
func (m *Manager) Snapshot() []Snapshot {

	out := make([]Snapshot, 0, len(m.devices))

	for devID, dev := range m.devices {
		snap := Snapshot{
			DevID:    devID,
			Name:     dev.name,
			OwnerPID: dev.owner,
		}
		snap.WaitQueue = append(snap.WaitQueue, dev.waitQueue...)
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DevID < out[j].DevID })
	return out

}

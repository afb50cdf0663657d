package proc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tinix-os/tinix/pkg/elog"
)

// NoProcess is the running-slot value when the CPU is idle.
const NoProcess = -1

// DefaultTimeSlice is the quantum used when no configuration overrides it.
const DefaultTimeSlice = 3

// Scheduler failure modes.
var (
	ErrNoSuchProcess = errors.New("no such process")
	ErrBadState      = errors.New("operation not valid in the process's current state")
)

// ResourceReleaser releases every exclusive resource a terminating process
// holds and reports the pids that inherited ownership as a result.
type ResourceReleaser interface {
	ReleaseAll(pid int) (handoffs []int)
}

// MemoryHooks is the paged-memory collaborator's interface: an address
// space is registered when a process is created and torn down when it
// terminates. Paging policy is outside the scheduler.
type MemoryHooks interface {
	Register(pid, pages int)
	Release(pid int)
}

// Manager is a round-robin scheduler over passive PCBs. Time advances only
// through explicit Ticks; preemption happens at quantum exhaustion or via
// RunProcess, never asynchronously. The ready queue tolerates stale
// entries and skips them at dispatch.
type Manager struct {
	log       elog.View
	processes map[int]*PCB
	ready     []int
	nextPID   int
	nextTick  int
	current   int
	timeSlice int
	devices   ResourceReleaser
	memory    MemoryHooks
}

// New returns a Manager with the given quantum. Either hook may be nil.
func New(log elog.View, timeSlice int, devices ResourceReleaser, memory MemoryHooks) *Manager {

	if timeSlice <= 0 {
		timeSlice = DefaultTimeSlice
	}

	return &Manager{
		log:       log,
		processes: make(map[int]*PCB),
		nextPID:   1,
		current:   NoProcess,
		timeSlice: timeSlice,
		devices:   devices,
		memory:    memory,
	}

}

// CreateProcess allocates a pid, registers the address space, and enqueues
// the new process as Ready.
func (m *Manager) CreateProcess(totalTime, virtualPages int, prog Program) int {

	pid := m.nextPID
	m.nextPID++

	m.processes[pid] = &PCB{
		PID:           pid,
		State:         Ready,
		TimeSlice:     m.timeSlice,
		TimeSliceLeft: m.timeSlice,
		TotalTime:     totalTime,
		VirtualPages:  virtualPages,
		Program:       prog,
	}
	m.ready = append(m.ready, pid)

	if m.memory != nil {
		m.memory.Register(pid, virtualPages)
	}

	m.log.Printf("process %d created (total_time=%d) and added to ready queue", pid, totalTime)
	return pid

}

// TerminateProcess removes a process, releasing its devices and memory.
// Ready-queue entries for the pid become stale and are skipped at dispatch.
func (m *Manager) TerminateProcess(pid int) error {

	if _, ok := m.processes[pid]; !ok {
		return fmt.Errorf("terminating process %d: %w", pid, ErrNoSuchProcess)
	}

	m.reap(pid)
	m.log.Printf("process %d terminated", pid)
	return nil

}

// reap removes the PCB and runs the teardown hooks: owned devices are
// released (waking any waiters that inherited ownership) and the address
// space is torn down.
func (m *Manager) reap(pid int) {

	delete(m.processes, pid)
	if pid == m.current {
		m.current = NoProcess
	}

	if m.devices != nil {
		for _, next := range m.devices.ReleaseAll(pid) {
			m.WakeFromDevice(next)
		}
	}

	if m.memory != nil {
		m.memory.Release(pid)
	}

}

// WakeFromDevice readies a process that was blocked waiting for a device
// it has now been granted. Anything not blocked is left alone.
func (m *Manager) WakeFromDevice(pid int) {

	pcb, ok := m.processes[pid]
	if !ok || pcb.State != Blocked {
		return
	}

	pcb.State = Ready
	pcb.BlockedTime = 0
	pcb.BlockedReason = ReasonNone
	pcb.WaitingDevice = 0
	m.ready = append(m.ready, pid)

	m.log.Printf("process %d granted its device and woken up", pid)

}

// RunProcess dispatches pid to the CPU immediately, preempting the current
// process if there is one. Only Ready processes may be dispatched.
func (m *Manager) RunProcess(pid int) error {

	pcb, ok := m.processes[pid]
	if !ok {
		return fmt.Errorf("running process %d: %w", pid, ErrNoSuchProcess)
	}

	if pcb.State != Ready {
		return fmt.Errorf("running process %d (state=%s): %w", pid, pcb.State, ErrBadState)
	}

	if m.current != NoProcess && m.current != pid {
		prev := m.processes[m.current]
		prev.State = Ready
		m.ready = append(m.ready, prev.PID)
		m.log.Printf("process %d preempted", prev.PID)
	}

	m.current = pid
	pcb.State = Running
	m.log.Printf("process %d is now running", pid)
	return nil

}

// BlockProcess puts a Running or Ready process to sleep for the given
// number of ticks. Blocking the running process triggers a reschedule.
func (m *Manager) BlockProcess(pid, duration int) error {
	return m.block(pid, duration, ReasonSleep, 0)
}

// BlockOnDevice blocks a process waiting for exclusive ownership of a
// device. Device waits are not timed; the wakeup comes from a release
// handoff or an explicit WakeupProcess.
func (m *Manager) BlockOnDevice(pid int, devID uint32) error {
	return m.block(pid, 0, ReasonDevice, devID)
}

func (m *Manager) block(pid, duration int, reason BlockReason, devID uint32) error {

	pcb, ok := m.processes[pid]
	if !ok {
		return fmt.Errorf("blocking process %d: %w", pid, ErrNoSuchProcess)
	}

	if pcb.State != Running && pcb.State != Ready {
		return fmt.Errorf("blocking process %d (state=%s): %w", pid, pcb.State, ErrBadState)
	}

	pcb.State = Blocked
	pcb.BlockedTime = duration
	pcb.BlockedReason = reason
	pcb.WaitingDevice = devID

	if reason == ReasonDevice {
		m.log.Printf("process %d is blocked waiting for device %d", pid, devID)
	} else {
		m.log.Printf("process %d is blocked for %d ticks", pid, duration)
	}

	// Stale ready-queue entries for this pid are left behind and skipped
	// at dispatch.
	if pid == m.current {
		m.current = NoProcess
		m.schedule()
	}

	return nil

}

// WakeupProcess makes a Blocked process Ready and enqueues it.
func (m *Manager) WakeupProcess(pid int) error {

	pcb, ok := m.processes[pid]
	if !ok {
		return fmt.Errorf("waking process %d: %w", pid, ErrNoSuchProcess)
	}

	if pcb.State != Blocked {
		return fmt.Errorf("waking process %d (state=%s): %w", pid, pcb.State, ErrBadState)
	}

	pcb.State = Ready
	pcb.BlockedTime = 0
	pcb.BlockedReason = ReasonNone
	pcb.WaitingDevice = 0
	m.ready = append(m.ready, pid)

	m.log.Printf("process %d woken up and added to ready queue", pid)
	return nil

}

// Tick advances simulated time by one unit: blocked processes age first,
// then the running process consumes quantum (terminating on completion,
// requeueing on exhaustion), and finally the CPU is rescheduled if idle.
func (m *Manager) Tick() {

	m.nextTick++
	m.log.Printf("=== tick %d ===", m.nextTick)

	m.ageBlocked()

	// An idle CPU dispatches before consuming so that a tick is never
	// wasted while ready processes are queued.
	if m.current == NoProcess {
		m.schedule()
	}

	if m.current != NoProcess {

		pcb := m.processes[m.current]
		pcb.TimeSliceLeft--
		pcb.CPUTime++
		pcb.PC++

		m.log.Printf("process %d executing (%d/%d)", pcb.PID, pcb.CPUTime, pcb.TotalTime)

		if pcb.CPUTime >= pcb.TotalTime {
			m.log.Printf("process %d completed", pcb.PID)
			pcb.State = Terminated
			m.reap(pcb.PID)
		} else if pcb.TimeSliceLeft <= 0 {
			m.log.Printf("process %d time slice exhausted", pcb.PID)
			pcb.State = Ready
			pcb.TimeSliceLeft = pcb.TimeSlice
			m.ready = append(m.ready, pcb.PID)
			m.current = NoProcess
		}

	}

	if m.current == NoProcess && len(m.ready) > 0 {
		m.schedule()
	}

}

// ageBlocked decrements every timed block, waking expired sleepers in
// ascending pid order. Device waits have no timer and are never aged out.
func (m *Manager) ageBlocked() {

	pids := make([]int, 0, len(m.processes))
	for pid := range m.processes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {

		pcb := m.processes[pid]
		if pcb.State != Blocked || pcb.BlockedTime <= 0 {
			continue
		}

		pcb.BlockedTime--
		if pcb.BlockedTime <= 0 {
			pcb.State = Ready
			pcb.BlockedReason = ReasonNone
			m.ready = append(m.ready, pid)
			m.log.Printf("process %d auto-woken up", pid)
		}

	}

}

// schedule pops pids off the ready queue until it finds one that still
// exists and is still Ready, then promotes it to Running.
func (m *Manager) schedule() {

	for len(m.ready) > 0 {

		pid := m.ready[0]
		m.ready = m.ready[1:]

		pcb, ok := m.processes[pid]
		if !ok || pcb.State != Ready {
			continue
		}

		m.current = pid
		pcb.State = Running
		m.log.Printf("process %d is now running", pid)
		return

	}

	m.log.Printf("CPU idle - no ready processes")

}

// Current returns the running pid, or NoProcess when the CPU is idle.
func (m *Manager) Current() int {
	return m.current
}

// TickCount returns the number of ticks elapsed.
func (m *Manager) TickCount() int {
	return m.nextTick
}

// Exists reports whether pid is present in the process table.
func (m *Manager) Exists(pid int) bool {
	_, ok := m.processes[pid]
	return ok
}

// Get returns a copy of pid's PCB.
func (m *Manager) Get(pid int) (PCB, bool) {
	pcb, ok := m.processes[pid]
	if !ok {
		return PCB{}, false
	}
	return *pcb, true
}

// Snapshot returns copies of every PCB in ascending pid order.
func (m *Manager) Snapshot() []PCB {

	out := make([]PCB, 0, len(m.processes))
	for _, pcb := range m.processes {
		out = append(out, *pcb)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out

}

package kernel

import (
	"github.com/tinix-os/tinix/pkg/devices"
	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/elog"
	"github.com/tinix-os/tinix/pkg/fs"
	"github.com/tinix-os/tinix/pkg/mem"
	"github.com/tinix-os/tinix/pkg/proc"
	"github.com/tinix-os/tinix/pkg/tcfg"
)

// Kernel owns the simulator's subsystems and wires them together in
// dependency order. Subsystems exchange identifiers (pids, device ids,
// inode numbers), never references into each other's state; the only
// cross-subsystem hooks are the device-release and memory-teardown calls
// in the scheduler's terminate path and the request/release coordination
// below.
type Kernel struct {
	log elog.View
	cfg *tcfg.Config

	disk    *disk.Disk
	fs      *fs.FileSystem
	mem     *mem.Manager
	devices *devices.Manager
	procs   *proc.Manager
}

// deviceHook adapts the device manager's release-all into the pid list the
// scheduler wakes on process teardown.
type deviceHook struct {
	devs *devices.Manager
}

func (h *deviceHook) ReleaseAll(pid int) []int {

	var woken []int
	for _, ev := range h.devs.ReleaseAll(pid) {
		if ev.Granted {
			woken = append(woken, ev.NewOwner)
		}
	}

	return woken

}

// New boots a Kernel against the configured disk image.
func New(cfg *tcfg.Config, log elog.View) (*Kernel, error) {

	d, err := disk.New(cfg.Disk.Image, log)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		log:     log,
		cfg:     cfg,
		disk:    d,
		fs:      fs.New(d, log),
		mem:     mem.New(log, cfg.Mem.PageFrames),
		devices: devices.New(log),
	}

	k.procs = proc.New(log, cfg.Proc.TimeSlice, &deviceHook{devs: k.devices}, k.mem)

	return k, nil

}

// Config returns the configuration the kernel booted with.
func (k *Kernel) Config() *tcfg.Config {
	return k.cfg
}

// Disk returns the block device.
func (k *Kernel) Disk() *disk.Disk {
	return k.disk
}

// FS returns the file system.
func (k *Kernel) FS() *fs.FileSystem {
	return k.fs
}

// Mem returns the memory manager.
func (k *Kernel) Mem() *mem.Manager {
	return k.mem
}

// Devices returns the device allocator.
func (k *Kernel) Devices() *devices.Manager {
	return k.devices
}

// Procs returns the process scheduler.
func (k *Kernel) Procs() *proc.Manager {
	return k.procs
}

// RequestDevice asks for a device on behalf of pid. A denied request
// blocks the process (if it exists in the scheduler) with a device reason;
// the eventual release handoff wakes it.
func (k *Kernel) RequestDevice(pid int, devID uint32) bool {

	if k.devices.Request(pid, devID) {
		return true
	}

	if !k.devices.Has(devID) {
		return false
	}

	if k.procs.Exists(pid) {
		_ = k.procs.BlockOnDevice(pid, devID)
	}

	return false

}

// ReleaseDevice releases a device held by pid. When ownership hands off,
// the new owner is woken if it was blocked waiting.
func (k *Kernel) ReleaseDevice(pid int, devID uint32) (int, bool) {

	next, granted := k.devices.Release(pid, devID)
	if granted {
		k.procs.WakeFromDevice(next)
	}

	return next, granted

}

// TerminateProcess removes a process; the scheduler's teardown path
// releases its devices and memory.
func (k *Kernel) TerminateProcess(pid int) error {
	return k.procs.TerminateProcess(pid)
}

// Close persists file-system state and detaches the disk image.
func (k *Kernel) Close() error {

	err := k.fs.Close()
	if err != nil {
		_ = k.disk.Close()
		return err
	}

	return k.disk.Close()

}

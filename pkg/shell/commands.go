package shell

import (
	"fmt"
	"strconv"

	"github.com/cloudfoundry/bytefmt"
	"github.com/sisatech/tablewriter"

	"github.com/tinix-os/tinix/pkg/devices"
	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/fs"
	"github.com/tinix-os/tinix/pkg/proc"
)

const helpText = `File system:
  format                 create a fresh file system on the disk image
  mount                  mount the existing file system
  sbinfo                 print the superblock
  inode N                print inode N
  mkdir PATH             create a directory
  ls [PATH]              list a directory
  cd PATH                change the current directory
  pwd                    print the current directory
  touch PATH             create an empty file
  rm PATH                remove a file
  open PATH              open a file, printing its descriptor
  close FD               close a descriptor
  read FD N              read up to N bytes from a descriptor
  write FD TEXT          write TEXT at the descriptor's cursor

Processes:
  spawn [TOTAL]          create a process needing TOTAL ticks of CPU
  kill PID               terminate a process
  run PID                dispatch a process immediately
  block PID TICKS        block a process for a number of ticks
  wakeup PID             wake a blocked process
  tick [N]               advance simulated time
  ps                     dump the process table
  mem                    dump registered address spaces

Devices:
  request PID DEV        request exclusive ownership of a device
  release PID DEV        release a device
  devices                dump device ownership and wait queues

Other:
  exec FILE              run a script of shell commands
  help                   show this help
  exit                   leave the shell`

// Execute dispatches one parsed command. It reports whether the shell
// should quit.
func (s *Shell) Execute(args []string) (bool, error) {

	cmd, args := args[0], args[1:]

	switch cmd {

	case "help":
		fmt.Fprintln(s.out, helpText)

	case "exit", "quit":
		return true, nil

	case "format":
		return false, s.k.FS().Format()

	case "mount":
		return false, s.k.FS().Mount()

	case "sbinfo":
		return false, s.printSuperblock()

	case "inode":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: inode N")
		}
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return false, fmt.Errorf("bad inode number '%s'", args[0])
		}
		return false, s.printInode(uint32(n))

	case "mkdir":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: mkdir PATH")
		}
		return false, s.k.FS().CreateDirectory(args[0])

	case "ls":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		entries, err := s.k.FS().ListDirectory(path)
		if err != nil {
			return false, err
		}
		for _, entry := range entries {
			fmt.Fprintf(s.out, "%-8d %s\n", entry.Inode, entry.Name)
		}

	case "cd":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: cd PATH")
		}
		return false, s.k.FS().ChangeDirectory(args[0])

	case "pwd":
		fmt.Fprintln(s.out, s.k.FS().CurrentDirectory())

	case "touch":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: touch PATH")
		}
		return false, s.k.FS().CreateFile(args[0])

	case "rm":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: rm PATH")
		}
		return false, s.k.FS().RemoveFile(args[0])

	case "open":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: open PATH")
		}
		fd, err := s.k.FS().OpenFile(args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "fd %d\n", fd)

	case "close":
		fd, err := s.fdArg(args, "close FD")
		if err != nil {
			return false, err
		}
		return false, s.k.FS().CloseFile(fd)

	case "read":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: read FD N")
		}
		fd, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("bad descriptor '%s'", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return false, fmt.Errorf("bad byte count '%s'", args[1])
		}
		buf := make([]byte, n)
		count, err := s.k.FS().ReadFile(fd, buf)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "read %d bytes: %q\n", count, buf[:count])

	case "write":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: write FD TEXT")
		}
		fd, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("bad descriptor '%s'", args[0])
		}
		count, err := s.k.FS().WriteFile(fd, []byte(args[1]))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "wrote %d bytes\n", count)

	case "spawn":
		total := s.k.Config().Proc.DefaultTotalTime
		if len(args) > 0 {
			var err error
			total, err = strconv.Atoi(args[0])
			if err != nil || total <= 0 {
				return false, fmt.Errorf("bad total time '%s'", args[0])
			}
		}
		pages := s.k.Config().Mem.VirtualPages
		pid := s.k.Procs().CreateProcess(total, pages, &program{name: "sim"})
		fmt.Fprintf(s.out, "pid %d\n", pid)

	case "kill":
		pid, err := s.pidArg(args, "kill PID")
		if err != nil {
			return false, err
		}
		return false, s.k.TerminateProcess(pid)

	case "run":
		pid, err := s.pidArg(args, "run PID")
		if err != nil {
			return false, err
		}
		return false, s.k.Procs().RunProcess(pid)

	case "block":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: block PID TICKS")
		}
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("bad pid '%s'", args[0])
		}
		ticks, err := strconv.Atoi(args[1])
		if err != nil || ticks <= 0 {
			return false, fmt.Errorf("bad tick count '%s'", args[1])
		}
		return false, s.k.Procs().BlockProcess(pid, ticks)

	case "wakeup":
		pid, err := s.pidArg(args, "wakeup PID")
		if err != nil {
			return false, err
		}
		return false, s.k.Procs().WakeupProcess(pid)

	case "tick":
		n := 1
		if len(args) > 0 {
			var err error
			n, err = strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return false, fmt.Errorf("bad tick count '%s'", args[0])
			}
		}
		for i := 0; i < n; i++ {
			s.k.Procs().Tick()
		}

	case "ps":
		s.printProcesses()

	case "mem":
		for _, space := range s.k.Mem().Snapshot() {
			fmt.Fprintf(s.out, "pid %-6d %d pages\n", space.PID, space.VirtualPages)
		}

	case "request":
		pid, devID, err := s.devArgs(args, "request PID DEV")
		if err != nil {
			return false, err
		}
		if s.k.RequestDevice(pid, devID) {
			fmt.Fprintln(s.out, "granted")
		} else {
			fmt.Fprintln(s.out, "not granted")
		}

	case "release":
		pid, devID, err := s.devArgs(args, "release PID DEV")
		if err != nil {
			return false, err
		}
		next, granted := s.k.ReleaseDevice(pid, devID)
		if granted {
			fmt.Fprintf(s.out, "handoff to %d\n", next)
		} else {
			fmt.Fprintln(s.out, "no handoff")
		}

	case "devices":
		s.printDevices()

	case "exec":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: exec FILE")
		}
		return false, s.RunScript(args[0])

	default:
		return false, fmt.Errorf("unknown command '%s' (try 'help')", cmd)

	}

	return false, nil

}

func (s *Shell) pidArg(args []string, usage string) (int, error) {

	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("bad pid '%s'", args[0])
	}

	return pid, nil

}

func (s *Shell) fdArg(args []string, usage string) (int, error) {

	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}

	fd, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("bad descriptor '%s'", args[0])
	}

	return fd, nil

}

func (s *Shell) devArgs(args []string, usage string) (int, uint32, error) {

	if len(args) != 2 {
		return 0, 0, fmt.Errorf("usage: %s", usage)
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad pid '%s'", args[0])
	}

	devID, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad device id '%s'", args[1])
	}

	return pid, uint32(devID), nil

}

func (s *Shell) printSuperblock() error {

	sb, err := s.k.FS().Superblock()
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "magic:            0x%08X\n", sb.Magic)
	fmt.Fprintf(s.out, "total blocks:     %d (%s)\n", sb.TotalBlocks, bytefmt.ByteSize(uint64(sb.TotalBlocks)*disk.BlockSize))
	fmt.Fprintf(s.out, "total inodes:     %d\n", sb.TotalInodes)
	fmt.Fprintf(s.out, "free blocks:      %d\n", sb.FreeBlocks)
	fmt.Fprintf(s.out, "free inodes:      %d\n", sb.FreeInodes)
	fmt.Fprintf(s.out, "inode table:      blocks %d..%d\n", sb.InodeTableStart, sb.InodeTableStart+sb.InodeTableBlocks-1)
	fmt.Fprintf(s.out, "data region:      blocks %d..%d\n", sb.DataBlocksStart, sb.TotalBlocks-1)
	return nil

}

func (s *Shell) printInode(n uint32) error {

	ino, err := s.k.FS().StatInode(n)
	if err != nil {
		return err
	}

	kind := "file"
	if ino.Type == fs.InodeTypeDirectory {
		kind = "directory"
	}

	fmt.Fprintf(s.out, "inode %d: %s, %s, %d block(s)\n", n, kind, bytefmt.ByteSize(uint64(ino.Size)), ino.BlocksUsed)
	for i := uint32(0); i < ino.BlocksUsed; i++ {
		fmt.Fprintf(s.out, "  block[%d] = %d\n", i, ino.Direct[i])
	}
	return nil

}

func (s *Shell) printProcesses() {

	table := tablewriter.NewWriter(s.out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeader([]string{"PID", "STATE", "REMAIN", "CPU/TOTAL", "BLOCKED", "REASON"})

	for _, pcb := range s.k.Procs().Snapshot() {
		table.Append([]string{
			strconv.Itoa(pcb.PID),
			pcb.State.String(),
			strconv.Itoa(pcb.TimeSliceLeft),
			fmt.Sprintf("%d/%d", pcb.CPUTime, pcb.TotalTime),
			strconv.Itoa(pcb.BlockedTime),
			pcb.BlockedReason.String(),
		})
	}

	table.Render()

	if current := s.k.Procs().Current(); current != proc.NoProcess {
		fmt.Fprintf(s.out, "currently running: %d\n", current)
	} else {
		fmt.Fprintln(s.out, "CPU idle")
	}

}

func (s *Shell) printDevices() {

	table := tablewriter.NewWriter(s.out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeader([]string{"DEV", "NAME", "OWNER", "WAITERS"})

	for _, snap := range s.k.Devices().Snapshot() {
		owner := "free"
		if snap.OwnerPID != devices.Free {
			owner = strconv.Itoa(snap.OwnerPID)
		}
		waiters := ""
		for i, pid := range snap.WaitQueue {
			if i > 0 {
				waiters += " "
			}
			waiters += strconv.Itoa(pid)
		}
		table.Append([]string{
			strconv.FormatUint(uint64(snap.DevID), 10),
			snap.Name,
			owner,
			waiters,
		})
	}

	table.Render()

}

package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/tinix-os/tinix/pkg/elog"
	"github.com/tinix-os/tinix/pkg/kernel"
)

// Shell is the interactive front end over the kernel: a line parser, a
// command dispatch table, and a script runner. It never terminates the
// process on a failed command; errors are reported and the loop continues.
type Shell struct {
	k   *kernel.Kernel
	log elog.View
	in  io.Reader
	out io.Writer
}

// New returns a Shell reading from stdin and writing to stdout.
func New(k *kernel.Kernel, log elog.View) *Shell {
	return &Shell{
		k:   k,
		log: log,
		in:  os.Stdin,
		out: os.Stdout,
	}
}

// program is the opaque executable handle attached to PCBs spawned from
// the shell.
type program struct {
	name string
}

func (p *program) Name() string {
	return p.name
}

// Run reads and executes commands until exit or end of input.
func (s *Shell) Run() error {

	fmt.Fprintln(s.out, "tinix interactive shell -- type 'help' for commands")

	scanner := bufio.NewScanner(s.in)

	for {

		fmt.Fprintf(s.out, "tinix:%s> ", s.k.FS().CurrentDirectory())

		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		quit, err := s.ExecuteLine(scanner.Text())
		if err != nil {
			s.log.Errorf("%v", err)
		}
		if quit {
			return nil
		}

	}

}

// ExecuteLine parses and dispatches a single command line. It reports
// whether the shell should quit.
func (s *Shell) ExecuteLine(line string) (bool, error) {

	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}

	args, err := shellwords.Parse(line)
	if err != nil {
		return false, fmt.Errorf("parsing command: %w", err)
	}

	if len(args) == 0 {
		return false, nil
	}

	return s.Execute(args)

}

// RunScript executes a file of shell commands line by line. Blank lines
// and '#' comments are skipped; each command is echoed before it runs.
func (s *Shell) RunScript(path string) error {

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening script '%s': %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fmt.Fprintf(s.out, "tinix:%s> %s\n", s.k.FS().CurrentDirectory(), line)

		quit, err := s.ExecuteLine(line)
		if err != nil {
			s.log.Errorf("%v", err)
		}
		if quit {
			return nil
		}

	}

	return scanner.Err()

}

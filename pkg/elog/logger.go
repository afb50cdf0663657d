package elog

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Logger is the leveled logging surface the simulator's subsystems write
// to. Printf is the narration channel and is always visible; Infof and
// Debugf are gated behind the verbose and debug switches.
type Logger interface {
	Debugf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Printf(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
}

// Progress tracks a single long-running byte-counted operation, such as
// zero-filling a disk image.
type Progress interface {
	Increment(n int64)
	Finish(success bool)
}

// View is what subsystem constructors accept: a logger plus the ability
// to open progress bars.
type View interface {
	Logger
	NewProgress(label string, total int64) Progress
}

// Options selects how much a CLI logger shows and how it renders.
type Options struct {
	Verbose bool
	Debug   bool
	JSON    bool
}

// CLI is the terminal implementation of View. It owns a private logrus
// instance rather than configuring the global one, so tests and embedders
// stay unaffected.
type CLI struct {
	opts Options
	out  *logrus.Logger
}

// NewCLI builds a ready-to-use terminal logger from the given options.
func NewCLI(opts Options) *CLI {

	out := logrus.New()
	out.SetOutput(os.Stdout)
	out.SetLevel(logrus.DebugLevel)

	if opts.JSON {
		out.SetFormatter(&logrus.JSONFormatter{})
	} else {
		out.SetFormatter(&consoleFormatter{})
	}

	return &CLI{
		opts: opts,
		out:  out,
	}

}

// Debugf logs diagnostic detail, shown only with the debug switch.
func (c *CLI) Debugf(format string, x ...interface{}) {
	if c.opts.Debug {
		c.out.Debugf(format, x...)
	}
}

// Infof logs secondary narration, shown with the verbose or debug switch.
func (c *CLI) Infof(format string, x ...interface{}) {
	if c.opts.Verbose || c.opts.Debug {
		c.out.Infof(format, x...)
	}
}

// Printf logs primary narration, always shown.
func (c *CLI) Printf(format string, x ...interface{}) {
	c.out.Infof(format, x...)
}

// Warnf logs a recoverable problem.
func (c *CLI) Warnf(format string, x ...interface{}) {
	c.out.Warnf(format, x...)
}

// Errorf logs a failed operation.
func (c *CLI) Errorf(format string, x ...interface{}) {
	c.out.Errorf(format, x...)
}

// consoleFormatter renders one message per line, tinted by severity.
// The color package suppresses the escape codes itself when stdout is
// not a terminal.
type consoleFormatter struct{}

var severityTint = map[logrus.Level]*color.Color{
	logrus.DebugLevel: color.New(color.Faint),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
}

func (f *consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {

	tint, ok := severityTint[entry.Level]
	if !ok {
		return []byte(entry.Message + "\n"), nil
	}

	return []byte(fmt.Sprintf("%s\n", tint.Sprint(entry.Message))), nil

}

// NewProgress opens a byte-counted progress bar. JSON mode and unknown
// totals fall back to a silent counter, since neither can render a bar
// meaningfully.
func (c *CLI) NewProgress(label string, total int64) Progress {

	if c.opts.JSON || total <= 0 {
		return nopProgress{}
	}

	container := mpb.New(mpb.WithWidth(60))

	return &barProgress{
		container: container,
		bar: container.AddBar(total,
			mpb.PrependDecorators(decor.Name(label+" ")),
			mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
		),
		total: total,
	}

}

// barProgress drives one mpb bar. Each bar gets its own container: the
// simulator never renders more than one at a time, so there is nothing to
// multiplex.
type barProgress struct {
	container *mpb.Progress
	bar       *mpb.Bar
	total     int64
	done      int64
	finished  bool
}

func (p *barProgress) Increment(n int64) {
	p.done += n
	p.bar.IncrInt64(n)
}

// Finish tears the bar down, aborting it if the operation fell short.
func (p *barProgress) Finish(success bool) {

	if p.finished {
		return
	}
	p.finished = true

	if !success || p.done < p.total {
		p.bar.Abort(true)
	}

	p.container.Wait()

}

type nopProgress struct{}

func (nopProgress) Increment(n int64) {}

func (nopProgress) Finish(success bool) {}

// Discard is a View that suppresses all output. Useful in tests and in
// commands that only want final results on stdout.
var Discard View = discard{}

type discard struct{}

func (discard) Debugf(format string, x ...interface{}) {}
func (discard) Infof(format string, x ...interface{})  {}
func (discard) Printf(format string, x ...interface{}) {}
func (discard) Warnf(format string, x ...interface{})  {}
func (discard) Errorf(format string, x ...interface{}) {}

func (discard) NewProgress(label string, total int64) Progress {
	return nopProgress{}
}

package shell

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/pkg/elog"
	"github.com/tinix-os/tinix/pkg/kernel"
	"github.com/tinix-os/tinix/pkg/tcfg"
)

func testShell(t *testing.T) (*Shell, *bytes.Buffer, func()) {

	t.Helper()

	dir, err := ioutil.TempDir("", "tinix-shell-test")
	require.NoError(t, err)

	cfg := tcfg.Default()
	cfg.Disk.Image = filepath.Join(dir, "disk.img")

	k, err := kernel.New(cfg, elog.Discard)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("booting kernel: %v", err)
	}

	out := new(bytes.Buffer)
	sh := New(k, elog.Discard)
	sh.out = out

	return sh, out, func() {
		k.Close()
		os.RemoveAll(dir)
	}

}

func run(t *testing.T, sh *Shell, line string) {

	t.Helper()

	quit, err := sh.ExecuteLine(line)
	require.NoError(t, err, "command %q", line)
	require.False(t, quit, "command %q quit the shell", line)

}

func TestFileSystemCommands(t *testing.T) {

	sh, out, cleanup := testShell(t)
	defer cleanup()

	run(t, sh, "format")
	run(t, sh, "mkdir /a")
	run(t, sh, "cd /a")
	run(t, sh, "touch f")
	run(t, sh, "pwd")

	assert.Contains(t, out.String(), "/a")
	out.Reset()

	run(t, sh, "ls")
	assert.Contains(t, out.String(), "f")
	out.Reset()

	run(t, sh, "open f")
	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "fd "), "unexpected open output %q", line)
	fd := strings.TrimPrefix(line, "fd ")
	out.Reset()

	run(t, sh, "write "+fd+" hello")
	assert.Contains(t, out.String(), "wrote 5 bytes")
	out.Reset()

	run(t, sh, "close "+fd)

	run(t, sh, "open f")
	line = strings.TrimSpace(out.String())
	fd = strings.TrimPrefix(line, "fd ")
	out.Reset()

	run(t, sh, "read "+fd+" 5")
	assert.Contains(t, out.String(), `"hello"`)

}

func TestProcessAndDeviceCommands(t *testing.T) {

	sh, out, cleanup := testShell(t)
	defer cleanup()

	run(t, sh, "spawn 5")
	assert.Contains(t, out.String(), "pid 1")
	out.Reset()

	run(t, sh, "spawn")
	out.Reset()

	run(t, sh, "tick 3")
	run(t, sh, "ps")
	assert.Contains(t, out.String(), "currently running")
	out.Reset()

	run(t, sh, "request 1 0")
	assert.Contains(t, out.String(), "granted")
	out.Reset()

	run(t, sh, "request 2 0")
	assert.Contains(t, out.String(), "not granted")
	out.Reset()

	run(t, sh, "release 1 0")
	assert.Contains(t, out.String(), "handoff to 2")
	out.Reset()

	run(t, sh, "devices")
	assert.Contains(t, out.String(), "disk")
	out.Reset()

	run(t, sh, "kill 1")
	run(t, sh, "mem")
	assert.NotContains(t, out.String(), "pid 1 ")

}

func TestBlankAndCommentLines(t *testing.T) {

	sh, _, cleanup := testShell(t)
	defer cleanup()

	run(t, sh, "")
	run(t, sh, "   ")
	run(t, sh, "# a comment")

	quit, err := sh.ExecuteLine("exit")
	require.NoError(t, err)
	assert.True(t, quit)

	_, err = sh.ExecuteLine("bogus")
	assert.Error(t, err)

}

func TestRunScript(t *testing.T) {

	sh, _, cleanup := testShell(t)
	defer cleanup()

	dir, err := ioutil.TempDir("", "tinix-script-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "setup.tsh")
	data := `# provision a small tree
format
mkdir /srv
touch /srv/readme

spawn 5
`
	require.NoError(t, ioutil.WriteFile(script, []byte(data), 0644))

	require.NoError(t, sh.RunScript(script))

	entries, err := sh.k.FS().ListDirectory("/srv")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name] = true
	}
	assert.True(t, names["readme"])

	assert.True(t, sh.k.Procs().Exists(1))

	assert.Error(t, sh.RunScript(filepath.Join(dir, "missing.tsh")))

}

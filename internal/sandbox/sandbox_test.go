package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInsideWorkDir(t *testing.T) {
	work := t.TempDir()
	sb, err := New(work)
	require.NoError(t, err)

	abs, err := sb.ResolveWrite("notes/todo.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "notes", "todo.md"), abs)
}

func TestResolveAbsoluteInsideRoot(t *testing.T) {
	work := t.TempDir()
	sb, err := New(work)
	require.NoError(t, err)

	abs, err := sb.ResolveRead(filepath.Join(work, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "a.txt"), abs)
}

func TestResolveTraversalDenied(t *testing.T) {
	work := t.TempDir()
	sb, err := New(work)
	require.NoError(t, err)

	_, err = sb.ResolveRead("../outside.txt")
	assert.ErrorIs(t, err, ErrDenied)

	_, err = sb.ResolveWrite("/etc/passwd")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestResolveSymlinkEscapeDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	work := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(work, "link")))

	sb, err := New(work)
	require.NoError(t, err)

	// The raw string lies inside the working directory; the canonical
	// resolution does not.
	_, err = sb.ResolveWrite("link/evil")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestResolveSymlinkWithinRootsAllowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	work := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(work, "real"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(work, "real"), filepath.Join(work, "alias")))

	sb, err := New(work)
	require.NoError(t, err)

	_, err = sb.ResolveWrite("alias/file.txt")
	assert.NoError(t, err)
}

func TestExtraRoots(t *testing.T) {
	work := t.TempDir()
	output := t.TempDir()
	sb, err := New(work, output)
	require.NoError(t, err)

	abs, err := sb.ResolveWrite(filepath.Join(output, "report.html"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(output, "report.html"), abs)
}

func TestEmptyPathDenied(t *testing.T) {
	sb, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = sb.ResolveRead("")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestRootItselfAllowed(t *testing.T) {
	work := t.TempDir()
	sb, err := New(work)
	require.NoError(t, err)
	_, err = sb.ResolveRead(work)
	assert.NoError(t, err)
}

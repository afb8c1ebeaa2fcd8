package platform

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMkostempTemplateValidation(t *testing.T) {
	_, _, err := Mkostemp(filepath.Join(os.TempDir(), "badtemplate"), 0)
	require.Error(t, err)
}

func TestMkostempCreatesFile(t *testing.T) {
	fd, name, err := Mkostemp(filepath.Join(os.TempDir(), "chunkqueue-test-XXXXXX"), 0)
	if err == ErrUnsupported {
		t.Skip("platform stub build")
	}
	require.NoError(t, err)
	defer os.Remove(name)
	defer Close(fd)

	_, statErr := os.Stat(name)
	require.NoError(t, statErr)
}

func TestPageSizePositive(t *testing.T) {
	require.Greater(t, PageSize(), 0)
}

func TestIsNoSpace(t *testing.T) {
	require.True(t, IsNoSpace(syscall.ENOSPC))
	require.False(t, IsNoSpace(syscall.EAGAIN))
	require.False(t, IsNoSpace(errors.New("some other error")))
}

package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRotatorRotatesWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	r, err := NewLogRotator(path, 1)
	require.NoError(t, err)
	defer r.Close()

	line := strings.Repeat("x", 1023) + "\n"
	for i := 0; i < 1024; i++ {
		_, err := r.Write([]byte(line))
		require.NoError(t, err)
	}
	// 正好写满 1MB，还不会轮转
	_, err = os.Stat(path + ".old")
	assert.True(t, os.IsNotExist(err))

	_, err = r.Write([]byte("next\n"))
	require.NoError(t, err)

	backup, err := os.Stat(path + ".old")
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), backup.Size())

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "next\n", string(current))
}

func TestLogRotatorAppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0644))

	r, err := NewLogRotator(path, 0)
	require.NoError(t, err)
	_, err = r.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))

	_, err = r.Write([]byte("closed"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

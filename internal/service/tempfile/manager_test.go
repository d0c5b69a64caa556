package tempfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathIsUnique(t *testing.T) {
	m := New(t.TempDir(), "in_", nil)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		p := m.NewPath("wav")
		assert.True(t, strings.HasSuffix(p, ".wav"))
		assert.True(t, strings.HasPrefix(filepath.Base(p), "in_"))
		_, dup := seen[p]
		require.False(t, dup)
		seen[p] = struct{}{}
	}
}

func TestCreateAndRemove(t *testing.T) {
	m := New(t.TempDir(), "", nil)

	path, err := m.Create(".webm", strings.NewReader("audio"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))

	m.Remove(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// missing files and empty paths are ignored
	m.Remove(path)
	m.Remove("")
}

func TestDeferRemovesInBackground(t *testing.T) {
	m := New(t.TempDir(), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	path, err := m.Write(".mp3", []byte("mp3"))
	require.NoError(t, err)

	m.Defer(path)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	m := New(t.TempDir(), "", nil)

	path, err := m.Write(".mp3", []byte("mp3"))
	require.NoError(t, err)
	m.Defer(path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeferFallsBackInlineWhenQueueFull(t *testing.T) {
	m := New(t.TempDir(), "", nil)
	m.queue = make(chan string)

	path, err := m.Write(".mp3", []byte("mp3"))
	require.NoError(t, err)

	m.Defer(path)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeferAfterRunExitRemovesInline(t *testing.T) {
	m := New(t.TempDir(), "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	cancel()
	<-done

	path, err := m.Write(".mp3", []byte("mp3"))
	require.NoError(t, err)

	m.Defer(path)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file deferred after shutdown must not wait for a cleaner")
}

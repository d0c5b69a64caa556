// Package tempfile allocates uniquely named scratch files for inbound and
// outbound audio and makes sure they are removed after use.
package tempfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Manager hands out temp paths and removes them, either immediately or from a
// background cleaner once the response that referenced them has been written.
type Manager struct {
	dir    string
	prefix string
	queue  chan string
	logger *zap.Logger

	// mu orders Defer against Run's exit: once stopped is set no path is queued.
	mu      sync.RWMutex
	stopped bool
}

// New creates a manager writing under dir (os.TempDir() when empty).
func New(dir, prefix string, logger *zap.Logger) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dir:    dir,
		prefix: prefix,
		queue:  make(chan string, defaultQueueSize),
		logger: logger.With(zap.String("component", "tempfile")),
	}
}

// NewPath returns a unique, not yet created path ending in suffix (".wav", "mp3", ...).
func (m *Manager) NewPath(suffix string) string {
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return filepath.Join(m.dir, m.prefix+uuid.NewString()+suffix)
}

// Create copies r into a new unique file and returns its path. A partially
// written file is removed before the error is returned.
func (m *Manager) Create(suffix string, r io.Reader) (string, error) {
	path := m.NewPath(suffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		m.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		m.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// Write stores data in a new unique file and returns its path.
func (m *Manager) Write(suffix string, data []byte) (string, error) {
	path := m.NewPath(suffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		m.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return path, nil
}

// Remove deletes path, ignoring every error.
func (m *Manager) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Debug("temp file removal failed", zap.String("path", path), zap.Error(err))
	}
}

// Defer queues path for removal by Run. When the queue is full, or Run has
// already exited, the file is removed inline so nothing is ever leaked.
func (m *Manager) Defer(path string) {
	if path == "" {
		return
	}

	m.mu.RLock()
	queued := false
	if !m.stopped {
		select {
		case m.queue <- path:
			queued = true
		default:
		}
	}
	m.mu.RUnlock()

	if !queued {
		m.Remove(path)
	}
}

// Run removes deferred files until ctx is done, then drains what is left.
// Later Defer calls remove inline.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case path := <-m.queue:
			m.Remove(path)
		case <-ctx.Done():
			m.mu.Lock()
			m.stopped = true
			m.mu.Unlock()
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case path := <-m.queue:
			m.Remove(path)
		default:
			return
		}
	}
}

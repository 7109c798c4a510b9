// Package sentinel supervises the goalkeeper server process. The
// sentinel process starts the real server as a child (the binary
// invoked with the "run" subcommand), restarts it with exponential
// backoff when it exits, and replaces it when the binary on disk is
// swapped for a new build.
package sentinel

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// GracePeriod is how long a child gets to exit after SIGTERM
	// before it is killed.
	GracePeriod = 10 * time.Second

	// InitialBackoff is the first restart delay after a child failure.
	InitialBackoff = 5 * time.Second

	// MaxBackoff caps the restart delay.
	MaxBackoff = 10 * time.Minute

	// BackoffFactor multiplies the delay after each consecutive failure.
	BackoffFactor = 2.0

	// SuccessRunTime is how long a child must stay up before the
	// backoff resets to InitialBackoff.
	SuccessRunTime = 30 * time.Second

	// DebounceInterval batches filesystem events during a binary swap
	// before re-hashing.
	DebounceInterval = 100 * time.Millisecond
)

// Sentinel watches its own binary and keeps one child server running.
type Sentinel struct {
	binaryPath string
	lastHash   [sha256.Size]byte
	backoff    time.Duration
	stopCh     chan struct{}
}

// New creates a Sentinel for the currently running executable.
func New() (*Sentinel, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}
	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("resolve executable symlinks: %w", err)
	}

	hash, err := HashFile(binaryPath)
	if err != nil {
		return nil, err
	}

	return &Sentinel{
		binaryPath: binaryPath,
		lastHash:   hash,
		backoff:    InitialBackoff,
		stopCh:     make(chan struct{}),
	}, nil
}

// Run supervises the child until an OS termination signal arrives.
// It blocks for the lifetime of the sentinel process.
func (s *Sentinel) Run() error {
	slog.Info("sentinel starting", "binary", s.binaryPath, "pid", os.Getpid())

	updateCh := make(chan struct{}, 1)
	go s.watchBinary(updateCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		child, err := s.startChild()
		if err != nil {
			slog.Error("failed to start child", "error", err)
			if s.interrupted(sigCh) {
				return nil
			}
			s.sleepBackoff()
			s.increaseBackoff()
			continue
		}

		started := time.Now()
		childDone := make(chan error, 1)
		go func() {
			childDone <- child.Wait()
		}()

		select {
		case err := <-childDone:
			if time.Since(started) >= SuccessRunTime {
				s.backoff = InitialBackoff
			}
			if err != nil {
				slog.Warn("child exited with error", "error", err)
			} else {
				slog.Info("child exited cleanly")
			}
			s.sleepBackoff()
			s.increaseBackoff()

		case <-updateCh:
			slog.Info("binary updated, restarting child")
			s.stopChild(child, childDone)
			s.backoff = InitialBackoff

		case sig := <-sigCh:
			slog.Info("sentinel received signal, shutting down", "signal", sig)
			close(s.stopCh)
			s.stopChild(child, childDone)
			return nil
		}
	}
}

// startChild launches the server binary with the "run" subcommand,
// inheriting the sentinel's environment and standard streams.
func (s *Sentinel) startChild() (*exec.Cmd, error) {
	cmd := exec.Command(s.binaryPath, "run")
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start child %s: %w", s.binaryPath, err)
	}
	slog.Info("child started", "pid", cmd.Process.Pid)
	return cmd, nil
}

// stopChild sends SIGTERM and waits up to GracePeriod for the child to
// exit before sending SIGKILL.
func (s *Sentinel) stopChild(child *exec.Cmd, childDone <-chan error) {
	if child.Process == nil {
		return
	}
	if err := child.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("failed to signal child", "error", err)
	}
	select {
	case <-childDone:
		return
	case <-time.After(GracePeriod):
		slog.Warn("child did not exit in time, killing", "pid", child.Process.Pid)
		_ = child.Process.Kill()
		<-childDone
	}
}

// interrupted drains a pending termination signal without blocking.
func (s *Sentinel) interrupted(sigCh <-chan os.Signal) bool {
	select {
	case sig := <-sigCh:
		slog.Info("sentinel received signal during restart wait", "signal", sig)
		close(s.stopCh)
		return true
	default:
		return false
	}
}

// watchBinary watches the directory containing the binary and notifies
// updateCh when the binary's checksum changes. Watching the directory
// instead of the file survives the rename most deploy tools use.
func (s *Sentinel) watchBinary(updateCh chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(s.binaryPath)
	if err := watcher.Add(dir); err != nil {
		slog.Error("failed to watch binary directory", "dir", dir, "error", err)
		return
	}

	var debounceTimer *time.Timer
	base := filepath.Base(s.binaryPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(DebounceInterval, func() {
				newHash, err := HashFile(s.binaryPath)
				if err != nil {
					slog.Warn("failed to hash binary after event", "error", err)
					return
				}
				if newHash == s.lastHash {
					return
				}
				slog.Info("binary checksum changed",
					"old", fmt.Sprintf("%x", s.lastHash[:8]),
					"new", fmt.Sprintf("%x", newHash[:8]))
				s.lastHash = newHash
				select {
				case updateCh <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)

		case <-s.stopCh:
			return
		}
	}
}

// HashFile computes the SHA256 hash of the file at the given path.
func HashFile(path string) ([sha256.Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("hash %s: %w", path, err)
	}

	var result [sha256.Size]byte
	copy(result[:], h.Sum(nil))
	return result, nil
}

func (s *Sentinel) sleepBackoff() {
	slog.Info("waiting before restart", "backoff", s.backoff)
	select {
	case <-time.After(s.backoff):
	case <-s.stopCh:
	}
}

func (s *Sentinel) increaseBackoff() {
	s.backoff = time.Duration(float64(s.backoff) * BackoffFactor)
	if s.backoff > MaxBackoff {
		s.backoff = MaxBackoff
	}
}

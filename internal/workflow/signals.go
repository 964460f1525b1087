package workflow

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names recognized under the run's signals directory.
const (
	SignalPause        = "pause"
	SignalResume       = "resume"
	SignalCancel       = "cancel"
	SignalUpdateConfig = "update_config"
)

// SignalManager bridges the filesystem control plane to a Controller. A
// second pentra process signals a running engine by dropping a file into
// runs/<workspace>/<run>/signals/; the update_config file's content is the
// path of the corrected configuration. Watching is best effort: if the
// watcher cannot start, signals are still picked up by Poll.
type SignalManager struct {
	signalsDir string
	controller *Controller

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalManager creates the signals directory under runBase and starts
// watching it.
func NewSignalManager(runBase string, controller *Controller) (*SignalManager, error) {
	signalsDir := filepath.Join(runBase, "signals")
	if err := os.MkdirAll(signalsDir, 0o755); err != nil {
		return nil, err
	}

	sm := &SignalManager{
		signalsDir: signalsDir,
		controller: controller,
		done:       make(chan struct{}),
	}

	// Consume anything left over from a previous process before watching.
	sm.Poll()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[workflow] signal watcher unavailable, falling back to polling: %v", err)
		return sm, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		log.Printf("[workflow] cannot watch %s, falling back to polling: %v", signalsDir, err)
		return sm, nil
	}
	sm.watcher = watcher
	go sm.watch()

	return sm, nil
}

func (sm *SignalManager) watch() {
	for {
		select {
		case <-sm.done:
			return
		case event, ok := <-sm.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sm.consume(filepath.Base(event.Name))
			}
		case <-sm.watcher.Errors:
			// Keep watching; Poll covers missed events.
		}
	}
}

// Poll checks for signal files directly, covering watcher gaps and the
// window before the watcher started.
func (sm *SignalManager) Poll() {
	for _, name := range []string{SignalCancel, SignalPause, SignalResume, SignalUpdateConfig} {
		if _, err := os.Stat(filepath.Join(sm.signalsDir, name)); err == nil {
			sm.consume(name)
		}
	}
}

// consume applies one signal file and removes it.
func (sm *SignalManager) consume(name string) {
	path := filepath.Join(sm.signalsDir, name)
	switch name {
	case SignalPause:
		sm.controller.Pause()
	case SignalResume:
		sm.controller.Resume()
	case SignalCancel:
		sm.controller.Cancel()
	case SignalUpdateConfig:
		content, err := os.ReadFile(path)
		if err != nil {
			return
		}
		configPath := strings.TrimSpace(string(content))
		if configPath != "" {
			sm.controller.UpdateConfig(configPath)
		}
	default:
		return
	}
	os.Remove(path)
}

// Close stops the watcher.
func (sm *SignalManager) Close() {
	close(sm.done)
	if sm.watcher != nil {
		sm.watcher.Close()
	}
}

// SendSignal drops a signal file for a run from another process. For
// update_config, payload is the corrected configuration path; other signals
// carry a timestamp for diagnostics.
func SendSignal(runBase, name, payload string) error {
	signalsDir := filepath.Join(runBase, "signals")
	if err := os.MkdirAll(signalsDir, 0o755); err != nil {
		return err
	}
	if payload == "" {
		payload = time.Now().UTC().Format(time.RFC3339)
	}
	return os.WriteFile(filepath.Join(signalsDir, name), []byte(payload), 0o644)
}

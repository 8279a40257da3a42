package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher calls back when the configuration file changes on disk.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Watch starts watching path and invokes onChange after each burst of
// write/create/rename events settles for debounce. The parent directory is
// watched so that editors replacing the file atomically are still seen.
// onErr receives watcher errors and may be nil.
func Watch(path string, debounce time.Duration, onChange func(), onErr func(error)) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	fw := &FileWatcher{watcher: w, done: make(chan struct{})}
	fw.wg.Add(1)
	go fw.loop(abs, debounce, onChange, onErr)

	return fw, nil
}

func (fw *FileWatcher) loop(path string, debounce time.Duration, onChange func(), onErr func(error)) {
	defer fw.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-fw.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			if onErr != nil {
				onErr(err)
			}
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (fw *FileWatcher) Close() error {
	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

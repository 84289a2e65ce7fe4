package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/dashcam.report/internal/infra"
)

// Watcher re-loads the config file when it changes on disk and hands the
// tracking section to a callback, so tracker tuning can be adjusted
// without restarting the pipeline. Only the tracking group is applied
// live; topology-shaping options (queues, camera, model) require a
// restart and are ignored on reload.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	apply   func(TrackingConfig)
	done    chan struct{}
}

// NewWatcher starts watching path. apply is called from the watcher
// goroutine with each successfully re-validated tracking config.
func NewWatcher(path string, apply func(TrackingConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		apply:   apply,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: editors emit several events per save.
	var pending <-chan time.Time

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			infra.Opsf("config watcher error: %v", err)
		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				infra.Opsf("config reload rejected: %v", err)
				continue
			}
			infra.Opsf("config reloaded, applying tracking tuning (iou=%.2f max_missed=%d min_confirmed=%d)",
				cfg.Tracking.IouThreshold, cfg.Tracking.MaxMissedFrames, cfg.Tracking.MinConfirmedFrames)
			w.apply(cfg.Tracking)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

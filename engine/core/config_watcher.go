package core

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a TOML configuration file every time it is written
// and delivers the parsed result on Updates. Files that fail to parse are
// reported on Errors and the previous configuration stays in effect.
type ConfigWatcher struct {
	path     string
	fsnotify *fsnotify.Watcher

	updates chan *Config
	errors  chan error
	done    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	// Watch the parent directory: editors often replace the file instead of
	// writing to it, which drops a watch placed on the file itself.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	cw := &ConfigWatcher{
		path:     abs,
		fsnotify: fsWatch,
		updates:  make(chan *Config, 1),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) Updates() <-chan *Config {
	return cw.updates
}

func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errors
}

func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closeOnce.Do(func() {
		close(cw.done)
		cw.wg.Wait()
		err = cw.fsnotify.Close()
	})
	return err
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	defer close(cw.updates)
	defer close(cw.errors)

	for {
		select {
		case e, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				cw.report(err)
				continue
			}
			LogInfo("configuration %s reloaded", cw.path)
			select {
			case cw.updates <- cfg:
			case <-cw.done:
				return
			}

		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			LogError(err.Error())
			cw.report(err)

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) report(err error) {
	if err == nil {
		err = errors.New("unknown watcher error")
	}
	select {
	case cw.errors <- err:
	default:
		// nobody is listening, the error has already been logged
	}
}

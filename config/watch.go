// watch.go - fsnotify-driven config hot reload.
// Copyright (C) 2017  David Anthony Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"

	"github.com/katzenpost/core/log"
	"github.com/op/go-logging"
	fsnotify "gopkg.in/fsnotify.v1"
)

// Watcher reloads a Config from disk whenever the backing file is written,
// handing the result to onReload. A boot-only field change or a parse
// failure is logged and left applied to the in-memory Config unchanged.
type Watcher struct {
	path     string
	cfg      *Config
	watcher  *fsnotify.Watcher
	log      *logging.Logger
	onReload func(*Config)
	done     chan struct{}
}

// NewWatcher starts watching path for writes. cfg is mutated in place by
// Reload on each successful, validated change.
func NewWatcher(path string, cfg *Config, logBackend *log.Backend, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		cfg:      cfg,
		watcher:  fw,
		log:      logBackend.GetLogger("config-watcher"),
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watch error: %s", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := FromFile(w.path)
	if err != nil {
		w.log.Errorf("reload failed to parse %s: %s", w.path, err)
		return
	}
	if err := w.cfg.Reload(next); err != nil {
		w.log.Warningf(fmt.Sprintf("reload rejected: %s", err))
		return
	}
	w.log.Notice("config reloaded")
	if w.onReload != nil {
		w.onReload(w.cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

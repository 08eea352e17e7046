// Package config loads and hot-reloads the sizing constants a TLSF
// allocator is constructed with, so a long-lived process can retune
// pool size or class counts without a restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/tlsf/internal/allocator"
)

// Sizing is the on-disk JSON shape for allocator.Config. It mirrors
// allocator.Config field-for-field; the separate type exists so the
// wire format doesn't change shape if allocator.Config ever grows
// fields that shouldn't be externally configurable.
type Sizing struct {
	FLCount   int    `json:"fl_count"`
	SLCount   int    `json:"sl_count"`
	MinBlock  uint32 `json:"min_block"`
	PoolSize  uint32 `json:"pool_size"`
	MaxPools  int    `json:"max_pools"`
	Alignment uint32 `json:"alignment"`
}

func (s Sizing) toAllocatorConfig() allocator.Config {
	return allocator.Config{
		FLCount:   s.FLCount,
		SLCount:   s.SLCount,
		MinBlock:  s.MinBlock,
		PoolSize:  s.PoolSize,
		MaxPools:  s.MaxPools,
		Alignment: s.Alignment,
	}
}

func fromAllocatorConfig(cfg allocator.Config) Sizing {
	return Sizing{
		FLCount:   cfg.FLCount,
		SLCount:   cfg.SLCount,
		MinBlock:  cfg.MinBlock,
		PoolSize:  cfg.PoolSize,
		MaxPools:  cfg.MaxPools,
		Alignment: cfg.Alignment,
	}
}

// Load reads and validates an allocator.Config from a JSON sizing
// file.
func Load(path string) (allocator.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return allocator.Config{}, fmt.Errorf("tlsf/config: read %s: %w", path, err)
	}

	var sizing Sizing
	if err := json.Unmarshal(data, &sizing); err != nil {
		return allocator.Config{}, fmt.Errorf("tlsf/config: parse %s: %w", path, err)
	}

	cfg := sizing.toAllocatorConfig()
	if err := cfg.Validate(); err != nil {
		return allocator.Config{}, fmt.Errorf("tlsf/config: %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes cfg to path as a Sizing JSON document.
func Save(path string, cfg allocator.Config) error {
	data, err := json.MarshalIndent(fromAllocatorConfig(cfg), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Watcher reloads a sizing file on every write and surfaces each
// successfully parsed Config on Updates(): a single fsnotify.Watcher
// feeding buffered channels from one background goroutine, filtered
// down to one path.
type Watcher struct {
	fw      *fsnotify.Watcher
	path    string
	updates chan allocator.Config
	errs    chan error
}

// NewWatcher starts watching path's containing directory (fsnotify
// requires watching a directory to reliably observe editors that
// replace a file via rename-into-place rather than in-place write)
// and emits a freshly loaded Config each time path changes.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tlsf/config: new watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()

		return nil, fmt.Errorf("tlsf/config: watch %s: %w", dir, err)
	}

	w := &Watcher{
		fw:      fw,
		path:    filepath.Clean(path),
		updates: make(chan allocator.Config, 1),
		errs:    make(chan error, 1),
	}

	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != w.path {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				w.pushErr(err)
				continue
			}

			w.pushUpdate(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			w.pushErr(err)
		}
	}
}

// pushUpdate keeps only the most recent update buffered, so a burst of
// writes (common with editors) never blocks the watch loop.
func (w *Watcher) pushUpdate(cfg allocator.Config) {
	select {
	case w.updates <- cfg:
	default:
		select {
		case <-w.updates:
		default:
		}

		w.updates <- cfg
	}
}

func (w *Watcher) pushErr(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// Updates delivers each successfully reloaded Config.
func (w *Watcher) Updates() <-chan allocator.Config {
	return w.updates
}

// Errors delivers load/parse/watch failures. A failed reload leaves
// the previous Config in effect — callers should keep using whatever
// they last received from Updates.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

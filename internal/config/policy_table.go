// Package config loads the state policy table from configuration
// (spec.md §6); it does not load aggregator credentials. It
// hot-reloads the policy table on file change via a read-copy-update
// swap (spec.md §5: "read-only at steady state, reloaded on config
// change; no locking required beyond a read-copy-update swap").
package config

import (
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
)

// PolicyTable is a hot-reloadable, read-only-at-steady-state view of
// the state policy table. Readers call Get; nothing they receive is
// ever mutated in place — a reload swaps in an entirely new map.
type PolicyTable struct {
	current atomic.Value // map[string]policy.Row
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewPolicyTable seeds the table with the built-in defaults. Call
// LoadFile to override from a JSON config file, and WatchFile to keep
// it in sync with that file afterwards.
func NewPolicyTable(logger *zap.Logger) *PolicyTable {
	t := &PolicyTable{logger: logger}
	t.current.Store(policy.Defaults())
	return t
}

// Get returns the state policy row for a state code, and whether it
// was found.
func (t *PolicyTable) Get(stateCode string) (policy.Row, bool) {
	rows := t.current.Load().(map[string]policy.Row)
	row, ok := rows[stateCode]
	return row, ok
}

// LoadFile reads a JSON-encoded map[string]policy.Row from path and
// atomically swaps it in. Missing states keep their built-in default
// row — the file only needs to carry overrides.
func (t *PolicyTable) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overrides map[string]policy.Row
	if err := json.Unmarshal(data, &overrides); err != nil {
		return err
	}
	merged := make(map[string]policy.Row, len(overrides)+2)
	for k, v := range policy.Defaults() {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	t.current.Store(merged)
	return nil
}

// WatchFile starts an fsnotify watch on path and calls LoadFile on
// every write event, logging (never panicking) on a bad reload so a
// malformed config push doesn't take down the process.
func (t *PolicyTable) WatchFile(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	t.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.LoadFile(path); err != nil {
					t.logger.Warn("policy table reload failed", zap.String("path", path), zap.Error(err))
					continue
				}
				t.logger.Info("policy table reloaded", zap.String("path", path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				t.logger.Warn("policy watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the underlying file watcher, if any.
func (t *PolicyTable) Close() error {
	if t.watcher != nil {
		return t.watcher.Close()
	}
	return nil
}

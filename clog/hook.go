package clog

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// FatalHook observes error-level and more severe log entries (error,
// fatal, panic) and counts them, and invokes
// an optional callback. clusterlib installs one on the package logger so
// that an InconsistentInternalState error (which is fatal for the process
// per the error-handling design) can be observed by tests and by a
// factory's shutdown path without the logger itself terminating the
// process.
type FatalHook struct {
	mu       sync.Mutex
	count    int64
	onFatal  func(entry *logrus.Entry)
	minLevel logrus.Level
}

// NewFatalHook creates a hook that fires on entries at logrus.ErrorLevel
// or more severe (error, fatal and panic); the level is fixed.
func NewFatalHook(onFatal func(entry *logrus.Entry)) *FatalHook {
	return &FatalHook{onFatal: onFatal, minLevel: logrus.ErrorLevel}
}

// Levels implements logrus.Hook.
func (h *FatalHook) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= h.minLevel {
			levels = append(levels, l)
		}
	}
	return levels
}

// Fire implements logrus.Hook.
func (h *FatalHook) Fire(entry *logrus.Entry) error {
	atomic.AddInt64(&h.count, 1)
	h.mu.Lock()
	cb := h.onFatal
	h.mu.Unlock()
	if cb != nil {
		cb(entry)
	}
	return nil
}

// Count returns the number of fatal/error entries observed so far.
func (h *FatalHook) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

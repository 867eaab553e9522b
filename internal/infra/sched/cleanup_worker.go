package sched

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video-subtitler/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Sweeper drops expired in-memory state and reports how much it removed.
type Sweeper interface {
	Sweep() int
}

// SweepDir names a directory and the name prefixes the worker may delete in it.
type SweepDir struct {
	Path     string
	Prefixes []string
}

// CleanupWorker removes abandoned temp files and expired rate windows.
type CleanupWorker struct {
	interval time.Duration
	maxAge   time.Duration
	dirs     []SweepDir
	limiter  Sweeper
	log      *zerolog.Logger
	now      func() time.Time
}

// NewCleanupWorker builds the worker. limiter may be nil.
func NewCleanupWorker(interval, maxAge time.Duration, dirs []SweepDir, limiter Sweeper, logger *zerolog.Logger) *CleanupWorker {
	l := logger.With().Str("component", "CleanupWorker").Logger()
	return &CleanupWorker{
		interval: interval,
		maxAge:   maxAge,
		dirs:     dirs,
		limiter:  limiter,
		log:      &l,
		now:      time.Now,
	}
}

func (w *CleanupWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting cleanup worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping cleanup worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single sweep and returns the number of files removed.
func (w *CleanupWorker) RunOnce() int {
	removed := 0
	cutoff := w.now().Add(-w.maxAge)
	for _, d := range w.dirs {
		removed += w.sweepDir(d, cutoff)
	}
	if removed > 0 {
		metrics.AddCleanupRemoved("temp_file", removed)
		w.log.Info().Int("count", removed).Msg("stale temp files removed")
	}
	if w.limiter != nil {
		if n := w.limiter.Sweep(); n > 0 {
			metrics.AddCleanupRemoved("rate_window", n)
			w.log.Debug().Int("count", n).Msg("expired rate windows dropped")
		}
	}
	return removed
}

func (w *CleanupWorker) sweepDir(d SweepDir, cutoff time.Time) int {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Error().Err(err).Str("dir", d.Path).Msg("cleanup read dir failed")
		}
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !hasAnyPrefix(e.Name(), d.Prefixes) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.Path, e.Name())); err != nil {
			w.log.Warn().Err(err).Str("name", e.Name()).Msg("cleanup remove failed")
			continue
		}
		removed++
	}
	return removed
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

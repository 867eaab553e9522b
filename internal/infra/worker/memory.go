package worker

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	"video-subtitler/internal/infra/metrics"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
)

// ExitMemoryExceeded is the status the process exits with after a critical
// memory sample, matching an OOM kill so supervisors restart it.
const ExitMemoryExceeded = 137

// MemorySampler returns the process resident set and the host total, in bytes.
type MemorySampler func() (rss uint64, total uint64, err error)

// MemoryGovernor watches process memory while a job attempt runs.
type MemoryGovernor struct {
	sample    MemorySampler
	ceiling   uint64
	warn      float64
	critical  float64
	interval  time.Duration
	log       *zerolog.Logger
	terminate func(code int)
}

// NewMemoryGovernor measures usage against ceiling bytes; 0 uses host memory.
func NewMemoryGovernor(ceiling uint64, warnPercent, criticalPercent float64, interval time.Duration, logger *zerolog.Logger) *MemoryGovernor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	l := logger.With().Str("component", "memory").Logger()
	return &MemoryGovernor{
		sample:    sampleProcfs,
		ceiling:   ceiling,
		warn:      warnPercent,
		critical:  criticalPercent,
		interval:  interval,
		log:       &l,
		terminate: os.Exit,
	}
}

func sampleProcfs() (uint64, uint64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return sampleRuntime()
	}
	self, err := fs.Self()
	if err != nil {
		return sampleRuntime()
	}
	stat, err := self.Stat()
	if err != nil {
		return sampleRuntime()
	}
	var total uint64
	if mi, err := fs.Meminfo(); err == nil && mi.MemTotal != nil {
		total = *mi.MemTotal * 1024
	}
	return uint64(stat.ResidentMemory()), total, nil
}

// sampleRuntime covers hosts without /proc. The host total is unknown there.
func sampleRuntime() (uint64, uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, 0, nil
}

// Percent reports current usage relative to the ceiling.
func (g *MemoryGovernor) Percent() (float64, error) {
	rss, total, err := g.sample()
	if err != nil {
		return 0, err
	}
	limit := g.ceiling
	if limit == 0 {
		limit = total
	}
	if limit == 0 {
		return 0, errors.New("memory ceiling unknown")
	}
	return float64(rss) / float64(limit) * 100, nil
}

// Watch samples until ctx ends. It logs the first sample above the warning
// threshold and delivers the first sample above the critical threshold on
// the returned channel, then stops. A nil governor never fires.
func (g *MemoryGovernor) Watch(ctx context.Context, jobID string) <-chan float64 {
	if g == nil {
		return nil
	}
	ch := make(chan float64, 1)
	go func() {
		t := time.NewTicker(g.interval)
		defer t.Stop()
		warned := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			pct, err := g.Percent()
			if err != nil {
				g.log.Debug().Err(err).Msg("memory sample failed")
				continue
			}
			metrics.SetWorkerMemoryPercent(pct)
			switch {
			case pct >= g.critical:
				metrics.IncMemoryEvent("critical")
				g.log.Error().Str("job_id", jobID).Float64("percent", pct).Msg("memory usage critical")
				ch <- pct
				return
			case pct >= g.warn && !warned:
				warned = true
				metrics.IncMemoryEvent("warn")
				g.log.Warn().Str("job_id", jobID).Float64("percent", pct).Msg("memory usage high")
			}
		}
	}()
	return ch
}

// Terminate ends the process with ExitMemoryExceeded.
func (g *MemoryGovernor) Terminate() {
	g.log.Error().Int("exit_code", ExitMemoryExceeded).Msg("terminating worker process")
	g.terminate(ExitMemoryExceeded)
}

// Package telemetry tracks run progress, success and failure counters and
// resident memory for one harvester run. Sampling problems are logged and
// never fail the run.
package telemetry

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// DefaultEvery is the page cadence for memory samples.
const DefaultEvery = 100

// Sampler returns the resident set size in bytes.
type Sampler func() (uint64, error)

// Config wires a Monitor. Zero values pick the defaults.
type Config struct {
	Every   int
	Logger  *zap.Logger
	Sampler Sampler
	Now     func() time.Time
}

// Summary is the end-of-run report.
type Summary struct {
	Pages        int
	Succeeded    int
	Failed       int
	FailedByKind map[string]int
	CurrentRSS   uint64
	PeakRSS      uint64
	Duration     time.Duration
}

// Monitor is safe for concurrent use.
type Monitor struct {
	every   int
	logger  *zap.Logger
	sampler Sampler
	now     func() time.Time

	mu        sync.Mutex
	start     time.Time
	pages     int
	succeeded int
	failed    int
	byKind    map[string]int
	current   uint64
	peak      uint64
}

// New builds a Monitor.
func New(cfg Config) *Monitor {
	m := &Monitor{
		every:   cfg.Every,
		logger:  cfg.Logger,
		sampler: cfg.Sampler,
		now:     cfg.Now,
		byKind:  make(map[string]int),
	}
	if m.every <= 0 {
		m.every = DefaultEvery
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("telemetry")
	if m.sampler == nil {
		m.sampler = ProcessRSS
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start marks the beginning of the run and takes the first sample.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.start = m.now()
	m.mu.Unlock()
	m.Sample("before run")
}

// PageDone counts a processed page and samples memory every N pages.
func (m *Monitor) PageDone(success bool) {
	m.mu.Lock()
	m.pages++
	pages := m.pages
	succeeded, failed := m.succeeded, m.failed
	m.mu.Unlock()

	if pages%m.every != 0 {
		return
	}
	m.Sample(fmt.Sprintf("after %d pages", pages))
	m.logger.Info("progress",
		zap.Int("pages", pages),
		zap.Bool("last_success", success),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))
}

// RecordSuccess adds n successes.
func (m *Monitor) RecordSuccess(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded += n
}

// RecordFailure adds one failure of kind.
func (m *Monitor) RecordFailure(kind string) {
	m.RecordFailures(kind, 1)
}

// RecordFailures adds n failures of kind.
func (m *Monitor) RecordFailures(kind string, n int) {
	if n <= 0 {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.mu.Lock()
	m.failed += n
	m.byKind[kind] += n
	m.mu.Unlock()
	metrics.ObserveFailure(kind, n)
}

// Sample reads resident memory and updates the high-water mark.
func (m *Monitor) Sample(label string) {
	rss, err := m.sampler()
	if err != nil {
		m.logger.Debug("memory sample failed", zap.String("label", label), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.current = rss
	if rss > m.peak {
		m.peak = rss
	}
	peak := m.peak
	m.mu.Unlock()

	metrics.ObserveMemory(rss, peak)
	m.logger.Info("memory",
		zap.String("label", label),
		zap.Uint64("rss_mb", rss>>20),
		zap.Uint64("peak_mb", peak>>20))
}

// Finish takes a final sample, logs the summary and returns it.
func (m *Monitor) Finish() Summary {
	m.Sample("final")

	m.mu.Lock()
	s := Summary{
		Pages:        m.pages,
		Succeeded:    m.succeeded,
		Failed:       m.failed,
		FailedByKind: make(map[string]int, len(m.byKind)),
		CurrentRSS:   m.current,
		PeakRSS:      m.peak,
	}
	for k, v := range m.byKind {
		s.FailedByKind[k] = v
	}
	if !m.start.IsZero() {
		s.Duration = m.now().Sub(m.start)
	}
	m.mu.Unlock()

	fields := []zap.Field{
		zap.Int("pages", s.Pages),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Uint64("peak_mb", s.PeakRSS>>20),
		zap.Duration("duration", s.Duration),
	}
	kinds := make([]string, 0, len(s.FailedByKind))
	for k := range s.FailedByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fields = append(fields, zap.Int("failed_"+k, s.FailedByKind[k]))
	}
	m.logger.Info("run summary", fields...)
	return s
}

// ProcessRSS reads the resident set size from /proc, falling back to the Go
// runtime's view of memory obtained from the OS where /proc is unavailable.
func ProcessRSS() (uint64, error) {
	if proc, err := procfs.Self(); err == nil {
		if stat, err := proc.Stat(); err == nil {
			if rss := stat.ResidentMemory(); rss > 0 {
				return uint64(rss), nil
			}
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0, fmt.Errorf("no memory statistics available")
	}
	return ms.Sys, nil
}

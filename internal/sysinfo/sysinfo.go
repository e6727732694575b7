// Package sysinfo měří stav hostitele (CPU, RAM, disk s databází, RSS vlastního procesu).
// Snímek se zobrazuje v /health a volitelně se periodicky publikuje do MQTT.
package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const mb = 1024.0 * 1024.0

// Snapshot je jeden "snímek" stavu systému.
type Snapshot struct {
	CPULoad float64 `json:"cpu_load"`

	// RAM bez diskové cache (Total - Available).
	RAMUsedMB  float64 `json:"ram_used_mb"`
	RAMTotalMB float64 `json:"ram_total_mb"`

	// ProcessRAMMB je RSS tohoto procesu.
	ProcessRAMMB float64 `json:"process_ram_mb"`

	DiskPath    string  `json:"disk_path"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskTotalGB float64 `json:"disk_total_gb"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collect změří všechno, co jde. Chyba jednoho měření nezastaví ostatní,
// jen se zaloguje.
func Collect(ctx context.Context, logger *slog.Logger, diskPath string, cpuWindow time.Duration) Snapshot {
	s := Snapshot{DiskPath: diskPath, CollectedAt: time.Now().UTC()}

	if percentages, err := cpu.PercentWithContext(ctx, cpuWindow, false); err == nil && len(percentages) > 0 {
		s.CPULoad = percentages[0]
	} else {
		logger.Warn("Chyba při čtení CPU statistik", "error", err)
	}

	if vMem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.RAMUsedMB = float64(vMem.Total-vMem.Available) / mb
		s.RAMTotalMB = float64(vMem.Total) / mb
	} else {
		logger.Warn("Chyba při čtení RAM statistik", "error", err)
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRAMMB = float64(memInfo.RSS) / mb
		}
	}

	if diskPath == "" {
		diskPath = "/"
	}
	if dStat, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		s.DiskUsedGB = float64(dStat.Used) / mb / 1024.0
		s.DiskTotalGB = float64(dStat.Total) / mb / 1024.0
	} else {
		logger.Warn("Chyba při čtení statistik disku", "path", diskPath, "error", err)
	}

	return s
}

// Metrics vrací dvojice suffix topicu -> hodnota pro publikaci.
func (s Snapshot) Metrics() map[string]string {
	f := func(v float64) string { return fmt.Sprintf("%.2f", v) }
	return map[string]string{
		"cpu":         f(s.CPULoad),
		"ram_used":    f(s.RAMUsedMB),
		"ram_total":   f(s.RAMTotalMB),
		"process_ram": f(s.ProcessRAMMB),
		"disk_used":   f(s.DiskUsedGB),
		"disk_total":  f(s.DiskTotalGB),
	}
}

// PublishFunc odešle jednu metriku (typicky MQTT publish).
type PublishFunc func(metric, value string)

// Monitor periodicky měří a drží poslední snímek pro /health.
type Monitor struct {
	logger   *slog.Logger
	diskPath string
	interval time.Duration
	publish  PublishFunc

	latest atomic.Pointer[Snapshot]
}

// NewMonitor: publish může být nil (jen lokální snímek).
func NewMonitor(logger *slog.Logger, diskPath string, interval time.Duration, publish PublishFunc) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{logger: logger, diskPath: diskPath, interval: interval, publish: publish}
}

// Latest vrací poslední snímek nebo nil, pokud ještě žádné měření neproběhlo.
func (m *Monitor) Latest() *Snapshot {
	return m.latest.Load()
}

// Run měří hned po startu a pak v každém tiku, dokud není ctx zrušen.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.measure(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.measure(ctx)
		}
	}
}

func (m *Monitor) measure(ctx context.Context) {
	s := Collect(ctx, m.logger, m.diskPath, time.Second)
	m.latest.Store(&s)

	if m.publish == nil {
		return
	}
	for metric, value := range s.Metrics() {
		m.publish(metric, value)
	}
	m.logger.Debug("Systémové metriky odeslány", "cpu", s.CPULoad, "ram_used_mb", s.RAMUsedMB)
}

// Package hwdetect probes the host for video decode capabilities and
// picks the decoder implementation when the caller asks for "auto".
package hwdetect

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Capabilities describes what was found on the host.
type Capabilities struct {
	NvidiaGPUs    []string
	PhysicalCores int
	TotalMemory   uint64
	DetectedAt    time.Time
}

// HasNvidia reports whether an NVDEC-capable GPU was found.
func (c *Capabilities) HasNvidia() bool {
	return len(c.NvidiaGPUs) > 0
}

// Detector detects and caches host capabilities.
type Detector struct {
	logger *slog.Logger

	mu   sync.Mutex
	caps *Capabilities
}

// NewDetector creates a Detector.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect probes the host, caching the result for subsequent calls.
func (d *Detector) Detect(ctx context.Context) *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps != nil {
		return d.caps
	}

	caps := &Capabilities{DetectedAt: time.Now()}

	if cores, err := cpu.CountsWithContext(ctx, false); err == nil {
		caps.PhysicalCores = cores
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		caps.TotalMemory = vm.Total
	}
	caps.NvidiaGPUs = detectNvidiaGPUs(ctx)

	d.logger.Debug("host capabilities detected",
		slog.Int("physical_cores", caps.PhysicalCores),
		slog.Uint64("total_memory", caps.TotalMemory),
		slog.Int("nvidia_gpus", len(caps.NvidiaGPUs)))

	d.caps = caps
	return caps
}

// DecodeThreads returns the codec thread count for software decoding:
// the physical core count capped at 4, matching the decoder's internal
// pipeline depth.
func (d *Detector) DecodeThreads(ctx context.Context) int {
	caps := d.Detect(ctx)
	threads := caps.PhysicalCores
	if threads <= 0 || threads > 4 {
		threads = 4
	}
	return threads
}

// detectNvidiaGPUs looks for NVIDIA devices via the kernel driver tree
// first and falls back to nvidia-smi.
func detectNvidiaGPUs(ctx context.Context) []string {
	if entries, err := os.ReadDir("/proc/driver/nvidia/gpus"); err == nil && len(entries) > 0 {
		gpus := make([]string, 0, len(entries))
		for _, e := range entries {
			gpus = append(gpus, e.Name())
		}
		return gpus
	}

	smi, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, smi, "-L").Output()
	if err != nil {
		return nil
	}
	var gpus []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.HasPrefix(line, "GPU ") {
			gpus = append(gpus, strings.TrimSpace(line))
		}
	}
	return gpus
}

// Package sysinfo samples cheap process and host stats for the system
// metrics attached to each reported training step.
package sysinfo

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// CurrentRSSBytes returns VmRSS bytes from /proc/self/status (Linux only).
func CurrentRSSBytes() (int64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errors.New("VmRSS parse failure")
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("VmRSS not found")
}

func DiskUsagePercent(path string) float64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0
	}
	total := float64(stat.Blocks) * float64(stat.Bsize)
	free := float64(stat.Bavail) * float64(stat.Bsize)
	if total <= 0 {
		return 0
	}
	used := total - free
	return (used / total) * 100
}

// StepExtras builds the automatic system extras merged into a report call.
// Stats that cannot be sampled are simply left out; a missing stat never
// blocks a training iteration.
func StepExtras(diskPath string) map[string]any {
	extras := make(map[string]any)
	if rss, err := CurrentRSSBytes(); err == nil {
		extras["process_memory_gb"] = float64(rss) / (1 << 30)
	}
	if diskPath != "" {
		if pct := DiskUsagePercent(diskPath); pct > 0 {
			extras["disk_usage_pct"] = pct
		}
	}
	return extras
}

package utils

import "github.com/shirou/gopsutil/cpu"

// CheckCPUUsage samples host CPU load and reports whether it is at or below
// maxCPUUsage. A failed sample counts as busy.
func CheckCPUUsage(maxCPUUsage float64) (bool, float64) {
	usage, err := cpu.Percent(0, false)
	if err != nil || len(usage) == 0 {
		return false, 0
	}
	return usage[0] <= maxCPUUsage, usage[0]
}

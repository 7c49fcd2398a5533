// Package target defines the point-in-time view of a managed host that
// readiness checks are evaluated against.
package target

import "time"

// Snapshot is the state reported by a target agent at CollectedAt.
type Snapshot struct {
	TargetID            string    `json:"target_id"`
	DiskFreeGB          float64   `json:"disk_free_gb"`
	DiskTotalGB         float64   `json:"disk_total_gb"`
	CPUPercent          float64   `json:"cpu_percent"`
	MemoryPercent       float64   `json:"memory_percent"`
	OpenPorts           []int     `json:"open_ports"`
	UptimeSeconds       float64   `json:"uptime_seconds"`
	OS                  string    `json:"os"`
	OSVersion           string    `json:"os_version"`
	HeartbeatAgeSeconds float64   `json:"heartbeat_age_seconds"`
	CollectedAt         time.Time `json:"collected_at"`
}

// Fields returns the snapshot as a flat map suitable for expression
// evaluation. All numeric values are float64.
func (s *Snapshot) Fields() map[string]any {
	ports := make([]any, 0, len(s.OpenPorts))
	for _, p := range s.OpenPorts {
		ports = append(ports, float64(p))
	}
	return map[string]any{
		"target_id":             s.TargetID,
		"disk_free_gb":          s.DiskFreeGB,
		"disk_total_gb":         s.DiskTotalGB,
		"cpu_percent":           s.CPUPercent,
		"memory_percent":        s.MemoryPercent,
		"open_ports":            ports,
		"uptime_seconds":        s.UptimeSeconds,
		"os":                    s.OS,
		"os_version":            s.OSVersion,
		"heartbeat_age_seconds": s.HeartbeatAgeSeconds,
	}
}

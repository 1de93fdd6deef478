// Package health reports process vitals and component states for the
// dashboard's health endpoint.
package health

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Status is the health endpoint payload.
type Status struct {
	Status        string            `json:"status"`
	PID           int               `json:"pid"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryRSS     uint64            `json:"memory_rss_bytes"`
	Goroutines    int               `json:"goroutines"`
	Components    map[string]string `json:"components,omitempty"`
}

// Reporter samples the running process and asks registered probes for
// their component state. Probes must be safe to call from any goroutine.
type Reporter struct {
	start time.Time
	proc  *process.Process

	mu     sync.Mutex
	probes map[string]func() string
}

func New() (*Reporter, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Reporter{
		start:  time.Now(),
		proc:   proc,
		probes: make(map[string]func() string),
	}, nil
}

// AddProbe registers a named component state probe. Later registrations
// under the same name replace earlier ones.
func (r *Reporter) AddProbe(name string, probe func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
}

// Snapshot samples process vitals and all probes. The overall status is
// degraded when any component reports invalid, lost or closed.
func (r *Reporter) Snapshot() Status {
	st := Status{
		Status:        "ok",
		PID:           os.Getpid(),
		UptimeSeconds: time.Since(r.start).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if cpu, err := r.proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
		st.MemoryRSS = mem.RSS
	}

	r.mu.Lock()
	probes := make(map[string]func() string, len(r.probes))
	for name, probe := range r.probes {
		probes[name] = probe
	}
	r.mu.Unlock()

	if len(probes) > 0 {
		st.Components = make(map[string]string, len(probes))
		for name, probe := range probes {
			state := probe()
			st.Components[name] = state
			switch state {
			case "invalid", "lost", "closed":
				st.Status = "degraded"
			}
		}
	}
	return st
}

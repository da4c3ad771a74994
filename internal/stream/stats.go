package stream

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// SessionStats is a point-in-time snapshot of a session for introspection.
type SessionStats struct {
	ID         string    `json:"id"`
	SourceRef  string    `json:"source_ref"`
	Quality    string    `json:"quality"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	BytesOut   uint64    `json:"bytes_out"`
	Clients    int       `json:"clients"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
}

// Stats snapshots the session. Process metrics are best-effort; a process
// that already exited yields zeros.
func (s *Session) Stats() SessionStats {
	st := SessionStats{
		ID:        s.ID.String(),
		SourceRef: s.SourceRef,
		Quality:   string(s.Quality),
		State:     s.State().String(),
		StartedAt: s.StartedAt,
		BytesOut:  s.BytesOut(),
		Clients:   s.ClientCount(),
		PID:       s.PID(),
	}
	if st.PID > 0 && !s.Terminated() {
		if p, err := process.NewProcess(int32(st.PID)); err == nil {
			if cpu, err := p.CPUPercent(); err == nil {
				st.CPUPercent = cpu
			}
			if mem, err := p.MemoryInfo(); err == nil && mem != nil {
				st.MemoryRSS = mem.RSS
			}
		}
	}
	return st
}

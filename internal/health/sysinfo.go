package health

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUSampler reports system-wide CPU usage as a percentage. The monitor
// consults it when deciding whether to downgrade a Healthy service.
type CPUSampler func() float64

// NewCPUSampler builds a sampler backed by gopsutil. Readings are cached
// for maxAge so frequent classification passes do not hammer procfs; a
// failed read reports 0 so CPU pressure never spuriously downgrades.
func NewCPUSampler(maxAge time.Duration) CPUSampler {
	if maxAge <= 0 {
		maxAge = time.Second
	}
	var (
		mu      sync.Mutex
		last    float64
		sampled time.Time
	)
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()

		if time.Since(sampled) < maxAge {
			return last
		}
		// Non-blocking: usage since the previous call.
		percents, err := cpu.Percent(0, false)
		if err != nil || len(percents) == 0 {
			return last
		}
		last = percents[0]
		sampled = time.Now()
		return last
	}
}

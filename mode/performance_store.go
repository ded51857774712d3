package mode

import "sync"

// ringSize bounds how many recent samples each (task type, mode) pair
// keeps; older samples age out, matching the original's rolling window.
const ringSize = 50

// InMemoryPerformanceStore is the default PerformanceStore: a per-task-
// type, per-mode ring buffer of recent Samples, averaged on read.
type InMemoryPerformanceStore struct {
	mu      sync.Mutex
	samples map[string]map[Mode][]Sample
}

// NewInMemoryPerformanceStore returns an empty store. Get on an unseen
// task type returns nil, which Selector treats as "no history" and
// scores against the static default performance numbers instead.
func NewInMemoryPerformanceStore() *InMemoryPerformanceStore {
	return &InMemoryPerformanceStore{samples: make(map[string]map[Mode][]Sample)}
}

func (s *InMemoryPerformanceStore) Record(taskType string, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMode, ok := s.samples[taskType]
	if !ok {
		byMode = make(map[Mode][]Sample)
		s.samples[taskType] = byMode
	}
	buf := append(byMode[sample.Mode], sample)
	if len(buf) > ringSize {
		buf = buf[len(buf)-ringSize:]
	}
	byMode[sample.Mode] = buf
}

func (s *InMemoryPerformanceStore) Get(taskType string) map[Mode]PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMode, ok := s.samples[taskType]
	if !ok {
		return nil
	}

	out := make(map[Mode]PerformanceMetrics, len(byMode))
	for mode, buf := range byMode {
		if len(buf) == 0 {
			continue
		}
		var successes, wtuSum, timeSum, qualitySum float64
		for _, sample := range buf {
			if sample.Success {
				successes++
			}
			wtuSum += sample.WTUConsumed
			timeSum += sample.ResponseTimeSeconds
			qualitySum += sample.QualityScore
		}
		n := float64(len(buf))
		out[mode] = PerformanceMetrics{
			AvgResponseTimeSeconds: timeSum / n,
			AvgWTUConsumption:      wtuSum / n,
			AvgQualityScore:        qualitySum / n,
			SuccessRate:            successes / n,
		}
	}
	return out
}

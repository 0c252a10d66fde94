package embeddings

import (
	"sync"
	"time"
)

// Stats summarizes an embedder's activity.
type Stats struct {
	Name             string        `json:"name"`
	TotalCalls       int64         `json:"total_calls"`
	FailedCalls      int64         `json:"failed_calls"`
	TotalTexts       int64         `json:"total_texts"`
	TotalTokens      int64         `json:"total_tokens"`
	AvgCallTime      time.Duration `json:"avg_call_time"`
	AvgTokensPerText float64       `json:"avg_tokens_per_text"`
	ErrorRate        float64       `json:"error_rate"`
	LoadTime         time.Duration `json:"load_time"`
	LastCallTime     time.Time     `json:"last_call_time"`
	StartTime        time.Time     `json:"start_time"`
}

type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder(name string) *statsRecorder {
	return &statsRecorder{stats: Stats{Name: name, StartTime: time.Now()}}
}

func (r *statsRecorder) record(texts, tokens int, duration time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.stats
	s.TotalCalls++
	s.LastCallTime = time.Now()
	if !ok {
		s.FailedCalls++
	} else {
		s.TotalTexts += int64(texts)
		s.TotalTokens += int64(tokens)
	}

	total := time.Duration(s.TotalCalls-1) * s.AvgCallTime
	s.AvgCallTime = (total + duration) / time.Duration(s.TotalCalls)
	if s.TotalTexts > 0 {
		s.AvgTokensPerText = float64(s.TotalTokens) / float64(s.TotalTexts)
	}
	s.ErrorRate = float64(s.FailedCalls) / float64(s.TotalCalls)
}

func (r *statsRecorder) setLoadTime(d time.Duration) {
	r.mu.Lock()
	r.stats.LoadTime = d
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

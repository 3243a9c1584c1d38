// File: internal/processor/aggregator.go
package processor

import (
	"sync"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
)

// ActivityAggregator keeps a rolling in-memory view of recent program
// activity, bucketed by hour
type ActivityAggregator struct {
	window  time.Duration
	mu      sync.RWMutex
	buckets map[int64]*activityBucket
}

type activityBucket struct {
	EventsByName   map[string]uint64
	LamportsByType map[string]uint64
	RewardCount    uint64
}

// ActivitySummary is a point-in-time rollup of the aggregation window
type ActivitySummary struct {
	WindowStart     time.Time         `json:"window_start"`
	WindowEnd       time.Time         `json:"window_end"`
	TotalEvents     uint64            `json:"total_events"`
	EventsByName    map[string]uint64 `json:"events_by_name"`
	LamportsByType  map[string]uint64 `json:"lamports_by_type"`
	RewardsRecorded uint64            `json:"rewards_recorded"`
}

// NewActivityAggregator creates an aggregator covering the given window
func NewActivityAggregator(window time.Duration) *ActivityAggregator {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &ActivityAggregator{
		window:  window,
		buckets: make(map[int64]*activityBucket),
	}
}

// Record adds one applied event to the current hour bucket
func (aa *ActivityAggregator) Record(event *models.ProgramEvent, applied *ledger.ApplyResult) {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	hour := event.BlockTime.UTC().Truncate(time.Hour).Unix()
	if event.BlockTime.IsZero() {
		hour = time.Now().UTC().Truncate(time.Hour).Unix()
	}

	bucket, exists := aa.buckets[hour]
	if !exists {
		bucket = &activityBucket{
			EventsByName:   make(map[string]uint64),
			LamportsByType: make(map[string]uint64),
		}
		aa.buckets[hour] = bucket
	}

	bucket.EventsByName[event.EventName]++
	if applied != nil && applied.Reward != nil {
		bucket.LamportsByType[applied.Reward.TxType] += applied.Reward.AmountLamports
		if applied.RewardNew {
			bucket.RewardCount++
		}
	}
}

// Prune drops buckets that fell out of the window
func (aa *ActivityAggregator) Prune() {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	cutoff := time.Now().UTC().Add(-aa.window).Truncate(time.Hour).Unix()
	for hour := range aa.buckets {
		if hour < cutoff {
			delete(aa.buckets, hour)
		}
	}
}

// Snapshot rolls the live buckets up into a summary
func (aa *ActivityAggregator) Snapshot() *ActivitySummary {
	aa.mu.RLock()
	defer aa.mu.RUnlock()

	now := time.Now().UTC()
	summary := &ActivitySummary{
		WindowStart:    now.Add(-aa.window),
		WindowEnd:      now,
		EventsByName:   make(map[string]uint64),
		LamportsByType: make(map[string]uint64),
	}

	cutoff := summary.WindowStart.Truncate(time.Hour).Unix()
	for hour, bucket := range aa.buckets {
		if hour < cutoff {
			continue
		}
		for name, count := range bucket.EventsByName {
			summary.EventsByName[name] += count
			summary.TotalEvents += count
		}
		for txType, lamports := range bucket.LamportsByType {
			summary.LamportsByType[txType] += lamports
		}
		summary.RewardsRecorded += bucket.RewardCount
	}

	return summary
}

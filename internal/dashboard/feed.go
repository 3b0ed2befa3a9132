// Package dashboard holds the bounded ring of freshest metric
// snapshots for live consumption, plus the pure time-bucket
// aggregation used for charting.
package dashboard

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// DefaultCapacity is the default snapshot retention
const DefaultCapacity = 1000

// subscriber buffer; slow consumers drop snapshots instead of
// blocking the writer.
const subscriberBuffer = 64

// Feed is a bounded ring buffer of the most recent metric snapshots,
// written on every ingested metric and read by dashboards. Eviction is
// the release valve for memory growth; reads copy out under a short
// read lock so they never stall writers.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	ring     []models.MetricSnapshot
	head     int
	length   int

	feeds       map[string][]string
	subscribers map[uint64]subscriber
	nextSubID   uint64
}

type subscriber struct {
	ch     chan models.MetricSnapshot
	models map[string]bool // empty means all models
}

// NewFeed creates a dashboard feed bounded to capacity snapshots
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity:    capacity,
		ring:        make([]models.MetricSnapshot, capacity),
		feeds:       make(map[string][]string),
		subscribers: make(map[uint64]subscriber),
	}
}

// Push appends a snapshot, evicting the oldest when full, and fans it
// out to live subscribers without ever blocking on a slow one.
func (f *Feed) Push(snapshot models.MetricSnapshot) {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}

	f.mu.Lock()
	idx := (f.head + f.length) % f.capacity
	f.ring[idx] = snapshot
	if f.length < f.capacity {
		f.length++
	} else {
		f.head = (f.head + 1) % f.capacity
	}

	for _, sub := range f.subscribers {
		if len(sub.models) > 0 && !sub.models[snapshot.ModelName] {
			continue
		}
		select {
		case sub.ch <- snapshot:
		default: // drop for slow consumers
		}
	}
	f.mu.Unlock()
}

// GetLatestMetrics returns up to limit of the newest snapshots, oldest
// first.
func (f *Feed) GetLatestMetrics(limit int) []models.MetricSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.length
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]models.MetricSnapshot, 0, n)
	start := f.length - n
	for i := start; i < f.length; i++ {
		out = append(out, f.ring[(f.head+i)%f.capacity])
	}
	return out
}

// CreateRealTimeFeed registers a named feed filtered to the given
// models and returns its id.
func (f *Feed) CreateRealTimeFeed(modelNames []string) string {
	feedID := uuid.New().String()

	f.mu.Lock()
	f.feeds[feedID] = append([]string(nil), modelNames...)
	f.mu.Unlock()

	return feedID
}

// FeedModels returns the model filter of a registered feed
func (f *Feed) FeedModels(feedID string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.feeds[feedID]...)
}

// Subscribe returns a channel of live snapshots, optionally filtered
// to modelNames, and a cancel function. Snapshots are dropped rather
// than delivered late when the consumer falls behind.
func (f *Feed) Subscribe(modelNames ...string) (<-chan models.MetricSnapshot, func()) {
	filter := make(map[string]bool, len(modelNames))
	for _, name := range modelNames {
		filter[name] = true
	}

	sub := subscriber{
		ch:     make(chan models.MetricSnapshot, subscriberBuffer),
		models: filter,
	}

	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.subscribers[id] = sub
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if s, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(s.ch)
		}
		f.mu.Unlock()
	}
	return sub.ch, cancel
}

// AggregatedPoint is one time bucket of averaged numeric fields
type AggregatedPoint struct {
	BucketStart time.Time          `json:"bucket_start"`
	Values      map[string]float64 `json:"values"`
	Count       int                `json:"count"`
}

// AggregatePerformanceData buckets snapshots into fixed intervals
// (minute, hour or day) and averages each numeric field per bucket.
// Pure and stateless; suitable for charting.
func AggregatePerformanceData(samples []models.MetricSnapshot, interval string) []AggregatedPoint {
	if len(samples) == 0 {
		return nil
	}

	var bucket time.Duration
	switch interval {
	case "minute":
		bucket = time.Minute
	case "day":
		bucket = 24 * time.Hour
	default: // hour
		bucket = time.Hour
	}

	type accum struct {
		sums   map[string]float64
		counts map[string]int
		n      int
	}
	buckets := make(map[time.Time]*accum)

	for _, s := range samples {
		key := s.Timestamp.Truncate(bucket)
		a, ok := buckets[key]
		if !ok {
			a = &accum{sums: make(map[string]float64), counts: make(map[string]int)}
			buckets[key] = a
		}
		a.n++
		for name, v := range s.Values {
			a.sums[name] += v
			a.counts[name]++
		}
	}

	out := make([]AggregatedPoint, 0, len(buckets))
	for start, a := range buckets {
		values := make(map[string]float64, len(a.sums))
		for name, sum := range a.sums {
			values[name] = sum / float64(a.counts[name])
		}
		out = append(out, AggregatedPoint{BucketStart: start, Values: values, Count: a.n})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out
}

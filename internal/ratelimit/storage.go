package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket.
type Bucket struct {
	// Tokens is the current number of available tokens.
	Tokens float64

	// LastRefill is the timestamp of the last token refill.
	LastRefill time.Time

	// Capacity is the maximum number of tokens the bucket can hold.
	Capacity float64

	// RefillRate is the number of tokens added per second.
	RefillRate float64
}

// refill adds the tokens earned since the last refill, capped at capacity.
func (b *Bucket) refill(now time.Time) {
	b.Tokens += now.Sub(b.LastRefill).Seconds() * b.RefillRate
	if b.Tokens > b.Capacity {
		b.Tokens = b.Capacity
	}
	b.LastRefill = now
}

// Storage keeps buckets in memory and drops the ones left idle.
type Storage struct {
	buckets sync.Map
	idle    time.Duration
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewStorage creates a bucket storage that forgets buckets untouched for
// idle and starts its cleanup goroutine.
func NewStorage(idle time.Duration) *Storage {
	s := &Storage{
		idle:   idle,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// Get returns the bucket of key, or nil.
func (s *Storage) Get(key string) *Bucket {
	value, ok := s.buckets.Load(key)
	if !ok {
		return nil
	}
	bucket, _ := value.(*Bucket)
	return bucket
}

// Set stores the bucket of key.
func (s *Storage) Set(key string, bucket *Bucket) {
	s.buckets.Store(key, bucket)
}

// Delete removes the bucket of key.
func (s *Storage) Delete(key string) {
	s.buckets.Delete(key)
}

func (s *Storage) cleanupLoop() {
	defer s.wg.Done()

	interval := s.idle / 12
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes buckets not refilled since now minus the idle period.
func (s *Storage) cleanup(now time.Time) {
	threshold := now.Add(-s.idle)
	s.buckets.Range(func(key, value any) bool {
		if bucket, ok := value.(*Bucket); ok && bucket.LastRefill.Before(threshold) {
			s.buckets.Delete(key)
		}
		return true
	})
}

// Stop stops the cleanup goroutine.
func (s *Storage) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Count returns the number of stored buckets.
func (s *Storage) Count() int {
	count := 0
	s.buckets.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

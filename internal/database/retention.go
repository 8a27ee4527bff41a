package database

import (
	"log"
	"sync"
	"time"
)

const retentionInterval = 6 * time.Hour

// RetentionCleaner periodically deletes timeline rows older than the
// configured number of days. Zero days disables it.
type RetentionCleaner struct {
	repo *Repository
	days int

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRetentionCleaner creates a cleaner.
func NewRetentionCleaner(repo *Repository, days int) *RetentionCleaner {
	return &RetentionCleaner{
		repo:     repo,
		days:     days,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background sweep.
func (rc *RetentionCleaner) Start() {
	if rc.days <= 0 {
		return
	}
	rc.mu.Lock()
	if rc.running {
		rc.mu.Unlock()
		return
	}
	rc.running = true
	rc.mu.Unlock()

	rc.wg.Add(1)
	go rc.run()
	log.Printf("[DB] Retention cleaner started (%d days)", rc.days)
}

// Stop halts the sweep.
func (rc *RetentionCleaner) Stop() {
	rc.mu.Lock()
	if !rc.running {
		rc.mu.Unlock()
		return
	}
	rc.running = false
	rc.mu.Unlock()

	close(rc.stopChan)
	rc.wg.Wait()
}

func (rc *RetentionCleaner) run() {
	defer rc.wg.Done()

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	rc.sweep()
	for {
		select {
		case <-rc.stopChan:
			return
		case <-ticker.C:
			rc.sweep()
		}
	}
}

func (rc *RetentionCleaner) sweep() {
	cutoff := time.Now().AddDate(0, 0, -rc.days)
	n, err := rc.repo.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("[DB] Retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[DB] Retention sweep removed %d rows", n)
	}
}

package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pruner removes exhausted pending items older than maxAge.
type Pruner interface {
	PruneStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// CleanupConfig holds configuration for the cleanup scheduler.
type CleanupConfig struct {
	// MaxAge is how long an exhausted item is kept for audit.
	// Default: 7 days
	MaxAge time.Duration

	// CleanupInterval is how often the cleanup runs.
	// Default: 6 hours
	CleanupInterval time.Duration

	// InitialDelay is the wait before the first run.
	// Default: 1 minute
	InitialDelay time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MaxAge:          7 * 24 * time.Hour,
		CleanupInterval: 6 * time.Hour,
		InitialDelay:    time.Minute,
	}
}

// CleanupScheduler runs periodic pruning of stale pending items.
type CleanupScheduler struct {
	pruner    Pruner
	config    CleanupConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewCleanupScheduler creates a new cleanup scheduler.
func NewCleanupScheduler(pruner Pruner, config CleanupConfig) *CleanupScheduler {
	def := DefaultCleanupConfig()
	if config.MaxAge == 0 {
		config.MaxAge = def.MaxAge
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.InitialDelay == 0 {
		config.InitialDelay = def.InitialDelay
	}

	return &CleanupScheduler{
		pruner: pruner,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the cleanup scheduler.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.CleanupInterval)
	s.mu.Unlock()

	log.Printf("[CleanupScheduler] Started - Interval: %v, MaxAge: %v",
		s.config.CleanupInterval, s.config.MaxAge)

	go func() {
		select {
		case <-time.After(s.config.InitialDelay):
			s.runCleanup()
		case <-s.stopCh:
		}
	}()

	go s.run()
}

// run is the main cleanup loop.
func (s *CleanupScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runCleanup()
		case <-s.stopCh:
			log.Printf("[CleanupScheduler] Stopped")
			return
		}
	}
}

// runCleanup performs the actual cleanup.
func (s *CleanupScheduler) runCleanup() {
	log.Printf("[CleanupScheduler] Pruning exhausted items older than %v", s.config.MaxAge)

	removed, err := s.RunNow()
	if err != nil {
		log.Printf("[CleanupScheduler] Error during cleanup: %v", err)
		return
	}

	if removed > 0 {
		log.Printf("[CleanupScheduler] Removed %d stale pending items", removed)
	} else {
		log.Printf("[CleanupScheduler] No stale items to clean up")
	}
}

// Stop stops the cleanup scheduler.
func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow triggers an immediate cleanup run.
func (s *CleanupScheduler) RunNow() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	return s.pruner.PruneStale(ctx, s.config.MaxAge)
}

// MaxAge returns the configured retention.
func (s *CleanupScheduler) MaxAge() time.Duration {
	return s.config.MaxAge
}

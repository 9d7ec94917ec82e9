package session

import (
	"log"
	"sync"
	"time"

	"github.com/codesync/backend/internal/metrics"
)

type ReaperConfig struct {
	Interval time.Duration
	EmptyTTL time.Duration
}

func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval: time.Minute,
		EmptyTTL: 30 * time.Minute,
	}
}

// Reaper evicts sessions from memory once their rooms have been empty for
// the configured TTL. Persisted records are kept, so eviction is invisible
// to clients beyond a registry revive on the next join.
type Reaper struct {
	registry *Registry
	config   ReaperConfig
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewReaper(registry *Registry, config ReaperConfig) *Reaper {
	return &Reaper{
		registry: registry,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Reaper) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Session reaper started (interval: %v, empty TTL: %v)",
		s.config.Interval, s.config.EmptyTTL)
}

func (s *Reaper) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("Session reaper stopped")
}

func (s *Reaper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts idle sessions once. Exposed for manual triggering.
func (s *Reaper) Sweep() {
	evicted := s.registry.EvictIdle(s.config.EmptyTTL)
	if len(evicted) > 0 {
		metrics.SessionsEvicted.Add(float64(len(evicted)))
		log.Printf("Evicted %d idle sessions", len(evicted))
	}
}

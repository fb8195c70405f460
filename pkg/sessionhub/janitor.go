package sessionhub

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSweepSchedule is how often the janitor looks for idle
	// sessions.
	DefaultSweepSchedule = "@every 10m"
	// DefaultIdleTTL is how long a session may sit untouched before
	// eviction.
	DefaultIdleTTL = time.Hour
)

// Janitor periodically evicts idle sessions from the hub. Transcripts
// survive eviction, so a swept session costs one rehydration on its
// next access.
type Janitor struct {
	hub      *Hub
	runner   *cron.Cron
	schedule string
	ttl      time.Duration
}

// NewJanitor builds a janitor over the hub. Empty schedule and zero
// ttl take the defaults.
func NewJanitor(hub *Hub, schedule string, ttl time.Duration) *Janitor {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Janitor{
		hub:      hub,
		runner:   cron.New(),
		schedule: schedule,
		ttl:      ttl,
	}
}

// Start registers the sweep and begins the schedule.
func (j *Janitor) Start() error {
	if _, err := j.runner.AddFunc(j.schedule, j.sweep); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	j.runner.Start()
	log.Info().Str("schedule", j.schedule).Dur("ttl", j.ttl).Msg("Janitor started")
	return nil
}

// Sweep runs one eviction pass immediately, outside the schedule.
func (j *Janitor) Sweep() int {
	return j.hub.EvictIdle(j.ttl)
}

func (j *Janitor) sweep() {
	evicted := j.hub.EvictIdle(j.ttl)
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("Janitor sweep finished")
	}
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.runner.Stop()
	<-ctx.Done()
	log.Info().Msg("Janitor stopped")
}

package monitoring

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// PanelSweeper drops panels idle for longer than a cutoff.
type PanelSweeper interface {
	Sweep(idle time.Duration) int
}

// EventRecorder stores audit events.
type EventRecorder interface {
	CreateEvent(eventType, level, message string, actor *string) error
}

// Sweeper discards abandoned admin panels on a cron schedule.
type Sweeper struct {
	panels   PanelSweeper
	events   EventRecorder
	idle     time.Duration
	schedule cron.Schedule
	done     chan struct{}
	stopped  chan struct{}
	now      func() time.Time
}

// NewSweeper creates a sweeper running on the standard cron expression expr.
func NewSweeper(panels PanelSweeper, events EventRecorder, expr string, idle time.Duration) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	return &Sweeper{
		panels:   panels,
		events:   events,
		idle:     idle,
		schedule: schedule,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Run sweeps at every scheduled time until Stop is called.
func (s *Sweeper) Run() {
	defer close(s.stopped)
	log.Info().Dur("idle_ttl", s.idle).Msg("Starting panel sweeper")

	for {
		now := s.now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-s.done:
			timer.Stop()
			log.Info().Msg("Stopping panel sweeper")
			return
		case <-timer.C:
			s.SweepOnce()
		}
	}
}

// Stop halts Run and waits for it to return.
func (s *Sweeper) Stop() {
	close(s.done)
	<-s.stopped
}

// SweepOnce drops idle panels now and returns how many went.
func (s *Sweeper) SweepOnce() int {
	n := s.panels.Sweep(s.idle)
	if n == 0 {
		return 0
	}
	log.Info().Int("dropped", n).Msg("Swept idle panels")
	if s.events != nil {
		msg := fmt.Sprintf("Discarded %d idle admin panel(s)", n)
		if err := s.events.CreateEvent("panel.sweep", "info", msg, nil); err != nil {
			log.Error().Err(err).Msg("Failed to record sweep event")
		}
	}
	return n
}

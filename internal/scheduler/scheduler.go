// Package scheduler publishes pipeline run requests on a cron schedule.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// TriggerSchedule marks runs requested by the scheduler.
const TriggerSchedule = "schedule"

// Scheduler fires run requests onto the event bus.
type Scheduler struct {
	bus   domain.EventBus
	cron  *cron.Cron
	spec  string
	entry cron.EntryID
	now   func() time.Time
}

// New parses the expression and prepares a scheduler. Six-field expressions
// (with seconds) and descriptors such as "@every 1h" are accepted.
func New(spec string, bus domain.EventBus) (*Scheduler, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: scheduler requires an event bus", domain.ErrInvalidInput)
	}
	s := &Scheduler{
		bus:  bus,
		cron: cron.New(cron.WithSeconds()),
		spec: spec,
		now:  time.Now,
	}
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schedule %q: %v", domain.ErrInvalidInput, spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "schedule", s.spec, "next", s.Next())
}

// Stop halts the schedule and waits for an in-flight publish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// Next reports the next activation, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.Trigger(ctx); err != nil {
		slog.Error("failed to publish scheduled run", "error", err)
	}
}

// Trigger publishes one run request immediately and returns it.
func (s *Scheduler) Trigger(ctx context.Context) (domain.RunRequest, error) {
	req := domain.RunRequest{
		RunID:       uuid.New().String(),
		Trigger:     TriggerSchedule,
		RequestedAt: s.now().UTC(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return req, err
	}
	if err := s.bus.Publish(ctx, domain.TopicRunRequested, payload); err != nil {
		return req, fmt.Errorf("failed to publish run request: %w", err)
	}
	slog.Info("scheduled run requested", "run_id", req.RunID)
	return req, nil
}

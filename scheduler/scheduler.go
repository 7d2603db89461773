// Package scheduler enqueues ingestion jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"newspipe/config"
	"newspipe/logging"
	"newspipe/queue"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler publishes the job of each schedule entry when its cron expression fires.
type Scheduler struct {
	cron      *cron.Cron
	publisher queue.Publisher
	entries   map[cron.EntryID]config.ScheduleEntry
	mu        sync.Mutex
	log       *logging.Entry
}

// New creates a Scheduler. Pass cron options such as cron.WithLocation to override
// the default of local time.
func New(publisher queue.Publisher, opts ...cron.Option) *Scheduler {
	return &Scheduler{
		cron:      cron.New(opts...),
		publisher: publisher,
		entries:   map[cron.EntryID]config.ScheduleEntry{},
		log:       logging.For("scheduler"),
	}
}

// Add registers entry and returns its id.
func (s *Scheduler) Add(entry config.ScheduleEntry) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(entry.Cron, func() { s.Enqueue(context.Background(), entry) })
	if err != nil {
		return 0, fmt.Errorf("failed to add schedule %q: %w", entry.Name, err)
	}
	s.entries[id] = entry
	return id, nil
}

// Load registers every entry of sched.
func (s *Scheduler) Load(sched *config.Schedule) error {
	for _, e := range sched.Schedules {
		if _, err := s.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue publishes the job of entry immediately.
func (s *Scheduler) Enqueue(ctx context.Context, entry config.ScheduleEntry) {
	job := entry.Job()
	log := s.log.WithFields(logrus.Fields{"schedule": entry.Name, "query": job.Query, "source": job.Source})

	id, err := queue.PublishJob(ctx, s.publisher, job)
	if err != nil {
		log.WithError(err).Error("scheduled_enqueue_failed")
		return
	}
	log.WithField("message_id", id).Info("scheduled_job_enqueued")
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("schedules", s.Len()).Info("scheduler_started")
}

// Stop stops the cron loop and waits for running enqueues to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

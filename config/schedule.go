package config

import (
	"errors"
	"fmt"
	"os"

	"newspipe/types"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ScheduleEntry enqueues Job every time Cron fires.
type ScheduleEntry struct {
	Name     string `yaml:"name"`
	Cron     string `yaml:"cron"`
	Query    string `yaml:"query"`
	Limit    *int   `yaml:"limit"`
	Language string `yaml:"language"`
	Source   string `yaml:"source"`
}

// Job returns the ingestion job of the entry with defaults applied. An omitted
// limit means DefaultLimit; an explicit 0 fails validation.
func (e ScheduleEntry) Job() types.IngestionJob {
	limit := types.DefaultLimit
	if e.Limit != nil {
		limit = *e.Limit
	}
	return types.IngestionJob{
		Query:    e.Query,
		Limit:    limit,
		Language: e.Language,
		Source:   e.Source,
	}.WithDefaults()
}

// Schedule is the document stored in SCHEDULE_FILE.
type Schedule struct {
	Schedules []ScheduleEntry `yaml:"schedules"`
}

// Validate checks every cron expression and job.
func (s *Schedule) Validate() error {
	var errs []error
	for i, e := range s.Schedules {
		label := e.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if _, err := cron.ParseStandard(e.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: cron %q: %w", label, e.Cron, err))
		}
		if err := e.Job().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

// LoadSchedule reads and validates a YAML schedule file.
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

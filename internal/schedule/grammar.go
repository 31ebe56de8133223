// Package schedule implements the recurring-export half of the pipeline:
// the schedule grammar (named shortcuts or cron expressions) and the
// engine that discovers due definitions, drives an export and emails the
// artifact.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/bulk/internal/job"
)

// Named schedule shortcuts. Each is a fixed offset from the reference
// time: daily is exactly 24h, weekly 7 days, monthly one calendar month.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// cronParser accepts standard 5-field expressions (minute hour dom month
// dow).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a parsed schedule expression.
type Schedule struct {
	expr  string
	named string
	spec  cron.Schedule
}

// Parse validates a schedule expression: one of the named shortcuts or a
// 5-field cron expression. Malformed input fails with job.ErrInvalidSchedule.
func Parse(expr string) (*Schedule, error) {
	normalized := strings.ToLower(strings.TrimSpace(expr))

	switch normalized {
	case "":
		return nil, fmt.Errorf("%w: empty expression", job.ErrInvalidSchedule)
	case Daily, Weekly, Monthly:
		return &Schedule{expr: expr, named: normalized}, nil
	}

	spec, err := cronParser.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", job.ErrInvalidSchedule, expr, err)
	}
	return &Schedule{expr: expr, spec: spec}, nil
}

// Validate reports whether expr is a well-formed schedule.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Next returns the first run time strictly after from.
func (s *Schedule) Next(from time.Time) time.Time {
	switch s.named {
	case Daily:
		return from.Add(24 * time.Hour)
	case Weekly:
		return from.Add(7 * 24 * time.Hour)
	case Monthly:
		return from.AddDate(0, 1, 0)
	}
	return s.spec.Next(from)
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expr }

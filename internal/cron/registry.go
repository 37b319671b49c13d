package cron

import (
	"context"
	"time"
)

// Job is one housekeeping sweep run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its cadence.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry keeps jobs in registration order.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register schedules job every interval; a non-positive interval falls back
// to the service default.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Entries returns a copy of the schedule.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

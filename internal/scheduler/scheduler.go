// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Handler is the callback invoked when a scheduled prompt fires.
type Handler func(p *Prompt)

// Scheduler evaluates cron expressions from the prompt store and fires
// prompts through a handler callback.
type Scheduler struct {
	store   *PromptStore
	handler Handler
	cron    *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler backed by the given prompt store. The handler is
// called each time a scheduled prompt fires.
func New(store *PromptStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads prompts from the store, registers enabled prompts that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	prompts, err := s.store.List()
	if err != nil {
		return err
	}

	for _, p := range prompts {
		if p.Schedule == "" || !p.Enabled {
			continue
		}

		prompt := p
		_, err := s.cron.AddFunc(prompt.Schedule, func() {
			slog.Info("cron firing prompt", "name", prompt.Name)
			s.handler(prompt)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", prompt.Name, "schedule", prompt.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled prompt", "name", prompt.Name, "schedule", prompt.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Cron manages different jobs which require interval based execution.
type Cron struct {
	scheduler gocron.Scheduler

	jobs  map[string]uuid.UUID
	mutex sync.Mutex
}

// NewCron creates and starts an empty Cron instance.
func NewCron() (*Cron, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	scheduler.Start()

	return &Cron{
		scheduler: scheduler,
		jobs:      make(map[string]uuid.UUID),
	}, nil
}

// Stop this Cron. This method is only allowed to be called once.
func (cron *Cron) Stop() {
	if err := cron.scheduler.Shutdown(); err != nil {
		log.WithError(err).Warn("Shutting down cron scheduler errored")
	}
}

// Register a new task by its name, function and interval. The interval must be
// at least one second. A task is not started again while still running.
func (cron *Cron) Register(name string, task func(), interval time.Duration) error {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	if _, exists := cron.jobs[name]; exists {
		return fmt.Errorf("a job named %s is already registered", name)
	}

	if interval < time.Second {
		return fmt.Errorf("given interval %v is shorter than a second", interval)
	}

	job, err := cron.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			log.WithFields(log.Fields{
				"job":      name,
				"interval": interval,
			}).Debug("Cron executes job")

			task()
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
	if err != nil {
		return err
	}

	cron.jobs[name] = job.ID()
	return nil
}

// Unregister a task by its name.
func (cron *Cron) Unregister(name string) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	id, exists := cron.jobs[name]
	if !exists {
		return
	}

	if err := cron.scheduler.RemoveJob(id); err != nil {
		log.WithError(err).WithField("job", name).Warn("Removing cron job errored")
	}
	delete(cron.jobs, name)
}
